package repository

import (
	"encoding/json"
	"fmt"

	"chat-relay/internal/domain"
)

// La metadata se guarda como texto JSON; solo esta capa conoce ese formato.
func encodeMetadata(meta *domain.MessageMetadata) (*string, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeMetadata(raw *string) (*domain.MessageMetadata, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var meta domain.MessageMetadata
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}
