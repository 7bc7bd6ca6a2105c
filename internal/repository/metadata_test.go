package repository

import (
	"testing"

	"chat-relay/internal/domain"
)

func TestEncodeMetadata_Nil(t *testing.T) {
	raw, err := encodeMetadata(nil)
	if err != nil || raw != nil {
		t.Fatalf("expected nil,nil got %v,%v", raw, err)
	}
}

func TestDecodeMetadata_Invalid(t *testing.T) {
	bad := "{not json"
	if _, err := decodeMetadata(&bad); err == nil {
		t.Fatalf("expected decode error")
	}
	empty := ""
	meta, err := decodeMetadata(&empty)
	if err != nil || meta != nil {
		t.Fatalf("expected empty metadata to decode as nil, got %+v %v", meta, err)
	}
}

func TestEncodeMetadata_PendingShape(t *testing.T) {
	raw, err := encodeMetadata(&domain.MessageMetadata{Status: domain.MessageStatusPending})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if *raw != `{"status":"pending"}` {
		t.Fatalf("unexpected encoding %s", *raw)
	}
}
