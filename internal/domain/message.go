package domain

import "time"

// Estados del mensaje del asistente.
const (
	MessageStatusPending  = "pending"
	MessageStatusComplete = "complete"
	MessageStatusFailed   = "failed"
)

type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	Content   string           `json:"content"`
	IsUser    bool             `json:"isUser"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// MessageMetadata reemplaza el blob JSON libre: solo se serializa en la capa de repositorio.
type MessageMetadata struct {
	Status string         `json:"status,omitempty"`
	Model  *ModelIdentity `json:"model,omitempty"`
}

// ModelIdentity identifica el modelo que genero (o esta generando) una respuesta.
type ModelIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pending indica si el mensaje sigue siendo un placeholder de asistente.
func (m Message) Pending() bool {
	return !m.IsUser && m.Metadata != nil && m.Metadata.Status == MessageStatusPending
}
