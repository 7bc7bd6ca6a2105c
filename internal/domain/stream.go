package domain

// Chunk es un incremento de texto del proveedor; nunca se persiste por separado.
type Chunk struct {
	Delta string
	Model *ModelIdentity
}

// Tipos de evento enviados al cliente durante un turno en streaming.
const (
	EventInit   = "init"
	EventUpdate = "update"
	EventDone   = "done"
	EventError  = "error"
)

type StreamEvent struct {
	Type string
	Data any
}

type InitEvent struct {
	UserMessage        Message `json:"userMessage"`
	AssistantMessageID string  `json:"assistantMessageId"`
}

type UpdateEvent struct {
	DeltaText     string         `json:"deltaText"`
	ModelIdentity *ModelIdentity `json:"modelIdentity,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// TurnRequest es la entrada de un turno de chat.
type TurnRequest struct {
	Content string
	ModelID string
	Stream  bool
}

// TurnResult es la respuesta de un turno sin streaming.
type TurnResult struct {
	UserMessage      Message `json:"userMessage"`
	AssistantMessage Message `json:"assistantMessage"`
}
