package domain

import "encoding/json"

// Tipos de frame sobre la conexion permanente.
const (
	FrameConnection         = "connection"
	FrameSubscribeNews      = "subscribe_news"
	FrameUnsubscribeNews    = "unsubscribe_news"
	FrameNewsSubscription   = "news_subscription"
	FrameNewsUnsubscription = "news_unsubscription"
	FrameScheduledNews      = "scheduled_news"
)

const (
	StatusConnected = "connected"
	StatusSuccess   = "success"
	StatusError     = "error"
)

// ConnectionAck se envia antes de cualquier otro trafico en la conexion.
type ConnectionAck struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	UserID string `json:"userId"`
}

type ControlMessage struct {
	Type string `json:"type"`
}

type ControlReply struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	NextUpdate string `json:"next_update,omitempty"`
}

type ScheduledNews struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// BroadcastRequest es el sobre que llega desde el planificador externo.
type BroadcastRequest struct {
	UserIDs []string        `json:"userIds"`
	Message json.RawMessage `json:"message"`
}

// SubscriptionStatus es el estado de suscripcion reportado por el planificador.
type SubscriptionStatus struct {
	Subscribed bool   `json:"subscribed"`
	NextUpdate string `json:"next_update,omitempty"`
}
