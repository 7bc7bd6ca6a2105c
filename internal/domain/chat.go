package domain

import "time"

// DefaultChatTitle es el titulo que lleva un chat hasta recibir su primer mensaje de usuario.
const DefaultChatTitle = "New chat"

// ChatTitleMaxRunes limita el titulo derivado del primer mensaje.
const ChatTitleMaxRunes = 50

type Chat struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	TitleDerived bool      `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DeriveChatTitle corta el contenido a los primeros 50 caracteres, sin marcador de truncado.
func DeriveChatTitle(content string) string {
	runes := []rune(content)
	if len(runes) > ChatTitleMaxRunes {
		runes = runes[:ChatTitleMaxRunes]
	}
	return string(runes)
}
