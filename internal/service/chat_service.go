package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/repository"
)

var (
	ErrChatServiceNotConfigured = errors.New("chat service not configured")
	// ErrPersistence envuelve cualquier fallo del almacenamiento.
	ErrPersistence = errors.New("persistence failure")
)

// ChatService es la puerta de persistencia de chats y mensajes.
type ChatService struct {
	logger   *zap.Logger
	chats    repository.ChatRepository
	messages repository.MessageRepository
	locks    *chatLocks
	now      func() time.Time
}

func NewChatService(logger *zap.Logger, chats repository.ChatRepository, messages repository.MessageRepository) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		logger:   logger,
		chats:    chats,
		messages: messages,
		locks:    newChatLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) ready() error {
	if s == nil || s.chats == nil || s.messages == nil {
		return ErrChatServiceNotConfigured
	}
	return nil
}

func (s *ChatService) CreateChat(ctx context.Context, userID, title string) (domain.Chat, error) {
	if err := s.ready(); err != nil {
		return domain.Chat{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Chat{}, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultChatTitle
	}

	chat := domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: s.now(),
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: create chat: %v", ErrPersistence, err)
	}
	return chat, nil
}

func (s *ChatService) GetChat(ctx context.Context, id string) (domain.Chat, error) {
	if err := s.ready(); err != nil {
		return domain.Chat{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Chat{}, fmt.Errorf("%w: chat id required", domain.ErrInvalidInput)
	}
	chat, err := s.chats.GetByID(ctx, id)
	if err != nil {
		return domain.Chat{}, wrapPersistence("get chat", err)
	}
	return chat, nil
}

// ListChats devuelve los chats del usuario, el mas reciente primero.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []domain.Chat{}, nil
	}
	chats, err := s.chats.ListByUserID(ctx, userID)
	if err != nil {
		return nil, wrapPersistence("list chats", err)
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return chats, nil
}

// ListMessages devuelve el historial del chat en orden de creacion.
func (s *ChatService) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChatID(ctx, strings.TrimSpace(chatID))
	if err != nil {
		return nil, wrapPersistence("list messages", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// SaveUserMessage persiste el mensaje del usuario. Si es el primero del chat,
// el titulo pasa a ser su contenido recortado.
func (s *ChatService) SaveUserMessage(ctx context.Context, chatID, content string) (domain.Message, error) {
	if err := s.ready(); err != nil {
		return domain.Message{}, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || strings.TrimSpace(content) == "" {
		return domain.Message{}, fmt.Errorf("%w: chat id and content required", domain.ErrInvalidInput)
	}

	unlock := s.locks.lock(chatID)
	defer unlock()

	prior, err := s.messages.CountUserMessages(ctx, chatID)
	if err != nil {
		return domain.Message{}, wrapPersistence("count user messages", err)
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Content:   content,
		IsUser:    true,
		CreatedAt: s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return domain.Message{}, wrapPersistence("create user message", err)
	}

	if prior == 0 {
		title := domain.DeriveChatTitle(content)
		if _, err := s.chats.SetDerivedTitle(ctx, chatID, title); err != nil {
			// El mensaje ya esta guardado; el titulo no bloquea el turno.
			s.logger.Warn("derive chat title failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return msg, nil
}

// OpenAssistantMessage inserta el placeholder vacio del asistente.
func (s *ChatService) OpenAssistantMessage(ctx context.Context, chatID string, model *domain.ModelIdentity) (domain.Message, error) {
	if err := s.ready(); err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    strings.TrimSpace(chatID),
		IsUser:    false,
		Metadata:  &domain.MessageMetadata{Status: domain.MessageStatusPending, Model: model},
		CreatedAt: s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return domain.Message{}, wrapPersistence("create assistant placeholder", err)
	}
	return msg, nil
}

// FinalizeAssistantMessage es la unica escritura del texto final de la respuesta.
func (s *ChatService) FinalizeAssistantMessage(ctx context.Context, msg domain.Message, content string, model *domain.ModelIdentity, status string) (domain.Message, error) {
	if err := s.ready(); err != nil {
		return domain.Message{}, err
	}
	meta := &domain.MessageMetadata{Status: status, Model: model}
	if err := s.messages.UpdateContent(ctx, msg.ID, content, meta); err != nil {
		return domain.Message{}, wrapPersistence("finalize assistant message", err)
	}
	msg.Content = content
	msg.Metadata = meta
	return msg, nil
}

func wrapPersistence(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// chatLocks serializa por chat dentro del proceso.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

func (l *chatLocks) lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &chatLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
