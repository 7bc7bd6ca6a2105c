package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chat-relay/internal/domain"
)

type memChatRepo struct {
	mu      sync.Mutex
	chats   map[string]domain.Chat
	titleN  int
	listErr error
}

func newMemChatRepo(chats ...domain.Chat) *memChatRepo {
	r := &memChatRepo{chats: make(map[string]domain.Chat)}
	for _, c := range chats {
		r.chats[c.ID] = c
	}
	return r
}

func (r *memChatRepo) Create(_ context.Context, chat domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[chat.ID] = chat
	return nil
}

func (r *memChatRepo) GetByID(_ context.Context, id string) (domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return domain.Chat{}, domain.ErrNotFound
	}
	return c, nil
}

func (r *memChatRepo) ListByUserID(_ context.Context, userID string) ([]domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Chat
	for _, c := range r.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memChatRepo) SetDerivedTitle(_ context.Context, id, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.TitleDerived {
		return false, nil
	}
	c.Title = title
	c.TitleDerived = true
	r.chats[id] = c
	r.titleN++
	return true, nil
}

type memMessageRepo struct {
	mu        sync.Mutex
	messages  []domain.Message
	updates   int
	createErr error
	updateErr error
	// failUpdates hace fallar solo las primeras N actualizaciones.
	failUpdates int
	// failCreateAssistant rompe solo la insercion del placeholder.
	failCreateAssistant error
}

func (r *memMessageRepo) Create(_ context.Context, m domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if !m.IsUser && r.failCreateAssistant != nil {
		return r.failCreateAssistant
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, domain.ErrNotFound
}

func (r *memMessageRepo) ListByChatID(_ context.Context, chatID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) CountUserMessages(_ context.Context, chatID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.ChatID == chatID && m.IsUser {
			n++
		}
	}
	return n, nil
}

func (r *memMessageRepo) UpdateContent(_ context.Context, id, content string, meta *domain.MessageMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("update failed")
	}
	for i, m := range r.messages {
		if m.ID == id && !m.IsUser {
			r.messages[i].Content = content
			r.messages[i].Metadata = meta
			r.updates++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memMessageRepo) assistant() (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if !m.IsUser {
			return m, true
		}
	}
	return domain.Message{}, false
}

// recordingSink guarda los eventos; failAfter > 0 hace fallar el envio numero failAfter+1.
type recordingSink struct {
	mu        sync.Mutex
	events    []domain.StreamEvent
	failAfter int
	closed    bool
}

func (s *recordingSink) Send(ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return domain.ErrConnectionClosed
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
