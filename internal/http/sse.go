package http

import (
	"sync"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/domain"
)

// sseSink escribe los eventos de un turno como Server-Sent Events.
type sseSink struct {
	c       *gin.Context
	mu      sync.Mutex
	started bool
	closed  bool
}

func newSSESink(c *gin.Context) *sseSink {
	return &sseSink{c: c}
}

func (s *sseSink) Send(ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.c.Request.Context().Err() != nil {
		return domain.ErrConnectionClosed
	}
	if !s.started {
		h := s.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.started = true
	}

	s.c.SSEvent(ev.Type, ev.Data)
	if s.c.IsAborted() {
		s.closed = true
		return domain.ErrConnectionClosed
	}
	s.c.Writer.Flush()
	return nil
}

func (s *sseSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
