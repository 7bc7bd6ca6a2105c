package llm

import (
	"context"
	"io"
	"sync"

	"chat-relay/internal/domain"
)

// MockClient permite tests sin llamar a un LLM real. Cada Stream devuelve un
// MockStream que sirve Chunks y luego termina con Err (o io.EOF si es nil).
type MockClient struct {
	ProbeErr  error
	StreamErr error
	Chunks    []domain.Chunk
	Err       error
	// Hang deja el stream bloqueado tras los Chunks hasta Close o cancelacion.
	Hang bool

	mu       sync.Mutex
	requests []Request
	streams  []*MockStream
}

func (m *MockClient) Probe(ctx context.Context) error {
	return m.ProbeErr
}

func (m *MockClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	s := &MockStream{
		ctx:    ctx,
		chunks: append([]domain.Chunk(nil), m.Chunks...),
		err:    m.Err,
		hang:   m.Hang,
		closed: make(chan struct{}),
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// Requests devuelve las peticiones recibidas.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// LastStream devuelve el ultimo stream abierto o nil.
func (m *MockClient) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type MockStream struct {
	ctx       context.Context
	mu        sync.Mutex
	chunks    []domain.Chunk
	err       error
	hang      bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *MockStream) Next() (domain.Chunk, error) {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return domain.Chunk{}, ErrStreamClosed
	}
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	if s.hang {
		select {
		case <-s.closed:
			return domain.Chunk{}, ErrStreamClosed
		case <-s.ctx.Done():
			return domain.Chunk{}, s.ctx.Err()
		}
	}
	if s.err != nil {
		return domain.Chunk{}, s.err
	}
	return domain.Chunk{}, io.EOF
}

func (s *MockStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed indica si alguien llamo Close.
func (s *MockStream) Closed() bool {
	return s.isClosed()
}

func (s *MockStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
