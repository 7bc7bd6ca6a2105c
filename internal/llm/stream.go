package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"chat-relay/internal/domain"
)

// sseStream decodifica el framing SSE de chat completions: lineas "data: {...}"
// terminadas por "data: [DONE]".
type sseStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	identity  func(string) *domain.ModelIdentity
	done      bool
	sawFinish bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSSEStream(body io.ReadCloser, identity func(string) *domain.ModelIdentity) *sseStream {
	return &sseStream{
		body:     body,
		reader:   bufio.NewReaderSize(body, 16*1024),
		identity: identity,
	}
}

func (s *sseStream) Next() (domain.Chunk, error) {
	for {
		if s.closed.Load() {
			return domain.Chunk{}, ErrStreamClosed
		}
		if s.done {
			return domain.Chunk{}, io.EOF
		}
		line, eof, err := s.readLine()
		if err != nil {
			s.done = true
			if s.closed.Load() {
				return domain.Chunk{}, ErrStreamClosed
			}
			return domain.Chunk{}, fmt.Errorf("read stream: %w", err)
		}

		chunk, ok, err := s.parseLine(line)
		if err != nil {
			s.done = true
			return domain.Chunk{}, err
		}
		if ok {
			// Tras EOF el lector vuelve a dar "" y la siguiente llamada decide el cierre.
			return chunk, nil
		}
		if eof && !s.done {
			s.done = true
			if s.sawFinish {
				return domain.Chunk{}, io.EOF
			}
			return domain.Chunk{}, fmt.Errorf("%w: stream ended without terminator", ErrProviderProtocol)
		}
	}
}

// readLine devuelve la siguiente linea sin el salto; eof indica que el cuerpo terminó.
func (s *sseStream) readLine() (string, bool, error) {
	line, err := s.reader.ReadString('\n')
	if errors.Is(err, io.EOF) {
		if s.closed.Load() {
			return "", false, ErrStreamClosed
		}
		return strings.TrimRight(line, "\r\n"), true, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimRight(line, "\r\n"), false, nil
}

// parseLine devuelve ok=true solo para lineas que traen texto.
func (s *sseStream) parseLine(line string) (domain.Chunk, bool, error) {
	if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
		return domain.Chunk{}, false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		s.done = true
		return domain.Chunk{}, false, nil
	}

	var cc chatChunk
	if err := json.Unmarshal([]byte(data), &cc); err != nil {
		return domain.Chunk{}, false, fmt.Errorf("%w: decode chunk: %v", ErrProviderProtocol, err)
	}
	if cc.Error != nil {
		return domain.Chunk{}, false, fmt.Errorf("%w: %s", ErrProviderRequest, cc.Error.Message)
	}
	if len(cc.Choices) == 0 {
		return domain.Chunk{}, false, nil
	}
	choice := cc.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.sawFinish = true
	}
	if choice.Delta.Content == "" {
		return domain.Chunk{}, false, nil
	}
	return domain.Chunk{Delta: choice.Delta.Content, Model: s.identity(cc.Model)}, true, nil
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}

type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// sliceStream sirve chunks ya conocidos; modela la respuesta bloqueante como
// un stream de un solo chunk.
type sliceStream struct {
	mu     sync.Mutex
	chunks []domain.Chunk
	closed bool
}

// NewSingleChunkStream envuelve una respuesta completa en un stream de un chunk.
func NewSingleChunkStream(chunk domain.Chunk) ChunkStream {
	return &sliceStream{chunks: []domain.Chunk{chunk}}
}

func (s *sliceStream) Next() (domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Chunk{}, ErrStreamClosed
	}
	if len(s.chunks) == 0 {
		return domain.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
