package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/internal/domain"
)

// WSConn serializa las escrituras sobre un websocket y acota cada una con un deadline.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
	closeOnce    sync.Once
}

func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return domain.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		// Tras un error de escritura el websocket queda inutilizable.
		c.closed.Store(true)
		return fmt.Errorf("%w: %v", domain.ErrConnectionClosed, err)
	}
	return nil
}

func (c *WSConn) SendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(ctx, payload)
}

// Ping envia un control frame; WriteControl es seguro en paralelo con Send.
func (c *WSConn) Ping() error {
	if c.closed.Load() {
		return domain.ErrConnectionClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
