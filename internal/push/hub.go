package push

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/newsfeed"
)

// maxControlFrameBytes acota la memoria por frame entrante; por encima de
// este tamano gorilla corta la conexion.
const maxControlFrameBytes = 1 << 20

type HubOptions struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	ControlTimeout time.Duration
}

// Hub atiende el ciclo de vida de cada conexion permanente.
type Hub struct {
	registry *Registry
	newsfeed newsfeed.Client
	logger   *zap.Logger
	opts     HubOptions
}

func NewHub(logger *zap.Logger, registry *Registry, feed newsfeed.Client, opts HubOptions) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = newsfeed.NewDisabledClient("")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = 5 * time.Second
	}
	return &Hub{registry: registry, newsfeed: feed, logger: logger, opts: opts}
}

// ServeConn envia el ack, registra la conexion y lee frames de control hasta
// que el cliente se va. Bloquea durante toda la vida de la conexion.
func (h *Hub) ServeConn(ctx context.Context, userID string, ws *websocket.Conn) {
	conn := NewWSConn(ws, h.opts.WriteTimeout)
	logger := h.logger.With(zap.String("user_id", userID))

	ack := domain.ConnectionAck{Type: domain.FrameConnection, Status: domain.StatusConnected, UserID: userID}
	if err := conn.SendJSON(ctx, ack); err != nil {
		logger.Warn("send connection ack", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.registry.Register(userID, conn)
	logger.Info("standing connection opened", zap.Int("connections", h.registry.Len()))
	defer func() {
		h.registry.Unregister(userID, conn)
		_ = conn.Close()
		logger.Info("standing connection closed")
	}()

	ws.SetReadLimit(maxControlFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.keepAlive(conn, stopPing)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read standing connection", zap.Error(err))
			}
			return
		}
		h.handleControl(ctx, logger, userID, conn, data)
	}
}

func (h *Hub) keepAlive(conn *WSConn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PongTimeout * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

// handleControl responde a suscripciones. Un frame mal formado se ignora.
func (h *Hub) handleControl(ctx context.Context, logger *zap.Logger, userID string, conn *WSConn, data []byte) {
	var msg domain.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("ignoring malformed control frame", zap.Error(err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, h.opts.ControlTimeout)
	defer cancel()

	var (
		reply domain.ControlReply
		res   newsfeed.SubscriptionResult
		err   error
	)
	switch msg.Type {
	case domain.FrameSubscribeNews:
		reply.Type = domain.FrameNewsSubscription
		res, err = h.newsfeed.Subscribe(callCtx, userID)
	case domain.FrameUnsubscribeNews:
		reply.Type = domain.FrameNewsUnsubscription
		res, err = h.newsfeed.Unsubscribe(callCtx, userID)
	default:
		logger.Debug("ignoring control frame", zap.String("type", msg.Type))
		return
	}

	if err != nil {
		logger.Warn("newsfeed control request failed", zap.String("type", msg.Type), zap.Error(err))
		reply.Status = domain.StatusError
		reply.Message = "news service is currently unavailable"
	} else {
		reply.Status = res.Status
		if reply.Status == "" {
			reply.Status = domain.StatusSuccess
		}
		reply.Message = res.Message
		reply.NextUpdate = res.NextUpdate
	}

	if err := conn.SendJSON(ctx, reply); err != nil && !errors.Is(err, domain.ErrConnectionClosed) {
		logger.Warn("send control reply", zap.Error(err))
	}
}
