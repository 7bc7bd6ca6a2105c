package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chat-relay/internal/domain"
)

const defaultBroadcastConcurrency = 32

// Dispatcher entrega payloads a las conexiones registradas.
type Dispatcher struct {
	registry    *Registry
	logger      *zap.Logger
	concurrency int
}

func NewDispatcher(logger *zap.Logger, registry *Registry, concurrency int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultBroadcastConcurrency
	}
	return &Dispatcher{registry: registry, logger: logger, concurrency: concurrency}
}

// Broadcast envia payload a cada usuario conectado y devuelve cuantas
// entregas tuvieron exito. Usuarios sin conexion se omiten en silencio.
func (d *Dispatcher) Broadcast(ctx context.Context, userIDs []string, payload []byte) int {
	var (
		delivered atomic.Int64
		g         errgroup.Group
		seen      = make(map[string]struct{}, len(userIDs))
	)
	g.SetLimit(d.concurrency)

	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		conn, ok := d.registry.Lookup(userID)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := conn.Send(ctx, payload); err != nil {
				d.logger.Warn("push delivery failed", zap.String("user_id", userID), zap.Error(err))
				if errors.Is(err, domain.ErrConnectionClosed) {
					d.registry.Unregister(userID, conn)
				}
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("broadcast finished",
		zap.Int("requested", len(userIDs)),
		zap.Int64("delivered", delivered.Load()),
	)
	return int(delivered.Load())
}

// SendScheduledNews envuelve el contenido en un frame scheduled_news.
func (d *Dispatcher) SendScheduledNews(ctx context.Context, userIDs []string, content string) (int, error) {
	payload, err := json.Marshal(domain.ScheduledNews{Type: domain.FrameScheduledNews, Content: content})
	if err != nil {
		return 0, fmt.Errorf("marshal scheduled news: %w", err)
	}
	return d.Broadcast(ctx, userIDs, payload), nil
}

// Deliver atiende un sobre de broadcast tal como llega del planificador.
func (d *Dispatcher) Deliver(ctx context.Context, req domain.BroadcastRequest) (int, error) {
	if len(req.Message) == 0 || string(req.Message) == "null" {
		return 0, fmt.Errorf("%w: message required", domain.ErrInvalidInput)
	}
	var content string
	if err := json.Unmarshal(req.Message, &content); err == nil {
		return d.SendScheduledNews(ctx, req.UserIDs, content)
	}
	return d.Broadcast(ctx, req.UserIDs, req.Message), nil
}
