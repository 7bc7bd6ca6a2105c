package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

// Subscriber recibe sobres de broadcast publicados en un canal de Redis.
type Subscriber struct {
	client     *redis.Client
	channel    string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewSubscriber(logger *zap.Logger, client *redis.Client, channel string, dispatcher *Dispatcher) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, channel: channel, dispatcher: dispatcher, logger: logger}
}

// Run escucha hasta que ctx se cancela.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("listening for broadcasts", zap.String("channel", s.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) int {
	var req domain.BroadcastRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("ignoring malformed broadcast", zap.Error(err))
		return 0
	}
	delivered, err := s.dispatcher.Deliver(ctx, req)
	if err != nil {
		s.logger.Warn("ignoring broadcast", zap.Error(err))
		return 0
	}
	return delivered
}
