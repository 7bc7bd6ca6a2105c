package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisTurnAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// redisTurnRateLimiter es una ventana fija compartida entre instancias.
type redisTurnRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
	logger *zap.Logger
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

func NewRedisTurnRateLimiter(client *redis.Client, window time.Duration, max int, logger *zap.Logger) TurnRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisTurnRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "turn:rl:",
		logger: logger,
	}
}

func (l *redisTurnRateLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisTurnAllowScript, []string{l.prefix + normalizedKey}, seconds).Int()
	if err != nil {
		l.logger.Warn("turn rate limiter unavailable, allowing", zap.Error(err))
		return true
	}
	return count <= l.max
}
