package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
// DatabaseURL (Postgres) tiene prioridad; sin ella se usa SQLite en DatabasePath.
type Config struct {
	HTTPPort     string `env:"HTTP_PORT" envDefault:"5000"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/chat-relay.db"`

	LLMAPIKey       string        `env:"LLM_API_KEY"`
	LLMBaseURL      string        `env:"LLM_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	LLMHealthPath   string        `env:"LLM_HEALTH_PATH" envDefault:"/health"`
	LLMProbeOff     bool          `env:"LLM_PROBE_DISABLED" envDefault:"false"`
	LLMDefaultModel string        `env:"LLM_DEFAULT_MODEL" envDefault:"deepseek-r1-250120"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	ModelsFile      string        `env:"MODELS_FILE"`

	StreamFirstChunkTimeout time.Duration `env:"STREAM_FIRST_CHUNK_TIMEOUT" envDefault:"30s"`
	StreamMaxDuration       time.Duration `env:"STREAM_MAX_DURATION" envDefault:"5m"`
	TurnRateLimit           int           `env:"TURN_RATE_LIMIT" envDefault:"20"`
	TurnRateWindow          time.Duration `env:"TURN_RATE_WINDOW" envDefault:"1m"`

	NewsfeedURL     string        `env:"NEWSFEED_URL"`
	NewsfeedTimeout time.Duration `env:"NEWSFEED_TIMEOUT" envDefault:"3s"`

	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	WSPongTimeout  time.Duration `env:"WS_PONG_TIMEOUT" envDefault:"60s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	PushChannel   string `env:"PUSH_CHANNEL" envDefault:"push:broadcast"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
