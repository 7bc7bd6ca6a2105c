package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_PATH", "/tmp/relay.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTPPort != "5000" {
		t.Fatalf("expected default port 5000, got %q", cfg.HTTPPort)
	}
	if cfg.LLMDefaultModel != "deepseek-r1-250120" {
		t.Fatalf("unexpected default model %q", cfg.LLMDefaultModel)
	}
	if cfg.StreamFirstChunkTimeout != 30*time.Second || cfg.StreamMaxDuration != 5*time.Minute {
		t.Fatalf("unexpected stream timeouts: %v %v", cfg.StreamFirstChunkTimeout, cfg.StreamMaxDuration)
	}
	if cfg.PushChannel != "push:broadcast" {
		t.Fatalf("unexpected push channel %q", cfg.PushChannel)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("STREAM_MAX_DURATION", "90s")
	t.Setenv("TURN_RATE_LIMIT", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.StreamMaxDuration != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.StreamMaxDuration)
	}
	if cfg.TurnRateLimit != 3 {
		t.Fatalf("expected rate limit 3, got %d", cfg.TurnRateLimit)
	}
}
