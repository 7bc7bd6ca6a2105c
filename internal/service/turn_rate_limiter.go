package service

import (
	"strings"
	"sync"
	"time"
)

// TurnRateLimiter limita cuantos turnos puede iniciar un usuario por ventana.
type TurnRateLimiter interface {
	Allow(key string) bool
}

type turnRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
	// lastSweep marca la ultima limpieza de usuarios inactivos.
	lastSweep time.Time
}

// NewTurnRateLimiter crea un rate limiter en memoria de ventana deslizante.
func NewTurnRateLimiter(window time.Duration, max int) TurnRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &turnRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *turnRateLimiter) Allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	l.sweep(now, cutoff)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// sweep borra, como mucho una vez por ventana, las claves sin hits vigentes.
func (l *turnRateLimiter) sweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, entries := range l.hits {
		if len(entries) == 0 || !entries[len(entries)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}
