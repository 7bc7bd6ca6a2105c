package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/newsfeed"
)

// Conn es la conexion permanente de un usuario. Las implementaciones deben ser
// comparables (punteros) porque el registro las compara por identidad.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry asocia cada usuario con a lo sumo una conexion viva.
type Registry struct {
	mu            sync.RWMutex
	conns         map[string]Conn
	notifier      newsfeed.Client
	notifyTimeout time.Duration
	logger        *zap.Logger
	pending       sync.WaitGroup
}

func NewRegistry(logger *zap.Logger, notifier newsfeed.Client, notifyTimeout time.Duration) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = newsfeed.NewDisabledClient("")
	}
	if notifyTimeout <= 0 {
		notifyTimeout = 3 * time.Second
	}
	return &Registry{
		conns:         make(map[string]Conn),
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
	}
}

// Register instala la conexion. Una conexion previa del mismo usuario se
// desaloja y se cierra.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	prev, had := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if had && prev != conn {
		r.logger.Info("evicting previous connection", zap.String("user_id", userID))
		if err := prev.Close(); err != nil {
			r.logger.Debug("close evicted connection", zap.String("user_id", userID), zap.Error(err))
		}
	}
	r.notify("register", userID, r.notifier.RegisterUser)
}

// Lookup devuelve la conexion actual del usuario.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Unregister quita la entrada. Con conn no nil solo la quita si sigue siendo
// la conexion registrada, para que el cierre de una conexion desalojada no
// borre a su sucesora. Devuelve si hubo cambio.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || (conn != nil && current != conn) {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	r.notify("unregister", userID, r.notifier.UnregisterUser)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// notify avisa al planificador en segundo plano; los fallos solo se registran.
func (r *Registry) notify(action, userID string, fn func(context.Context, string) error) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()
		if err := fn(ctx, userID); err != nil {
			level := r.logger.Warn
			if errors.Is(err, newsfeed.ErrDisabled) {
				level = r.logger.Debug
			}
			level("newsfeed notification failed", zap.String("action", action), zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// Wait bloquea hasta que terminen las notificaciones en curso.
func (r *Registry) Wait() {
	r.pending.Wait()
}
