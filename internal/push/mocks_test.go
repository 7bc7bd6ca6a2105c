package push

import (
	"context"
	"sync"

	"chat-relay/internal/domain"
	"chat-relay/internal/newsfeed"
)

type mockConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
	// block retiene Send hasta que se cierre el canal.
	block chan struct{}
}

func (c *mockConn) Send(ctx context.Context, payload []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *mockConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type mockNotifier struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
	err          error
	subscribe    newsfeed.SubscriptionResult
	status       domain.SubscriptionStatus
}

func (n *mockNotifier) RegisterUser(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, userID)
	return n.err
}

func (n *mockNotifier) UnregisterUser(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unregistered = append(n.unregistered, userID)
	return n.err
}

func (n *mockNotifier) Subscribe(context.Context, string) (newsfeed.SubscriptionResult, error) {
	return n.subscribe, n.err
}

func (n *mockNotifier) Unsubscribe(context.Context, string) (newsfeed.SubscriptionResult, error) {
	return newsfeed.SubscriptionResult{Status: domain.StatusSuccess, Message: "unsubscribed"}, n.err
}

func (n *mockNotifier) Status(context.Context, string) (domain.SubscriptionStatus, error) {
	return n.status, n.err
}

func (n *mockNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.registered), len(n.unregistered)
}
