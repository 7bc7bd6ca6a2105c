package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

func newTestDispatcher() (*Dispatcher, *Registry) {
	r := NewRegistry(zap.NewNop(), &mockNotifier{}, 0)
	return NewDispatcher(zap.NewNop(), r, 0), r
}

func TestDispatcher_BroadcastCountsDeliveries(t *testing.T) {
	d, r := newTestDispatcher()
	a, b := &mockConn{}, &mockConn{}
	r.Register("a", a)
	r.Register("b", b)

	n := d.Broadcast(context.Background(), []string{"a", "b", "a", "ghost", " "}, []byte(`{"x":1}`))
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if a.sentCount() != 1 || b.sentCount() != 1 {
		t.Fatalf("expected one frame per recipient, got a=%d b=%d", a.sentCount(), b.sentCount())
	}
	r.Wait()
}

func TestDispatcher_ClosedConnectionIsUnregistered(t *testing.T) {
	d, r := newTestDispatcher()
	dead := &mockConn{sendErr: domain.ErrConnectionClosed}
	flaky := &mockConn{sendErr: errors.New("temporary")}
	r.Register("dead", dead)
	r.Register("flaky", flaky)

	if n := d.Broadcast(context.Background(), []string{"dead", "flaky"}, []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
	if _, ok := r.Lookup("dead"); ok {
		t.Fatalf("closed connection must be unregistered")
	}
	if _, ok := r.Lookup("flaky"); !ok {
		t.Fatalf("non-closed failures keep the registration")
	}
	r.Wait()
}

func TestDispatcher_SlowRecipientDoesNotBlockOthers(t *testing.T) {
	d, r := newTestDispatcher()
	slow := &mockConn{block: make(chan struct{})}
	fast := &mockConn{}
	r.Register("slow", slow)
	r.Register("fast", fast)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	n := d.Broadcast(ctx, []string{"slow", "fast"}, []byte("x"))
	if n != 1 || fast.sentCount() != 1 {
		t.Fatalf("expected fast recipient served, got n=%d", n)
	}
	close(slow.block)
	r.Wait()
}

func TestDispatcher_SendScheduledNewsFrame(t *testing.T) {
	d, r := newTestDispatcher()
	conn := &mockConn{}
	r.Register("u1", conn)

	if _, err := d.SendScheduledNews(context.Background(), []string{"u1"}, "digest"); err != nil {
		t.Fatalf("send: %v", err)
	}
	var frame domain.ScheduledNews
	if err := json.Unmarshal(conn.sent[0], &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != domain.FrameScheduledNews || frame.Content != "digest" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	r.Wait()
}

func TestDispatcher_DeliverPassesObjectsThrough(t *testing.T) {
	d, r := newTestDispatcher()
	conn := &mockConn{}
	r.Register("u1", conn)

	raw := json.RawMessage(`{"type":"custom","value":3}`)
	n, err := d.Deliver(context.Background(), domain.BroadcastRequest{UserIDs: []string{"u1"}, Message: raw})
	if err != nil || n != 1 {
		t.Fatalf("expected one delivery, got %d %v", n, err)
	}
	if string(conn.sent[0]) != string(raw) {
		t.Fatalf("expected payload untouched, got %s", conn.sent[0])
	}

	if _, err := d.Deliver(context.Background(), domain.BroadcastRequest{UserIDs: []string{"u1"}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty message, got %v", err)
	}
	if _, err := d.Deliver(context.Background(), domain.BroadcastRequest{UserIDs: []string{"u1"}, Message: json.RawMessage("null")}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for null message, got %v", err)
	}
	r.Wait()
}

func TestSubscriber_HandleIgnoresMalformed(t *testing.T) {
	d, r := newTestDispatcher()
	conn := &mockConn{}
	r.Register("u1", conn)
	s := NewSubscriber(zap.NewNop(), nil, "push:broadcast", d)

	if n := s.handle(context.Background(), []byte("{nope")); n != 0 {
		t.Fatalf("expected malformed envelope ignored")
	}
	if n := s.handle(context.Background(), []byte(`{"userIds":["u1"],"message":"hola"}`)); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	r.Wait()
}
