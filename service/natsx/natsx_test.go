package natsx

import (
	"context"
	"testing"
	"time"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"))
	_ = h(context.Background(), NatsxMessage{})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "handler" {
		t.Fatalf("order = %v", order)
	}
}

func TestSkipOriginAndIdem(t *testing.T) {
	n := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		n++
		return nil
	}, NatsxSkipOrigin("node-1"), NatsxIdemMiddleware(NewMemIdem(time.Minute), 0))

	ctx := context.Background()
	_ = h(ctx, NatsxMessage{Header: map[string]string{HeaderOrigin: "node-1", "Nats-Msg-Id": "a"}})
	if n != 0 {
		t.Fatalf("own message delivered")
	}
	msg := NatsxMessage{Header: map[string]string{HeaderOrigin: "node-2", "Nats-Msg-Id": "b"}}
	_ = h(ctx, msg)
	_ = h(ctx, msg)
	if n != 1 {
		t.Fatalf("delivered %d times, want 1", n)
	}
}

func TestMemIdemExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mi := NewMemIdem(time.Second).(*memIdem)
	mi.now = func() time.Time { return now }

	if seen, _ := mi.SeenOnce("k", 0); seen {
		t.Fatal("fresh key seen")
	}
	if seen, _ := mi.SeenOnce("k", 0); !seen {
		t.Fatal("repeat key not seen")
	}
	now = now.Add(2 * time.Minute)
	if seen, _ := mi.SeenOnce("k", 0); seen {
		t.Fatal("expired key seen")
	}
	if len(mi.m) != 1 {
		t.Fatalf("sweep left %d keys", len(mi.m))
	}
}
