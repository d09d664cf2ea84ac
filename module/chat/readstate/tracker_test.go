package readstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/message"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/store/memstore"
	"PChatCore/tools/errs"
	"PChatCore/tools/ids"
)

var c1 = model.ChannelTarget("c1")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func setup(t *testing.T) (*Tracker, *message.Service, *clock) {
	t.Helper()
	mem := memstore.New()
	mem.PutChannel("c1", "w1")
	for _, u := range []model.UserID{"alice", "bob"} {
		mem.PutWorkspaceMember("w1", u, model.WorkspaceRoleMember)
		mem.PutChannelMember("c1", u, model.ChannelRoleMember)
	}
	oracle := access.NewOracle(mem)
	gen := ids.NewGenerator(4)
	resolver := conversation.NewResolver(mem, oracle, gen)
	clk := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	tr := NewTracker(mem, oracle, resolver)
	tr.now = clk.Now
	return tr, message.NewService(mem, oracle, resolver, gen, message.WithClock(clk.Now)), clk
}

func TestMarkReadIsMonotonic(t *testing.T) {
	tr, _, clk := setup(t)
	ctx := context.Background()
	t0 := clk.Now()

	m, err := tr.MarkRead(ctx, "bob", c1)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !m.At.Equal(t0) || m.Room != "channel:c1" || m.User != "bob" {
		t.Fatalf("mark = %+v", m)
	}

	clk.Set(t0.Add(-time.Hour))
	m, err = tr.MarkRead(ctx, "bob", c1)
	if err != nil {
		t.Fatalf("mark older: %v", err)
	}
	if !m.At.Equal(t0) {
		t.Fatalf("watermark moved back to %v", m.At)
	}
	w, err := tr.Watermark(ctx, "bob", c1)
	if err != nil || !w.Equal(t0) {
		t.Fatalf("watermark = %v, %v", w, err)
	}
}

func TestUnreadCount(t *testing.T) {
	tr, svc, clk := setup(t)
	ctx := context.Background()
	t0 := clk.Now()

	if n, err := tr.UnreadCount(ctx, "bob", c1); err != nil || n != 0 {
		t.Fatalf("fresh unread = %d, %v", n, err)
	}
	for i := 1; i <= 3; i++ {
		clk.Set(t0.Add(time.Duration(i) * time.Minute))
		if _, err := svc.SendMessage(ctx, "alice", c1, model.Draft{Content: "x"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	clk.Set(t0.Add(4 * time.Minute))
	if _, err := svc.SendMessage(ctx, "bob", c1, model.Draft{Content: "mine"}); err != nil {
		t.Fatalf("send own: %v", err)
	}
	// bob 自己发消息时水位推进到发送时间
	if n, err := tr.UnreadCount(ctx, "bob", c1); err != nil || n != 0 {
		t.Fatalf("after own send unread = %d, %v", n, err)
	}
	if n, err := tr.UnreadCount(ctx, "alice", c1); err != nil || n != 1 {
		t.Fatalf("alice unread = %d, %v", n, err)
	}

	clk.Set(t0.Add(10 * time.Minute))
	if _, err := tr.MarkRead(ctx, "alice", c1); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if n, _ := tr.UnreadCount(ctx, "alice", c1); n != 0 {
		t.Fatalf("alice unread after mark = %d", n)
	}
}

func TestMarkReadForbidden(t *testing.T) {
	tr, _, _ := setup(t)
	if _, err := tr.MarkRead(context.Background(), "mallory", c1); !errs.IsForbidden(err) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
}
