package chat

import (
	"sync"
	"testing"
	"time"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConn(id string, at time.Time) *WsConn {
	return newWsConn(model.ConnID(id), nil, 4, at)
}

func newTestManager(conf ManagerConf) *ConnManager {
	if conf.UnauthTTL == 0 {
		conf.UnauthTTL = time.Hour
	}
	return NewConnManager(conf)
}

func TestConnManagerAddUnauth(t *testing.T) {
	m := newTestManager(ManagerConf{})
	defer m.Close("test")

	if err := m.AddUnauth(testConn("c1", t0)); err != nil {
		t.Fatal(err)
	}
	if err := m.AddUnauth(testConn("c1", t0)); !errs.IsConflict(err) {
		t.Fatalf("dup err=%v", err)
	}
	if err := m.AddUnauth(testConn("", t0)); !errs.IsBadRequest(err) {
		t.Fatalf("empty id err=%v", err)
	}
	if conns, users := m.Count(); conns != 1 || users != 0 {
		t.Fatalf("count=%d/%d", conns, users)
	}
}

func TestConnManagerBindEvictsOldest(t *testing.T) {
	m := newTestManager(ManagerConf{MaxPerUser: 2, EvictOldest: true})
	defer m.Close("test")

	for i, id := range []string{"a", "b", "c"} {
		c := testConn(id, t0.Add(time.Duration(i)*time.Second))
		c.bind(model.User{ID: "alice"})
		if err := m.AddUnauth(c); err != nil {
			t.Fatal(err)
		}
	}
	if ev, err := m.BindUser("a", "alice"); err != nil || ev != nil {
		t.Fatalf("bind a: %v %v", ev, err)
	}
	if ev, err := m.BindUser("b", "alice"); err != nil || ev != nil {
		t.Fatalf("bind b: %v %v", ev, err)
	}
	// 重复绑定无副作用
	if ev, err := m.BindUser("b", "alice"); err != nil || ev != nil {
		t.Fatalf("rebind b: %v %v", ev, err)
	}
	ev, err := m.BindUser("c", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.ID != "a" {
		t.Fatalf("evicted=%v", ev)
	}
	got := m.ListUserConns("alice")
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("conns=%v", got)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("evicted conn still indexed")
	}
}

func TestConnManagerLimitWithoutEviction(t *testing.T) {
	m := newTestManager(ManagerConf{MaxPerUser: 1})
	defer m.Close("test")

	for _, id := range []string{"a", "b"} {
		if err := m.AddUnauth(testConn(id, t0)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.BindUser("a", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.BindUser("b", "alice"); errs.Code(err) != errs.RateLimitedError {
		t.Fatalf("err=%v", err)
	}
	if _, err := m.BindUser("zzz", "alice"); !errs.IsNotFound(err) {
		t.Fatalf("unknown conn err=%v", err)
	}
}

func TestConnManagerRemove(t *testing.T) {
	m := newTestManager(ManagerConf{})
	defer m.Close("test")

	c := testConn("a", t0)
	c.bind(model.User{ID: "alice"})
	_ = m.AddUnauth(c)
	_, _ = m.BindUser("a", "alice")

	if !m.Remove("a") {
		t.Fatal("remove existing")
	}
	if m.Remove("a") {
		t.Fatal("remove twice")
	}
	if conns, users := m.Count(); conns != 0 || users != 0 {
		t.Fatalf("count=%d/%d", conns, users)
	}
	if c.Closed() {
		t.Fatal("Remove must not close the conn")
	}
}

func TestConnManagerSweepUnauth(t *testing.T) {
	var (
		mu      sync.Mutex
		expired []model.ConnID
	)
	m := newTestManager(ManagerConf{
		UnauthTTL: 10 * time.Second,
		OnExpire: func(c *WsConn) {
			mu.Lock()
			expired = append(expired, c.ID)
			mu.Unlock()
		},
	})
	defer m.Close("test")

	old := testConn("old", t0)
	fresh := testConn("fresh", t0.Add(8*time.Second))
	authed := testConn("authed", t0)
	authed.bind(model.User{ID: "bob"})
	for _, c := range []*WsConn{old, fresh, authed} {
		_ = m.AddUnauth(c)
	}

	if n := m.sweepOnce(t0.Add(10 * time.Second)); n != 1 {
		t.Fatalf("expired=%d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expired=%v", expired)
	}
}

func TestConnManagerSweepDefaultCloses(t *testing.T) {
	m := newTestManager(ManagerConf{UnauthTTL: time.Second})
	defer m.Close("test")

	c := testConn("a", t0)
	_ = m.AddUnauth(c)
	m.sweepOnce(t0.Add(2 * time.Second))
	if !c.Closed() || c.Reason() != "auth timeout" {
		t.Fatalf("closed=%v reason=%q", c.Closed(), c.Reason())
	}
	// 已关闭的不会再次回调
	if n := m.sweepOnce(t0.Add(3 * time.Second)); n != 0 {
		t.Fatalf("second sweep=%d", n)
	}
}

func TestConnManagerCloseAll(t *testing.T) {
	m := newTestManager(ManagerConf{})
	a, b := testConn("a", t0), testConn("b", t0)
	_ = m.AddUnauth(a)
	_ = m.AddUnauth(b)
	m.Close("bye")
	m.Close("again")
	if a.Reason() != "bye" || b.Reason() != "bye" {
		t.Fatalf("reasons=%q %q", a.Reason(), b.Reason())
	}
}

func TestWsConnEnqueue(t *testing.T) {
	c := newWsConn("q", nil, 1, t0)
	if !c.Enqueue([]byte("1")) {
		t.Fatal("first enqueue")
	}
	if c.Enqueue([]byte("2")) {
		t.Fatal("queue should be full")
	}
	c.Close("x")
	<-c.send
	if c.Enqueue([]byte("3")) {
		t.Fatal("enqueue after close")
	}
}
