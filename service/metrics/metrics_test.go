package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"PChatCore/service/chat"
	"PChatCore/service/presence"
	"PChatCore/tools/errs"
)

var _ chat.Observer = (*Metrics)(nil)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnOpened("c1", "127.0.0.1:1")
	m.Authenticated("c1", "alice")
	m.RoomJoined("c1", "alice", "channel:x", true)
	m.RoomJoined("c2", "alice", "channel:x", false)
	m.EventHandled("message:send", 0, time.Millisecond)
	m.EventHandled("message:send", errs.ForbiddenError, time.Millisecond)
	m.FrameDropped("c1", "message:new")
	m.Relayed("message:new", true)
	m.ConnClosed("c1", "alice", "read: boom", time.Minute)

	if got := testutil.ToFloat64(m.connsOpened); got != 1 {
		t.Fatalf("opened = %v", got)
	}
	if got := testutil.ToFloat64(m.roomJoins.WithLabelValues("true")); got != 1 {
		t.Fatalf("first joins = %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("message:send", "Forbidden")); got != 1 {
		t.Fatalf("forbidden events = %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("message:send", "ok")); got != 1 {
		t.Fatalf("ok events = %v", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("message:new")); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.connsClosed.WithLabelValues("other")); got != 1 {
		t.Fatalf("closed(other) = %v", got)
	}
}

func TestWatchersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchPresence(func() presence.Stats { return presence.Stats{Users: 2, Connections: 3, Rooms: 1} })
	m.WatchExporter(func() (int64, int64, int64) { return 5, 1, 0 })

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"pchat_presence_connections 3",
		"pchat_presence_users 2",
		"pchat_export_sent_total 5",
		"pchat_export_failed_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}
