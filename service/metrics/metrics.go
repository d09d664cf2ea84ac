// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PChatCore/module/chat/model"
	"PChatCore/service/presence"
	"PChatCore/tools/errs"
)

const namespace = "pchat"

// Metrics 实现 chat.Observer
type Metrics struct {
	reg prometheus.Registerer

	connsOpened   prometheus.Counter
	connsClosed   *prometheus.CounterVec
	authenticated prometheus.Counter
	evicted       prometheus.Counter
	roomJoins     *prometheus.CounterVec
	roomLeaves    *prometheus.CounterVec
	events        *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
	dropped       *prometheus.CounterVec
	relayed       *prometheus.CounterVec
	connLifetime  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		connsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections_opened_total",
			Help: "WebSocket connections accepted.",
		}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections_closed_total",
			Help: "WebSocket connections closed, by reason.",
		}, []string{"reason"}),
		authenticated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "authenticated_total",
			Help: "Connections that completed authentication.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "evicted_total",
			Help: "Connections evicted by the per-user limit.",
		}),
		roomJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "room_joins_total",
			Help: "Room joins; first=true when the user became present.",
		}, []string{"first"}),
		roomLeaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "room_leaves_total",
			Help: "Room leaves; last=true when the user became absent.",
		}, []string{"last"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "events_total",
			Help: "Inbound events handled, by event and result kind.",
		}, []string{"event", "kind"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ws", Name: "event_duration_seconds",
			Help:    "Inbound event handling latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "frames_dropped_total",
			Help: "Outbound frames dropped because a connection's send queue was full.",
		}, []string{"event"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "frames_relayed_total",
			Help: "Frames exchanged with other nodes.",
		}, []string{"direction"}),
		connLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connection_lifetime_seconds",
			Help:    "How long connections stayed open.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(
		m.connsOpened, m.connsClosed, m.authenticated, m.evicted,
		m.roomJoins, m.roomLeaves, m.events, m.eventLatency,
		m.dropped, m.relayed, m.connLifetime,
	)
	return m
}

// WatchPresence 在线快照以 gauge 形式按抓取时计算
func (m *Metrics) WatchPresence(stats func() presence.Stats) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "users",
			Help: "Users with at least one registered connection.",
		}, func() float64 { return float64(stats().Users) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "connections",
			Help: "Registered connections.",
		}, func() float64 { return float64(stats().Connections) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "rooms",
			Help: "Rooms with at least one present user.",
		}, func() float64 { return float64(stats().Rooms) }),
	)
}

// WatchExporter kafka 导出计数
func (m *Metrics) WatchExporter(stats func() (sent, failed, dropped int64)) {
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "sent_total",
			Help: "Domain events acknowledged by Kafka.",
		}, func() float64 { s, _, _ := stats(); return float64(s) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "failed_total",
			Help: "Domain events Kafka rejected or that failed to encode.",
		}, func() float64 { _, f, _ := stats(); return float64(f) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "dropped_total",
			Help: "Domain events dropped because the producer queue was full or closed.",
		}, func() float64 { _, _, d := stats(); return float64(d) }),
	)
}

// ===== chat.Observer =====

func (m *Metrics) ConnOpened(model.ConnID, string) { m.connsOpened.Inc() }

func (m *Metrics) Authenticated(model.ConnID, model.UserID) { m.authenticated.Inc() }

func (m *Metrics) ConnClosed(_ model.ConnID, _ model.UserID, reason string, lived time.Duration) {
	m.connsClosed.WithLabelValues(reasonLabel(reason)).Inc()
	m.connLifetime.Observe(lived.Seconds())
}

func (m *Metrics) Evicted(model.ConnID, model.UserID) { m.evicted.Inc() }

func (m *Metrics) RoomJoined(_ model.ConnID, _ model.UserID, _ model.RoomID, first bool) {
	m.roomJoins.WithLabelValues(strconv.FormatBool(first)).Inc()
}

func (m *Metrics) RoomLeft(_ model.ConnID, _ model.UserID, _ model.RoomID, last bool) {
	m.roomLeaves.WithLabelValues(strconv.FormatBool(last)).Inc()
}

func (m *Metrics) EventHandled(event string, code int, took time.Duration) {
	kind := "ok"
	if code != 0 {
		kind = errs.CodeName(code)
	}
	m.events.WithLabelValues(event, kind).Inc()
	m.eventLatency.WithLabelValues(event).Observe(took.Seconds())
}

func (m *Metrics) FrameDropped(_ model.ConnID, event string) {
	m.dropped.WithLabelValues(event).Inc()
}

func (m *Metrics) Relayed(_ string, inbound bool) {
	dir := "out"
	if inbound {
		dir = "in"
	}
	m.relayed.WithLabelValues(dir).Inc()
}

// reasonLabel 把自由文本的关闭原因收敛为有限的标签值
func reasonLabel(reason string) string {
	switch reason {
	case "peer closed", "read timeout", "frame too large", "auth failed", "auth timeout",
		"evicted", "server shutdown", "too many malformed frames", "disconnect":
		return reason
	}
	return "other"
}

// Handler /metrics
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
