package syncchan

import "github.com/prometheus/client_golang/prometheus"

// Request outcome label values.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Metrics holds the channel's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reconnects    prometheus.Counter
	lateResponses prometheus.Counter
	requests      *prometheus.CounterVec
	pending       prometheus.Gauge
}

// NewMetrics creates and registers the channel collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadsync_channel_reconnects_total",
			Help: "Reconnect attempts scheduled after connection loss.",
		}),
		lateResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadsync_channel_late_responses_total",
			Help: "Responses dropped because their request already timed out.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threadsync_channel_requests_total",
			Help: "Remote requests by action and outcome.",
		}, []string{"action", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threadsync_channel_pending_requests",
			Help: "Requests currently awaiting a correlated response.",
		}),
	}
	reg.MustRegister(m.reconnects, m.lateResponses, m.requests, m.pending)
	return m
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) lateResponse() {
	if m == nil {
		return
	}
	m.lateResponses.Inc()
}

func (m *Metrics) requestObserved(action, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) pendingAdded() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) pendingRemoved() {
	if m == nil {
		return
	}
	m.pending.Dec()
}
