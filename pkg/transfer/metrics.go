package transfer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for transfer sessions.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// SessionsStarted counts sessions started, labeled by subsystem.
	SessionsStarted *prometheus.CounterVec

	// SessionsEnded counts finished sessions, labeled by subsystem and result.
	SessionsEnded *prometheus.CounterVec

	// Active tracks sessions in flight per subsystem.
	Active *prometheus.GaugeVec

	// BlocksSent counts data blocks handed to the protocol engine.
	BlocksSent *prometheus.CounterVec

	// BytesSent counts payload bytes handed to the protocol engine.
	BytesSent *prometheus.CounterVec

	// StaleCallbacks counts asynchronous callbacks dropped because their
	// session had already ended.
	StaleCallbacks *prometheus.CounterVec

	// Duration observes session lifetimes in seconds.
	Duration *prometheus.HistogramVec
}

// NewMetrics creates and registers transfer metrics with reg. If reg is nil,
// metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "sessions_started_total",
			Help:      "Total number of BDX transfer sessions started",
		}, []string{"subsystem"}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "sessions_ended_total",
			Help:      "Total number of BDX transfer sessions ended",
		}, []string{"subsystem", "result"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "sessions_active",
			Help:      "Current number of BDX transfer sessions in flight",
		}, []string{"subsystem"}),
		BlocksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "blocks_sent_total",
			Help:      "Total number of BDX data blocks sent",
		}, []string{"subsystem"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "bytes_sent_total",
			Help:      "Total number of BDX payload bytes sent",
		}, []string{"subsystem"}),
		StaleCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "stale_callbacks_total",
			Help:      "Asynchronous callbacks dropped after their session ended",
		}, []string{"subsystem"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matter",
			Subsystem: "bdx",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of BDX transfer sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~44min
		}, []string{"subsystem"}),
	}

	if reg != nil {
		register(reg, &m.SessionsStarted)
		register(reg, &m.SessionsEnded)
		register(reg, &m.Active)
		register(reg, &m.BlocksSent)
		register(reg, &m.BytesSent)
		register(reg, &m.StaleCallbacks)
		register(reg, &m.Duration)
	}

	return m
}

// register adds *c to reg. When an identical collector is already
// registered, *c is replaced by it so every Metrics sharing reg records
// into the exported series.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) {
	err := reg.Register(*c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		panic(err)
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		panic(err)
	}
	*c = existing
}

func (m *Metrics) recordStarted(subsystem string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(subsystem).Inc()
	m.Active.WithLabelValues(subsystem).Inc()
}

func (m *Metrics) recordEnded(subsystem string, err error, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(subsystem, resultLabel(err)).Inc()
	m.Active.WithLabelValues(subsystem).Dec()
	m.Duration.WithLabelValues(subsystem).Observe(lifetime.Seconds())
}

func (m *Metrics) recordBlock(subsystem string, n int) {
	if m == nil {
		return
	}
	m.BlocksSent.WithLabelValues(subsystem).Inc()
	m.BytesSent.WithLabelValues(subsystem).Add(float64(n))
}

func (m *Metrics) recordStale(subsystem string) {
	if m == nil {
		return
	}
	m.StaleCallbacks.WithLabelValues(subsystem).Inc()
}

// resultLabel maps a session's terminating error to a metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransferTimeout):
		return "timeout"
	case errors.Is(err, ErrInitTimeout):
		return "init_timeout"
	case errors.Is(err, ErrStatusReceived):
		return "peer_status"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	default:
		return "error"
	}
}
