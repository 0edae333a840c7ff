// Package metrics exposes ledger instruments through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pointledger"

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	committed        *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	replayed         prometheus.Counter
	conflictRetries  prometheus.Counter
	notifyFailures   prometheus.Counter
	commitDuration   *prometheus.HistogramVec
	lowBalanceEvents prometheus.Counter
}

// New registers the ledger instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_committed_total",
			Help:      "Committed ledger transactions by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_rejected_total",
			Help:      "Rejected ledger requests by reason.",
		}, []string{"operation", "reason"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_replayed_total",
			Help:      "Requests answered from an earlier transaction with the same reference id.",
		}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_retries_total",
			Help:      "Ledger operations retried after a concurrency conflict.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Low balance notifications that could not be delivered.",
		}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		lowBalanceEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_balance_events_total",
			Help:      "Low balance threshold crossings.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.committed,
			m.rejected,
			m.replayed,
			m.conflictRetries,
			m.notifyFailures,
			m.commitDuration,
			m.lowBalanceEvents,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) Committed(txType string) {
	if m == nil {
		return
	}
	m.committed.WithLabelValues(txType).Inc()
}

func (m *Metrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.replayed.Inc()
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) LowBalance() {
	if m == nil {
		return
	}
	m.lowBalanceEvents.Inc()
}

func (m *Metrics) ObserveCommit(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.commitDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
