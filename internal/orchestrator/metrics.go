package orchestrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report dispatch activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatches       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	retries          prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
	inflight         prometheus.Gauge
	halts            *prometheus.CounterVec
}

// MustNewMetrics constructs a Metrics instance registered with reg (the
// default registerer if nil). Collectors that are already registered are
// reused, so building several orchestrators against one registry is safe.
// Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const namespace = "taskflow"

	return &Metrics{
		dispatches: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Worker dispatches started, by executor.",
			},
			[]string{"executor"},
		)),
		dispatchFailures: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_failures_total",
				Help:      "Dispatches that resolved as a failed attempt, by reason.",
			},
			[]string{"reason"},
		)),
		retries: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Failed attempts that returned a task to pending.",
			},
		)),
		dispatchDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Wall-clock duration of resolved dispatches.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"outcome"},
		)),
		inflight: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_dispatches",
				Help:      "Dispatches currently awaiting a result.",
			},
		)),
		halts: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_halts_total",
				Help:      "Orchestrator runs that halted, by outcome.",
			},
			[]string{"outcome"},
		)),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveDispatch records a started dispatch.
func (m *Metrics) ObserveDispatch(executor string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(executor).Inc()
	m.inflight.Inc()
}

// ObserveResolved records a resolved dispatch. outcome is "completed",
// "retrying", "failed" or "interrupted".
func (m *Metrics) ObserveResolved(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.dispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "retrying" {
		m.retries.Inc()
	}
}

// IncFailure counts a failed attempt. reason is "executor_error",
// "unsuccessful" or "self_reported".
func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(reason).Inc()
}

// IncHalt counts a halted run.
func (m *Metrics) IncHalt(outcome Outcome) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(string(outcome)).Inc()
}
