package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/reachability/server/internal/results"
)

// Evaluation outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeUndefined = "undefined"
	OutcomeError     = "error"
)

// Metrics bundles the collectors updated by the evaluator.
type Metrics struct {
	Availability      *prometheus.GaugeVec
	EvaluationsTotal  *prometheus.CounterVec
	CycleDurationSec  prometheus.Histogram
	LastCycleUnixTime prometheus.Gauge
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reachability_device_availability_percent",
			Help: "Latest availability percentage per device, period and policy.",
		}, []string{"device", "period", "policy"}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachability_evaluations_total",
			Help: "Availability calculations by outcome.",
		}, []string{"outcome"}),
		CycleDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reachability_evaluation_duration_seconds",
			Help:    "Duration of one evaluation cycle over all devices.",
			Buckets: prometheus.DefBuckets,
		}),
		LastCycleUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reachability_last_evaluation_timestamp_seconds",
			Help: "Unix time of the last completed evaluation cycle.",
		}),
	}

	registry.MustRegister(
		m.Availability,
		m.EvaluationsTotal,
		m.CycleDurationSec,
		m.LastCycleUnixTime,
	)
	return m
}

// Observe records one computed value. An undefined result removes the
// gauge series so dashboards show a gap instead of a stale number.
func (m *Metrics) Observe(r results.Record) {
	labels := prometheus.Labels{
		"device": r.DeviceID,
		"period": string(r.Period),
		"policy": string(r.Policy),
	}
	v, ok := r.Availability.Value()
	if !ok {
		m.Availability.Delete(labels)
		m.EvaluationsTotal.WithLabelValues(OutcomeUndefined).Inc()
		return
	}
	m.Availability.With(labels).Set(v)
	m.EvaluationsTotal.WithLabelValues(OutcomeOK).Inc()
}

// Failed counts one calculation that returned an error.
func (m *Metrics) Failed() {
	m.EvaluationsTotal.WithLabelValues(OutcomeError).Inc()
}

// CycleDone records the duration and completion time of one cycle.
func (m *Metrics) CycleDone(started, finished time.Time) {
	m.CycleDurationSec.Observe(finished.Sub(started).Seconds())
	m.LastCycleUnixTime.Set(float64(finished.Unix()))
}
