package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/results"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := results.Record{
		DeviceID:     "sw1",
		Period:       availability.Day,
		Policy:       availability.PolicyDecreasing,
		Availability: availability.Result{Percent: 99.5, Defined: true},
	}
	m.Observe(r)

	g := m.Availability.WithLabelValues("sw1", "day", "decreasing")
	if got := testutil.ToFloat64(g); got != 99.5 {
		t.Errorf("gauge = %v, want 99.5", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("ok count = %v, want 1", got)
	}

	r.Availability = availability.Undefined
	m.Observe(r)
	if n := testutil.CollectAndCount(m.Availability); n != 0 {
		t.Errorf("gauge series after undefined = %d, want 0", n)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues(OutcomeUndefined)); got != 1 {
		t.Errorf("undefined count = %v, want 1", got)
	}
}

func TestFailedAndCycle(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Failed()
	m.Failed()
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues(OutcomeError)); got != 2 {
		t.Errorf("error count = %v, want 2", got)
	}

	start := time.Unix(1767200000, 0)
	m.CycleDone(start, start.Add(2*time.Second))
	if got := testutil.ToFloat64(m.LastCycleUnixTime); got != 1767200002 {
		t.Errorf("last cycle = %v", got)
	}
	if n := testutil.CollectAndCount(m.CycleDurationSec); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
