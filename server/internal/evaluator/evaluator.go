package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/reachability/server/internal/alerts"
	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/metrics"
	"github.com/obsidianstack/reachability/server/internal/publish"
	"github.com/obsidianstack/reachability/server/internal/results"
	"github.com/obsidianstack/reachability/server/internal/store"
)

// Summary counts what one cycle produced.
type Summary struct {
	Devices   int
	Records   int
	Undefined int
	Failed    int
}

// Evaluator computes availability for every device on a schedule.
type Evaluator struct {
	devices store.DeviceSource
	calc    *availability.Calculator
	results results.Store
	config  func() *config.Config

	metrics   *metrics.Metrics
	publisher publish.Publisher
	alerts    *alerts.Engine
	now       func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMetrics exports every record through m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Evaluator) { e.metrics = m } }

// WithPublisher publishes every record through p.
func WithPublisher(p publish.Publisher) Option { return func(e *Evaluator) { e.publisher = p } }

// WithAlerts feeds every device's records to a.
func WithAlerts(a *alerts.Engine) Option { return func(e *Evaluator) { e.alerts = a } }

// WithClock sets the clock Run uses for each tick.
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// New returns an Evaluator. cfg is called once per cycle so that a
// configuration reload applies from the next cycle on.
func New(devices store.DeviceSource, calc *availability.Calculator, res results.Store, cfg func() *config.Config, opts ...Option) *Evaluator {
	e := &Evaluator{
		devices:   devices,
		calc:      calc,
		results:   res,
		config:    cfg,
		publisher: publish.Nop{},
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// cycle is the configuration snapshot used for one run.
type cycle struct {
	now          time.Time
	policy       availability.Policy
	precision    int
	periods      []availability.Period
	queryTimeout time.Duration
}

// RunOnce evaluates every device as of now. It only returns an error when
// the device list cannot be read or ctx is cancelled.
func (e *Evaluator) RunOnce(ctx context.Context, now time.Time) (Summary, error) {
	cfg := e.config()
	c := cycle{
		now:          now,
		policy:       cfg.Availability.EffectivePolicy(),
		precision:    cfg.Availability.Precision,
		periods:      cfg.Availability.EffectivePeriods(),
		queryTimeout: cfg.Storage.QueryTimeout,
	}

	devices, err := e.devices.Devices(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("evaluator: list devices: %w", err)
	}

	var (
		mu  sync.Mutex
		sum = Summary{Devices: len(devices)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Availability.Workers, 1))
	for _, d := range devices {
		g.Go(func() error {
			recs, failed := e.evaluateDevice(gctx, d, c)
			mu.Lock()
			sum.Records += len(recs)
			sum.Failed += failed
			for _, r := range recs {
				if !r.Availability.Defined {
					sum.Undefined++
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if e.metrics != nil {
		e.metrics.CycleDone(now, e.now())
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// evaluateDevice computes every period for d and fans the records out.
// It returns the records it produced and the number of failed periods.
func (e *Evaluator) evaluateDevice(ctx context.Context, d availability.Device, c cycle) ([]results.Record, int) {
	recs := make([]results.Record, 0, len(c.periods))
	failed := 0
	for _, p := range c.periods {
		res, err := e.compute(ctx, d, p, c)
		if err != nil {
			failed++
			if e.metrics != nil {
				e.metrics.Failed()
			}
			if !errors.Is(err, context.Canceled) {
				slog.Warn("evaluator: availability failed", "device", d.ID, "period", p, "err", err)
			}
			continue
		}
		r := results.Record{
			DeviceID:     d.ID,
			Period:       p,
			Window:       p.Seconds(),
			Policy:       c.policy,
			Availability: res,
			EvaluatedAt:  c.now,
		}
		recs = append(recs, r)

		if err := e.results.Put(ctx, r); err != nil {
			slog.Warn("evaluator: store result failed", "device", d.ID, "period", p, "err", err)
		}
		if e.metrics != nil {
			e.metrics.Observe(r)
		}
		if err := e.publisher.Publish(ctx, r); err != nil {
			slog.Warn("evaluator: publish failed", "device", d.ID, "period", p, "err", err)
		}
	}
	if e.alerts != nil {
		e.alerts.Evaluate(d.ID, recs)
	}
	return recs, failed
}

func (e *Evaluator) compute(ctx context.Context, d availability.Device, p availability.Period, c cycle) (availability.Result, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}
	return e.calc.ForPeriod(ctx, d, p, c.precision,
		availability.WithNow(c.now),
		availability.WithPolicy(c.policy),
	)
}

// Run evaluates immediately and then on every interval tick until ctx is
// cancelled. The interval is re-read after each cycle so that a reload
// can change it.
func (e *Evaluator) Run(ctx context.Context) {
	for {
		e.runLogged(ctx)

		interval := e.config().Availability.Interval
		if interval <= 0 {
			interval = config.DefaultInterval
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (e *Evaluator) runLogged(ctx context.Context) {
	started := e.now()
	sum, err := e.RunOnce(ctx, started)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("evaluator: cycle failed", "err", err)
		}
		return
	}
	slog.Info("evaluator: cycle complete",
		"devices", sum.Devices,
		"records", sum.Records,
		"undefined", sum.Undefined,
		"failed", sum.Failed,
		"duration", e.now().Sub(started).String(),
	)
}
