package availability

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultPrecision is the number of decimal digits results are rounded to
// when the caller does not ask for something else.
const DefaultPrecision = 3

// Input is everything Compute needs. It is a value: Compute never mutates it.
type Input struct {
	Device Device

	// Outages must overlap the window and be ordered by StartedAt ascending.
	Outages []Outage

	// Window is the trailing window length in seconds. Must be positive.
	Window int64

	// Now is the reference time in epoch seconds.
	Now int64

	// Precision is the number of decimal digits to round to.
	Precision int

	Policy Policy
}

// Compute returns the availability percentage described by in.
//
// It returns an error wrapping ErrInvalidArgument for a non-positive window,
// a negative precision or an unknown policy. Missing uptime under the
// increasing policy is not an error: the result is Undefined.
func Compute(in Input) (Result, error) {
	if err := Validate(in.Window, in.Precision); err != nil {
		return Undefined, err
	}
	switch in.Policy {
	case PolicyDecreasing:
		return decreasing(in), nil
	case PolicyIncreasing:
		return increasing(in), nil
	default:
		return Undefined, fmt.Errorf("availability: %w: unknown policy %q", ErrInvalidArgument, in.Policy)
	}
}

// decreasing starts from 100% and subtracts recorded outage time.
func decreasing(in Input) Result {
	if len(in.Outages) == 0 {
		return percent(100)
	}
	down := OutageSeconds(in.Outages, in.Window, in.Now)
	return percent(round(100*float64(in.Window-down)/float64(in.Window), in.Precision))
}

// increasing starts from 0% and credits only time covered by recorded
// history: the continuous uptime when there are no outages, otherwise the
// span since tracking began before the oldest outage.
func increasing(in Input) Result {
	if in.Device.Uptime == nil {
		return Undefined
	}
	uptime := *in.Device.Uptime

	if len(in.Outages) == 0 {
		if uptime >= in.Window {
			return percent(100)
		}
		return percent(round(100*float64(uptime)/float64(in.Window), in.Precision))
	}

	oldest := in.Outages[0]
	recorded := in.Now - (oldest.StartedAt - oldest.PriorUptime)
	if recorded > in.Window {
		recorded = in.Window
	}
	down := OutageSeconds(in.Outages, in.Window, in.Now)
	return percent(round(100*float64(recorded-down)/float64(in.Window), in.Precision))
}

// MaxPrecision is the largest number of decimal digits a result can be
// rounded to. float64 carries no more than about 15 significant digits.
const MaxPrecision = 15

// Validate returns an error wrapping ErrInvalidArgument for a non-positive
// window or a precision outside [0, MaxPrecision].
func Validate(window int64, precision int) error {
	if window <= 0 {
		return fmt.Errorf("availability: %w: window must be positive, got %d", ErrInvalidArgument, window)
	}
	if precision < 0 {
		return fmt.Errorf("availability: %w: precision must not be negative, got %d", ErrInvalidArgument, precision)
	}
	if precision > MaxPrecision {
		return fmt.Errorf("availability: %w: precision must be at most %d, got %d", ErrInvalidArgument, MaxPrecision, precision)
	}
	return nil
}

// round rounds v half away from zero to precision decimal digits.
func round(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// OutageSource returns the outages of a device whose end (or ongoing state)
// is at or after cutoff, ordered by StartedAt ascending.
type OutageSource interface {
	Outages(ctx context.Context, deviceID string, cutoff int64) ([]Outage, error)
}

// Calculator fetches outages and dispatches to the configured policy.
//
// The policy function is called once per Availability call, so a
// configuration reload takes effect on the next calculation. Calculator
// holds no mutable state and is safe for concurrent use.
type Calculator struct {
	outages   OutageSource
	policy    func() Policy
	now       func() time.Time
	precision int
}

// CalculatorOption configures a Calculator at construction time.
type CalculatorOption func(*Calculator)

// WithClock replaces the wall clock used when no per-call "now" is given.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) { c.now = now }
}

// WithDefaultPrecision sets the precision used when no per-call precision
// is given.
func WithDefaultPrecision(p int) CalculatorOption {
	return func(c *Calculator) { c.precision = p }
}

// NewCalculator returns a Calculator reading outages from src and the
// process-wide policy from policy. A nil policy means decreasing.
func NewCalculator(src OutageSource, policy func() Policy, opts ...CalculatorOption) *Calculator {
	if policy == nil {
		policy = func() Policy { return PolicyDecreasing }
	}
	c := &Calculator{
		outages:   src,
		policy:    policy,
		now:       time.Now,
		precision: DefaultPrecision,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type callOptions struct {
	now       *time.Time
	policy    Policy
	precision *int
}

// Option overrides a calculator default for a single call.
type Option func(*callOptions)

// WithNow pins the reference time for one call.
func WithNow(t time.Time) Option {
	return func(o *callOptions) { o.now = &t }
}

// WithPolicy overrides the configured policy for one call.
func WithPolicy(p Policy) Option {
	return func(o *callOptions) { o.policy = p }
}

// WithPrecision overrides the rounding precision for one call.
func WithPrecision(p int) Option {
	return func(o *callOptions) { o.precision = &p }
}

// Availability returns the availability of d over the trailing window
// seconds.
//
// Arguments are validated before any outage query. Under the increasing
// policy a device with unknown uptime yields Undefined without querying.
func (c *Calculator) Availability(ctx context.Context, d Device, window int64, opts ...Option) (Result, error) {
	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	precision := c.precision
	if co.precision != nil {
		precision = *co.precision
	}
	if err := Validate(window, precision); err != nil {
		return Undefined, err
	}

	policy := co.policy
	if policy == "" {
		policy = c.policy()
	}
	if policy == PolicyIncreasing && d.Uptime == nil {
		return Undefined, nil
	}

	now := c.now()
	if co.now != nil {
		now = *co.now
	}
	ts := now.Unix()

	outages, err := c.outages.Outages(ctx, d.ID, ts-window)
	if err != nil {
		return Undefined, fmt.Errorf("availability: fetch outages for %q: %w", d.ID, err)
	}

	return Compute(Input{
		Device:    d,
		Outages:   outages,
		Window:    window,
		Now:       ts,
		Precision: precision,
		Policy:    policy,
	})
}
