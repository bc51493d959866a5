package availability

import (
	"context"
	"fmt"
	"strings"
)

// Period is a named trailing window.
type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
	Year  Period = "year"
)

// Fixed window lengths in seconds. Month and year are the naive 30- and
// 365-day approximations and must stay that way for compatibility with
// previously stored results.
const (
	DaySeconds   int64 = 86400
	WeekSeconds  int64 = 604800
	MonthSeconds int64 = 2592000
	YearSeconds  int64 = 31536000
)

var periodSeconds = map[Period]int64{
	Day:   DaySeconds,
	Week:  WeekSeconds,
	Month: MonthSeconds,
	Year:  YearSeconds,
}

// Periods returns every named period, shortest first.
func Periods() []Period { return []Period{Day, Week, Month, Year} }

// Seconds returns the window length, or 0 for an unknown period.
func (p Period) Seconds() int64 { return periodSeconds[p] }

// ParsePeriod converts s to a Period. Matching is case-insensitive.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := periodSeconds[p]; !ok {
		return "", fmt.Errorf("%w: unknown period %q, want day|week|month|year", ErrInvalidArgument, s)
	}
	return p, nil
}

// Day returns the device's availability over the trailing 24 hours.
func (c *Calculator) Day(ctx context.Context, d Device, precision int) (Result, error) {
	return c.Availability(ctx, d, DaySeconds, WithPrecision(precision))
}

// Week returns the device's availability over the trailing 7 days.
func (c *Calculator) Week(ctx context.Context, d Device, precision int) (Result, error) {
	return c.Availability(ctx, d, WeekSeconds, WithPrecision(precision))
}

// Month returns the device's availability over the trailing 30 days.
func (c *Calculator) Month(ctx context.Context, d Device, precision int) (Result, error) {
	return c.Availability(ctx, d, MonthSeconds, WithPrecision(precision))
}

// Year returns the device's availability over the trailing 365 days.
func (c *Calculator) Year(ctx context.Context, d Device, precision int) (Result, error) {
	return c.Availability(ctx, d, YearSeconds, WithPrecision(precision))
}

// ForPeriod dispatches to the shortcut for p. Extra options are applied
// after the precision.
func (c *Calculator) ForPeriod(ctx context.Context, d Device, p Period, precision int, opts ...Option) (Result, error) {
	secs := p.Seconds()
	if secs == 0 {
		return Undefined, fmt.Errorf("availability: %w: unknown period %q", ErrInvalidArgument, p)
	}
	return c.Availability(ctx, d, secs, append([]Option{WithPrecision(precision)}, opts...)...)
}
