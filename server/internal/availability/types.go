package availability

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Outage is one recorded interval during which a device was unreachable.
// Timestamps are epoch seconds.
type Outage struct {
	StartedAt int64 `json:"started_at" yaml:"started_at"`

	// EndedAt is nil while the device is still down.
	EndedAt *int64 `json:"ended_at,omitempty" yaml:"ended_at"`

	// PriorUptime is the continuous uptime the device had accumulated
	// immediately before this outage began. Only the oldest outage of a
	// query result is consulted.
	PriorUptime int64 `json:"prior_uptime" yaml:"prior_uptime"`
}

// Ongoing reports whether the outage has no recorded end.
func (o Outage) Ongoing() bool { return o.EndedAt == nil }

// Device is a read-only snapshot of a monitored entity.
type Device struct {
	ID string `json:"id" yaml:"id"`

	// Uptime is the continuous uptime in seconds as of "now".
	// nil means unknown or non-numeric.
	Uptime *int64 `json:"uptime,omitempty" yaml:"uptime"`
}

// Policy selects the availability accounting strategy.
type Policy string

const (
	PolicyIncreasing Policy = "increasing"
	PolicyDecreasing Policy = "decreasing"
)

// ParsePolicy converts s to a Policy. Matching is case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyIncreasing, PolicyDecreasing:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown policy %q, want increasing|decreasing", ErrInvalidArgument, s)
	}
}

// Result is an availability percentage, or the Undefined sentinel when the
// increasing policy has no uptime data to work with.
type Result struct {
	Percent float64
	Defined bool
}

// Undefined is returned when no numeric answer can be produced.
var Undefined = Result{}

// Value returns the percentage and whether it is defined.
func (r Result) Value() (float64, bool) { return r.Percent, r.Defined }

func (r Result) String() string {
	if !r.Defined {
		return "undefined"
	}
	return strconv.FormatFloat(r.Percent, 'f', -1, 64)
}

// MarshalJSON encodes an undefined result as null.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Percent)
}

// UnmarshalJSON accepts a number or null.
func (r *Result) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Undefined
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("availability: decode result: %w", err)
	}
	*r = percent(v)
	return nil
}

func percent(v float64) Result { return Result{Percent: v, Defined: true} }

// ParseUptime converts a loosely typed uptime value (as read from storage,
// a probe or a fixture) into seconds. Non-numeric values, NaN and
// infinities yield nil. Fractional seconds are truncated.
func ParseUptime(v any) *int64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		n := x
		return &n
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case *int64:
		if x == nil {
			return nil
		}
		n := *x
		return &n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= is the overflow edge.
	var n int64
	switch {
	case f >= math.MaxInt64:
		n = math.MaxInt64
	case f <= math.MinInt64:
		n = math.MinInt64
	default:
		n = int64(f)
	}
	return &n
}
