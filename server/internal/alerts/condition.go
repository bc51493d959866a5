package alerts

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/results"
)

// evalCondition evaluates a rule condition against one device's records.
//
// Supported expressions (field operator value):
//
//	day < 99.9
//	week <= 99.5
//	month < 99
//	year < 98
//	undefined == true
//
// A period comparison only fires on a defined result. "undefined" is true
// when any of the device's records has no defined value.
//
// Returns (fires, triggering value, ok). ok is false when the expression
// cannot be parsed or the device has no record for the period; the rule's
// state is then left unchanged.
func evalCondition(cond string, recs []results.Record) (bool, float64, bool) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0, false
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "undefined" {
		want, err := strconv.ParseBool(rhs)
		if err != nil || len(recs) == 0 {
			return false, 0, false
		}
		undef := false
		for _, r := range recs {
			if !r.Availability.Defined {
				undef = true
				break
			}
		}
		switch op {
		case "==":
			return undef == want, 0, true
		case "!=":
			return undef != want, 0, true
		}
		return false, 0, false
	}

	period, err := availability.ParsePeriod(field)
	if err != nil {
		return false, 0, false
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0, false
	}
	for _, r := range recs {
		if r.Period != period {
			continue
		}
		v, defined := r.Availability.Value()
		if !defined {
			return false, 0, true
		}
		return compareFloat(v, op, threshold), v, true
	}
	return false, 0, false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

// validCondition reports whether cond parses as a supported expression.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return false
	}
	if parts[0] == "undefined" {
		_, err := strconv.ParseBool(parts[2])
		return err == nil && (parts[1] == "==" || parts[1] == "!=")
	}
	if _, err := availability.ParsePeriod(parts[0]); err != nil {
		return false
	}
	_, err := strconv.ParseFloat(parts[2], 64)
	return err == nil
}
