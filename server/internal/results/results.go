package results

import (
	"context"
	"time"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// Record is one computed availability value.
type Record struct {
	DeviceID     string              `json:"device_id"`
	Period       availability.Period `json:"period"`
	Window       int64               `json:"window"`
	Policy       availability.Policy `json:"policy"`
	Availability availability.Result `json:"availability"`
	EvaluatedAt  time.Time           `json:"evaluated_at"`
}

// Store holds the latest Record per device and period.
type Store interface {
	// Put stores or replaces the record for (r.DeviceID, r.Period).
	Put(ctx context.Context, r Record) error

	// List returns every live record.
	List(ctx context.Context) ([]Record, error)
}

type key struct {
	device string
	period availability.Period
}
