package api

import (
	"github.com/obsidianstack/reachability/server/internal/alerts"
	"github.com/obsidianstack/reachability/server/internal/availability"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" when at least one device has a defined day value,
	// otherwise "unknown".
	State       string `json:"state"`
	DeviceCount int    `json:"device_count"`

	// MeanDayAvailability averages the defined day values; null when none.
	MeanDayAvailability *float64 `json:"mean_day_availability"`

	UndefinedCount int `json:"undefined_count"`
	AlertCount     int `json:"alert_count"`
}

// DeviceResponse is one device in GET /api/v1/devices and the snapshot.
type DeviceResponse struct {
	DeviceID     string                                       `json:"device_id"`
	Policy       availability.Policy                          `json:"policy"`
	Availability map[availability.Period]availability.Result `json:"availability"`
	EvaluatedAt  string                                       `json:"evaluated_at"` // RFC3339
}

// AvailabilityResponse is the payload for the ad-hoc calculation.
type AvailabilityResponse struct {
	DeviceID     string              `json:"device_id"`
	Period       availability.Period `json:"period,omitempty"`
	Window       int64               `json:"window"`
	Policy       availability.Policy `json:"policy"`
	Precision    int                 `json:"precision"`
	Now          int64               `json:"now"`
	Uptime       *int64              `json:"uptime"`
	Availability availability.Result `json:"availability"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Devices     []DeviceResponse `json:"devices"`
	Alerts      []*alerts.Alert  `json:"alerts"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
