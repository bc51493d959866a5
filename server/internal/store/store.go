package store

import (
	"context"
	"errors"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// ErrNotFound is returned by DeviceSource.Device for an unknown ID.
var ErrNotFound = errors.New("store: device not found")

// OutageSource is satisfied by every backend in this package.
type OutageSource = availability.OutageSource

// DeviceSource lists monitored devices.
type DeviceSource interface {
	Devices(ctx context.Context) ([]availability.Device, error)
	Device(ctx context.Context, id string) (availability.Device, error)
}

// Source combines both read paths.
type Source interface {
	OutageSource
	DeviceSource
}
