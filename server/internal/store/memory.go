package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// Memory is a thread-safe in-memory device and outage store.
type Memory struct {
	mu      sync.RWMutex
	devices map[string]availability.Device
	outages map[string][]availability.Outage // kept sorted by StartedAt
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		devices: make(map[string]availability.Device),
		outages: make(map[string][]availability.Outage),
	}
}

// PutDevice stores or replaces d.
func (m *Memory) PutDevice(d availability.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

// AddOutage records o for deviceID. Outages are not merged or validated.
func (m *Memory) AddOutage(deviceID string, o availability.Outage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.outages[deviceID], o)
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartedAt < list[j].StartedAt })
	m.outages[deviceID] = list
}

// Outages returns the outages of deviceID that ended at or after cutoff or
// are still ongoing, ordered by StartedAt. The slice is a copy.
func (m *Memory) Outages(_ context.Context, deviceID string, cutoff int64) ([]availability.Outage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []availability.Outage
	for _, o := range m.outages[deviceID] {
		if o.EndedAt == nil || *o.EndedAt >= cutoff {
			out = append(out, o)
		}
	}
	return out, nil
}

// Devices returns all devices ordered by ID.
func (m *Memory) Devices(_ context.Context) ([]availability.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]availability.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Device returns the device with the given ID, or ErrNotFound.
func (m *Memory) Device(_ context.Context, id string) (availability.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return availability.Device{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}

// fixture is the on-disk layout read by LoadFixture.
type fixture struct {
	Devices []struct {
		ID string `yaml:"id"`
		// Uptime is decoded loosely so that "unknown" or an empty value
		// yields a device with no numeric uptime.
		Uptime  any                   `yaml:"uptime"`
		Outages []availability.Outage `yaml:"outages"`
	} `yaml:"devices"`
}

// LoadFixture reads devices and their outages from a YAML file:
//
//	devices:
//	  - id: core-sw-1
//	    uptime: 86400
//	    outages:
//	      - {started_at: 1767200000, ended_at: 1767203600, prior_uptime: 120}
func (m *Memory) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read fixture %q: %w", path, err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("store: parse fixture %q: %w", path, err)
	}
	for i, d := range fx.Devices {
		if d.ID == "" {
			return fmt.Errorf("store: fixture devices[%d]: id is required", i)
		}
		m.PutDevice(availability.Device{ID: d.ID, Uptime: availability.ParseUptime(d.Uptime)})
		for _, o := range d.Outages {
			m.AddOutage(d.ID, o)
		}
	}
	return nil
}
