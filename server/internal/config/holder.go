package config

import (
	"sync/atomic"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// Holder publishes the active Config to concurrent readers.
type Holder struct {
	p atomic.Pointer[Config]
}

// NewHolder returns a Holder initialised with cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.p.Store(cfg)
	return h
}

// Get returns the active Config. Callers must not modify it.
func (h *Holder) Get() *Config { return h.p.Load() }

// Set replaces the active Config.
func (h *Holder) Set(cfg *Config) { h.p.Store(cfg) }

// Policy returns the active availability policy. It matches the
// func() availability.Policy shape the calculator expects.
func (h *Holder) Policy() availability.Policy {
	return h.Get().Availability.EffectivePolicy()
}
