package results

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// entry is a record together with the time it was last stored.
type entry struct {
	record    Record
	updatedAt time.Time
}

// Memory is a thread-safe in-memory Store. A background goroutine (Run)
// periodically evicts records that have not been refreshed within the TTL.
// A zero TTL disables expiry.
type Memory struct {
	mu   sync.RWMutex
	data map[key]*entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		data: make(map[key]*entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the record for (r.DeviceID, r.Period).
func (m *Memory) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key{r.DeviceID, r.Period}] = &entry{record: r, updatedAt: m.now()}
	return nil
}

// List returns records refreshed within the TTL, ordered by device ID and
// then by window length. Stale records that have not yet been evicted are
// excluded.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-m.ttl)
	out := make([]Record, 0, len(m.data))
	for _, e := range m.data {
		if m.ttl == 0 || e.updatedAt.After(cutoff) {
			out = append(out, e.record)
		}
	}
	Sort(out)
	return out, nil
}

// Count returns the number of records held, including stale ones.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Evict removes records older than now minus TTL and returns how many
// were removed.
func (m *Memory) Evict(now time.Time) int {
	if m.ttl == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.ttl)
	removed := 0
	for k, e := range m.data {
		if !e.updatedAt.After(cutoff) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// Run starts the eviction loop. It ticks at half the TTL (minimum 1 second)
// and blocks until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	if m.ttl == 0 {
		<-ctx.Done()
		return
	}
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Evict(now); n > 0 {
				slog.Debug("results: evicted stale records", "count", n)
			}
		}
	}
}

// Sort orders records by device ID, then by window length.
func Sort(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DeviceID != rs[j].DeviceID {
			return rs[i].DeviceID < rs[j].DeviceID
		}
		return rs[i].Window < rs[j].Window
	})
}
