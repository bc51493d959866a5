package results

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func rec(device string, p availability.Period, v float64) Record {
	return Record{
		DeviceID:     device,
		Period:       p,
		Window:       p.Seconds(),
		Policy:       availability.PolicyDecreasing,
		Availability: availability.Result{Percent: v, Defined: true},
	}
}

func TestPutAndList(t *testing.T) {
	m := NewMemory(5 * time.Minute)
	ctx := context.Background()
	m.Put(ctx, rec("sw2", availability.Day, 99))  //nolint:errcheck
	m.Put(ctx, rec("sw1", availability.Week, 98)) //nolint:errcheck
	m.Put(ctx, rec("sw1", availability.Day, 97))  //nolint:errcheck

	got, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []struct {
		dev    string
		period availability.Period
	}{{"sw1", availability.Day}, {"sw1", availability.Week}, {"sw2", availability.Day}}
	if len(got) != len(want) {
		t.Fatalf("List: got %d records, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].DeviceID != w.dev || got[i].Period != w.period {
			t.Errorf("List[%d] = %s/%s, want %s/%s", i, got[i].DeviceID, got[i].Period, w.dev, w.period)
		}
	}
}

func TestPut_Overwrites(t *testing.T) {
	m := NewMemory(5 * time.Minute)
	ctx := context.Background()
	m.Put(ctx, rec("sw1", availability.Day, 90)) //nolint:errcheck
	m.Put(ctx, rec("sw1", availability.Day, 95)) //nolint:errcheck

	got, _ := m.List(ctx)
	if len(got) != 1 || got[0].Availability.Percent != 95 {
		t.Errorf("List after overwrite: %+v", got)
	}
}

func TestList_ExcludesStale(t *testing.T) {
	base := time.Now()
	m := NewMemory(5 * time.Minute)
	ctx := context.Background()

	m.now = fixedClock(base.Add(-10 * time.Minute))
	m.Put(ctx, rec("old", availability.Day, 1)) //nolint:errcheck

	m.now = fixedClock(base)
	m.Put(ctx, rec("new", availability.Day, 2)) //nolint:errcheck

	got, _ := m.List(ctx)
	if len(got) != 1 || got[0].DeviceID != "new" {
		t.Fatalf("List: got %+v, want only new", got)
	}
	if m.Count() != 2 {
		t.Errorf("Count: got %d, want 2 (stale kept until evicted)", m.Count())
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	m := NewMemory(5 * time.Minute)
	ctx := context.Background()

	m.now = fixedClock(base.Add(-6 * time.Minute))
	m.Put(ctx, rec("stale-1", availability.Day, 1))  //nolint:errcheck
	m.Put(ctx, rec("stale-2", availability.Week, 1)) //nolint:errcheck
	m.now = fixedClock(base)
	m.Put(ctx, rec("live", availability.Day, 1)) //nolint:errcheck

	if n := m.Evict(base); n != 2 {
		t.Errorf("Evict: removed %d, want 2", n)
	}
	if m.Count() != 1 {
		t.Errorf("Count after Evict: got %d, want 1", m.Count())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	base := time.Now()
	m := NewMemory(0)
	ctx := context.Background()
	m.now = fixedClock(base.Add(-24 * time.Hour))
	m.Put(ctx, rec("sw1", availability.Day, 1)) //nolint:errcheck
	m.now = fixedClock(base)

	if n := m.Evict(base); n != 0 {
		t.Errorf("Evict with zero TTL removed %d", n)
	}
	if got, _ := m.List(ctx); len(got) != 1 {
		t.Errorf("List with zero TTL: got %d, want 1", len(got))
	}
}

func TestRun_EvictsOnTick(t *testing.T) {
	m := NewMemory(time.Second)
	m.now = fixedClock(time.Now().Add(-time.Hour))
	m.Put(context.Background(), rec("sw1", availability.Day, 1)) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()

	deadline := time.After(3 * time.Second)
	for m.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("Run did not evict stale record")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestConcurrentPutList(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			m.Put(ctx, rec("sw1", availability.Periods()[n%4], float64(n))) //nolint:errcheck
		}(i)
		go func() {
			defer wg.Done()
			m.List(ctx) //nolint:errcheck
		}()
	}
	wg.Wait()
	if m.Count() != 4 {
		t.Errorf("Count: got %d, want 4", m.Count())
	}
}
