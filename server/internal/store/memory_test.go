package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

func i64(v int64) *int64 { return &v }

func TestMemory_OutagesFilteredAndOrdered(t *testing.T) {
	m := NewMemory()
	m.AddOutage("sw1", availability.Outage{StartedAt: 500, EndedAt: i64(600)})
	m.AddOutage("sw1", availability.Outage{StartedAt: 100, EndedAt: i64(200)}) // before cutoff
	m.AddOutage("sw1", availability.Outage{StartedAt: 900})                    // ongoing
	m.AddOutage("sw1", availability.Outage{StartedAt: 250, EndedAt: i64(300)}) // ends exactly at cutoff
	m.AddOutage("sw2", availability.Outage{StartedAt: 700, EndedAt: i64(800)})

	got, err := m.Outages(context.Background(), "sw1", 300)
	if err != nil {
		t.Fatalf("Outages: %v", err)
	}
	wantStarts := []int64{250, 500, 900}
	if len(got) != len(wantStarts) {
		t.Fatalf("Outages: got %d, want %d (%+v)", len(got), len(wantStarts), got)
	}
	for i, o := range got {
		if o.StartedAt != wantStarts[i] {
			t.Errorf("Outages[%d].StartedAt = %d, want %d", i, o.StartedAt, wantStarts[i])
		}
	}
}

func TestMemory_OutagesEmptyForUnknownDevice(t *testing.T) {
	got, err := NewMemory().Outages(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("Outages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Outages: got %d, want 0", len(got))
	}
}

func TestMemory_OutagesReturnsCopy(t *testing.T) {
	m := NewMemory()
	m.AddOutage("sw1", availability.Outage{StartedAt: 10})
	got, _ := m.Outages(context.Background(), "sw1", 0)
	got[0].StartedAt = 99

	again, _ := m.Outages(context.Background(), "sw1", 0)
	if again[0].StartedAt != 10 {
		t.Errorf("caller mutation leaked into store: StartedAt = %d", again[0].StartedAt)
	}
}

func TestMemory_Devices(t *testing.T) {
	m := NewMemory()
	m.PutDevice(availability.Device{ID: "b", Uptime: i64(10)})
	m.PutDevice(availability.Device{ID: "a"})
	m.PutDevice(availability.Device{ID: "b", Uptime: i64(20)})

	list, err := m.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("Devices: got %+v", list)
	}
	if *list[1].Uptime != 20 {
		t.Errorf("PutDevice did not replace: uptime %d", *list[1].Uptime)
	}

	if _, err := m.Device(context.Background(), "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Device(zzz) err = %v, want ErrNotFound", err)
	}
}

func TestMemory_LoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	content := `
devices:
  - id: core-sw-1
    uptime: 86400
    outages:
      - {started_at: 2000, ended_at: 2600, prior_uptime: 120}
      - {started_at: 1000, ended_at: 1100, prior_uptime: 50}
  - id: edge-ap-7
    uptime: unknown
    outages:
      - {started_at: 3000}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewMemory()
	if err := m.LoadFixture(path); err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	sw, err := m.Device(context.Background(), "core-sw-1")
	if err != nil || sw.Uptime == nil || *sw.Uptime != 86400 {
		t.Fatalf("core-sw-1: %+v, %v", sw, err)
	}
	ap, _ := m.Device(context.Background(), "edge-ap-7")
	if ap.Uptime != nil {
		t.Errorf("edge-ap-7 uptime: got %d, want nil for non-numeric", *ap.Uptime)
	}

	outs, _ := m.Outages(context.Background(), "core-sw-1", 0)
	if len(outs) != 2 || outs[0].StartedAt != 1000 || outs[0].PriorUptime != 50 {
		t.Errorf("core-sw-1 outages: %+v", outs)
	}
	ongoing, _ := m.Outages(context.Background(), "edge-ap-7", 999999)
	if len(ongoing) != 1 || !ongoing[0].Ongoing() {
		t.Errorf("edge-ap-7 outages: %+v", ongoing)
	}
}

func TestMemory_LoadFixture_ExampleFile(t *testing.T) {
	m := NewMemory()
	if err := m.LoadFixture(filepath.Join("..", "..", "fixture.example.yaml")); err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	ap, err := m.Device(context.Background(), "ap-7")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if ap.Uptime != nil {
		t.Errorf("ap-7 uptime = %d, want unknown", *ap.Uptime)
	}
	outs, err := m.Outages(context.Background(), "ap-7", 0)
	if err != nil || len(outs) != 1 || !outs[0].Ongoing() {
		t.Errorf("ap-7 outages = %+v, %v", outs, err)
	}
}

func TestMemory_LoadFixture_Errors(t *testing.T) {
	m := NewMemory()
	if err := m.LoadFixture(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("devices:\n  - uptime: 5\n"), 0o600) //nolint:errcheck
	if err := m.LoadFixture(path); err == nil {
		t.Error("expected error for device without id")
	}
}

func TestMemory_ConcurrentMixedOps(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			m.AddOutage("sw1", availability.Outage{StartedAt: int64(n)})
		}(i)
		go func() {
			defer wg.Done()
			m.Outages(context.Background(), "sw1", 0) //nolint:errcheck
		}()
	}
	wg.Wait()

	got, _ := m.Outages(context.Background(), "sw1", 0)
	if len(got) != 50 {
		t.Errorf("outages after concurrent adds: got %d, want 50", len(got))
	}
}
