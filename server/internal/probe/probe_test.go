package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/store"
)

// nodeMetrics is a trimmed node_exporter page.
const nodeMetrics = `
# HELP node_boot_time_seconds Node boot time, in unixtime.
# TYPE node_boot_time_seconds gauge
node_boot_time_seconds 1.7672e+09
# HELP node_time_seconds System time in seconds since epoch (1970).
# TYPE node_time_seconds gauge
node_time_seconds 1.7672864e+09
# HELP node_load1 1m load average.
# TYPE node_load1 gauge
node_load1 0.21
`

const processMetrics = `
# TYPE process_start_time_seconds gauge
process_start_time_seconds 1767200000
`

func serve(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func i64(v int64) *int64 { return &v }

func TestUptime_NodeExporter(t *testing.T) {
	srv := serve(t, nodeMetrics, http.StatusOK)
	s := New(store.NewMemory(), nil, WithHTTPClient(srv.Client()))

	got, err := s.Uptime(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if got != 86400 {
		t.Errorf("Uptime = %d, want 86400", got)
	}
}

func TestUptime_ProcessStartFallsBackToClock(t *testing.T) {
	srv := serve(t, processMetrics, http.StatusOK)
	clock := func() time.Time { return time.Unix(1767203600, 0) }
	s := New(store.NewMemory(), nil, WithHTTPClient(srv.Client()), WithClock(clock))

	got, err := s.Uptime(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if got != 3600 {
		t.Errorf("Uptime = %d, want 3600", got)
	}
}

func TestUptime_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"http error", nodeMetrics, http.StatusServiceUnavailable},
		{"no boot time", "node_load1 0.5\n", http.StatusOK},
		{"boot in future", "node_boot_time_seconds 2e9\nnode_time_seconds 1e9\n", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.body, tc.status)
			s := New(store.NewMemory(), nil, WithHTTPClient(srv.Client()))
			if _, err := s.Uptime(context.Background(), srv.URL); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUptimeFrom_MissingStartIsErrNoUptime(t *testing.T) {
	mfs, err := parseMetrics(strings.NewReader("node_time_seconds 5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uptimeFrom(mfs, time.Now()); !errors.Is(err, ErrNoUptime) {
		t.Errorf("err = %v, want ErrNoUptime", err)
	}
}

func TestSource_Devices(t *testing.T) {
	good := serve(t, nodeMetrics, http.StatusOK)
	bad := serve(t, "", http.StatusInternalServerError)

	mem := store.NewMemory()
	mem.PutDevice(availability.Device{ID: "probed", Uptime: i64(1)})
	mem.PutDevice(availability.Device{ID: "broken", Uptime: i64(1)})
	mem.PutDevice(availability.Device{ID: "static", Uptime: i64(42)})

	s := New(mem, []config.Probe{
		{DeviceID: "probed", Endpoint: good.URL},
		{DeviceID: "broken", Endpoint: bad.URL, Timeout: time.Second},
	})

	list, err := s.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	byID := make(map[string]availability.Device)
	for _, d := range list {
		byID[d.ID] = d
	}
	if u := byID["probed"].Uptime; u == nil || *u != 86400 {
		t.Errorf("probed uptime = %v, want 86400", u)
	}
	if u := byID["broken"].Uptime; u != nil {
		t.Errorf("broken uptime = %d, want nil after failed scrape", *u)
	}
	if u := byID["static"].Uptime; u == nil || *u != 42 {
		t.Errorf("static uptime = %v, want untouched 42", u)
	}

	d, err := s.Device(context.Background(), "probed")
	if err != nil || d.Uptime == nil || *d.Uptime != 86400 {
		t.Errorf("Device(probed) = %+v, %v", d, err)
	}
	if _, err := s.Device(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Device(missing) err = %v, want ErrNotFound", err)
	}
}

func TestSource_ProbeAuth(t *testing.T) {
	t.Setenv("PROBE_TOKEN", "s3cret")
	t.Setenv("PROBE_PASS", "hunter2")

	tests := []struct {
		name  string
		auth  config.ProbeAuth
		check func(r *http.Request) bool
	}{
		{
			name:  "bearer",
			auth:  config.ProbeAuth{Mode: "bearer", TokenEnv: "PROBE_TOKEN"},
			check: func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer s3cret" },
		},
		{
			name:  "apikey",
			auth:  config.ProbeAuth{Mode: "apikey", Header: "X-Probe-Key", KeyEnv: "PROBE_TOKEN"},
			check: func(r *http.Request) bool { return r.Header.Get("X-Probe-Key") == "s3cret" },
		},
		{
			name: "basic",
			auth: config.ProbeAuth{Mode: "basic", Username: "ops", PasswordEnv: "PROBE_PASS"},
			check: func(r *http.Request) bool {
				u, p, ok := r.BasicAuth()
				return ok && u == "ops" && p == "hunter2"
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !tc.check(r) {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				_, _ = w.Write([]byte(nodeMetrics))
			}))
			t.Cleanup(srv.Close)

			mem := store.NewMemory()
			mem.PutDevice(availability.Device{ID: "sw1"})
			s := New(mem, []config.Probe{{DeviceID: "sw1", Endpoint: srv.URL, Auth: tc.auth}})

			d, err := s.Device(context.Background(), "sw1")
			if err != nil {
				t.Fatalf("Device: %v", err)
			}
			if d.Uptime == nil || *d.Uptime != 86400 {
				t.Errorf("uptime = %v, want 86400 with credentials accepted", d.Uptime)
			}
		})
	}
}

func TestSource_Devices_ScrapesConcurrently(t *testing.T) {
	const n = 4
	var inflight, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		_, _ = w.Write([]byte(nodeMetrics))
	}))
	t.Cleanup(srv.Close)

	mem := store.NewMemory()
	var probes []config.Probe
	for i := 0; i < n; i++ {
		id := "sw" + string(rune('a'+i))
		mem.PutDevice(availability.Device{ID: id})
		probes = append(probes, config.Probe{DeviceID: id, Endpoint: srv.URL})
	}
	s := New(mem, probes, WithConcurrency(2))

	done := make(chan []availability.Device)
	go func() {
		list, _ := s.Devices(context.Background())
		done <- list
	}()

	deadline := time.Now().Add(2 * time.Second)
	for inflight.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	list := <-done
	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrent scrapes = %d, want 2", got)
	}
	for _, d := range list {
		if d.Uptime == nil || *d.Uptime != 86400 {
			t.Errorf("%s uptime = %v, want 86400", d.ID, d.Uptime)
		}
	}
}
