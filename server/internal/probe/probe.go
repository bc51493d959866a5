package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/store"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultConcurrency  = 8
)

// Metric names read from the scraped page.
const (
	metricNodeTime     = "node_time_seconds"
	metricNodeBootTime = "node_boot_time_seconds"
	metricProcessStart = "process_start_time_seconds"
)

// ErrNoUptime is returned when a page carries neither a boot time nor a
// process start time.
var ErrNoUptime = errors.New("probe: no boot or start time in exposition")

// Source wraps a DeviceSource and replaces the uptime of probed devices
// with a freshly scraped value. Devices without a probe pass through.
type Source struct {
	devices store.DeviceSource
	probes  map[string]config.Probe
	client  *http.Client
	clients map[string]*http.Client
	now     func() time.Time
	limit   int
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithConcurrency bounds how many endpoints Devices scrapes at once.
func WithConcurrency(n int) Option {
	return func(s *Source) { s.limit = max(n, 1) }
}

// WithClock sets the clock used when a page has no node_time_seconds.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New returns a Source that probes the given endpoints.
func New(devices store.DeviceSource, probes []config.Probe, opts ...Option) *Source {
	s := &Source{
		devices: devices,
		probes:  make(map[string]config.Probe, len(probes)),
		client:  &http.Client{},
		now:     time.Now,
		limit:   defaultConcurrency,
	}
	for _, p := range probes {
		s.probes[p.DeviceID] = p
	}
	for _, o := range opts {
		o(s)
	}
	s.clients = make(map[string]*http.Client, len(s.probes))
	for id, p := range s.probes {
		s.clients[id] = buildHTTPClient(p, s.client)
	}
	return s
}

// authRoundTripper injects the probe's credentials into every request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.ProbeAuth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient layers a probe's auth and TLS settings over base.
func buildHTTPClient(p config.Probe, base *http.Client) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if base != nil && base.Transport != nil {
		rt = base.Transport
	}
	if p.InsecureSkipVerify {
		rt = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // user-configured
		}
	}
	return &http.Client{Transport: &authRoundTripper{base: rt, auth: p.Auth}}
}

// Devices lists the underlying devices, probing those with an endpoint
// concurrently.
func (s *Source) Devices(ctx context.Context) ([]availability.Device, error) {
	list, err := s.devices.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i := range list {
		if _, ok := s.probes[list[i].ID]; !ok {
			continue
		}
		g.Go(func() error {
			list[i] = s.refresh(ctx, list[i])
			return nil
		})
	}
	_ = g.Wait()
	return list, nil
}

// Device returns one device, probed if it has an endpoint.
func (s *Source) Device(ctx context.Context, id string) (availability.Device, error) {
	d, err := s.devices.Device(ctx, id)
	if err != nil {
		return d, err
	}
	return s.refresh(ctx, d), nil
}

func (s *Source) refresh(ctx context.Context, d availability.Device) availability.Device {
	p, ok := s.probes[d.ID]
	if !ok {
		return d
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	up, err := s.scrape(ctx, s.clients[d.ID], p.Endpoint)
	if err != nil {
		slog.Warn("probe: uptime scrape failed", "device", d.ID, "endpoint", p.Endpoint, "err", err)
		d.Uptime = nil
		return d
	}
	d.Uptime = &up
	return d
}

// Uptime scrapes endpoint and returns the seconds since boot.
func (s *Source) Uptime(ctx context.Context, endpoint string) (int64, error) {
	return s.scrape(ctx, s.client, endpoint)
}

func (s *Source) scrape(ctx context.Context, client *http.Client, endpoint string) (int64, error) {
	mfs, err := fetchMetrics(ctx, client, endpoint)
	if err != nil {
		return 0, fmt.Errorf("probe: scrape %q: %w", endpoint, err)
	}
	return uptimeFrom(mfs, s.now())
}

// uptimeFrom derives uptime from node_exporter or process metrics.
// node_time_seconds is preferred over the local clock so that clock skew
// between this host and the device does not leak into the result.
func uptimeFrom(mfs map[string]*dto.MetricFamily, now time.Time) (int64, error) {
	start, ok := firstValue(mfs[metricNodeBootTime])
	if !ok {
		start, ok = firstValue(mfs[metricProcessStart])
	}
	if !ok {
		return 0, ErrNoUptime
	}
	current, ok := firstValue(mfs[metricNodeTime])
	if !ok {
		current = float64(now.UnixNano()) / 1e9
	}
	up := current - start
	if up < 0 || math.IsNaN(up) || math.IsInf(up, 0) {
		return 0, fmt.Errorf("probe: implausible uptime %v", up)
	}
	return int64(up), nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse with at
// least one family is treated as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// firstValue returns the gauge, counter or untyped value of the first sample.
func firstValue(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	m := mf.GetMetric()[0]
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}
