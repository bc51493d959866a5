package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/reachability/server/internal/alerts"
	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/results"
	"github.com/obsidianstack/reachability/server/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	results results.Store
	devices store.DeviceSource
	calc    *availability.Calculator
	config  func() *config.Config
	alerts  *alerts.Engine
	limiter *rate.Limiter
	now     func() time.Time
	router  *mux.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithAlerts serves alerts from e. Without it the alert list is empty.
func WithAlerts(e *alerts.Engine) Option { return func(h *Handler) { h.alerts = e } }

// WithRateLimit limits ad-hoc calculations to rps requests per second with
// the given burst. Without it they are unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) { h.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithClock sets the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// New creates a Handler and registers all routes. cfg supplies the active
// policy and precision for ad-hoc calculations.
func New(res results.Store, devices store.DeviceSource, calc *availability.Calculator, cfg func() *config.Config, opts ...Option) http.Handler {
	h := &Handler{
		results: res,
		devices: devices,
		calc:    calc,
		config:  cfg,
		now:     time.Now,
		router:  mux.NewRouter(),
	}
	for _, o := range opts {
		o(h)
	}

	v1 := h.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)
	v1.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/availability", h.deviceAvailability).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/snapshot", h.snapshot).Methods(http.MethodGet)

	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(
		handlers.CompressHandler(h.router),
	)
}

// recoveryLogger routes recovered panics to slog.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("api: recovered from panic", "panic", fmt.Sprint(v...))
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	recs, err := h.results.List(r.Context())
	if err != nil {
		internalErr(w, "list results", err)
		return
	}

	devices := groupByDevice(recs)
	resp := HealthResponse{DeviceCount: len(devices), State: "unknown"}
	if h.alerts != nil {
		resp.AlertCount = len(h.alerts.Active())
	}

	var sum float64
	var n int
	for _, rec := range recs {
		if !rec.Availability.Defined {
			resp.UndefinedCount++
			continue
		}
		if rec.Period == availability.Day {
			sum += rec.Availability.Percent
			n++
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		resp.MeanDayAvailability = &mean
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listDevices returns GET /api/v1/devices.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	recs, err := h.results.List(r.Context())
	if err != nil {
		internalErr(w, "list results", err)
		return
	}
	jsonResp(w, http.StatusOK, groupByDevice(recs))
}

// deviceAvailability returns GET /api/v1/devices/{id}/availability.
func (h *Handler) deviceAvailability(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		jsonErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	q, err := h.parseQuery(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	d, err := h.devices.Device(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		internalErr(w, "load device", err)
		return
	}

	res, err := h.calc.Availability(r.Context(), d, q.window,
		availability.WithNow(q.now),
		availability.WithPolicy(q.policy),
		availability.WithPrecision(q.precision),
	)
	if errors.Is(err, availability.ErrInvalidArgument) {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalErr(w, "compute availability", err)
		return
	}

	jsonResp(w, http.StatusOK, AvailabilityResponse{
		DeviceID:     d.ID,
		Period:       q.period,
		Window:       q.window,
		Policy:       q.policy,
		Precision:    q.precision,
		Now:          q.now.Unix(),
		Uptime:       d.Uptime,
		Availability: res,
	})
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = h.alerts.Active()
	}
	jsonResp(w, http.StatusOK, out)
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := BuildSnapshot(r.Context(), h.results, h.alerts, h.now())
	if err != nil {
		internalErr(w, "build snapshot", err)
		return
	}
	jsonResp(w, http.StatusOK, snap)
}

// --- query parsing ----------------------------------------------------------

type adhocQuery struct {
	period    availability.Period
	window    int64
	policy    availability.Policy
	precision int
	now       time.Time
}

// parseQuery reads and validates the ad-hoc parameters before any I/O.
func (h *Handler) parseQuery(r *http.Request) (adhocQuery, error) {
	cfg := h.config()
	qs := r.URL.Query()
	q := adhocQuery{
		policy:    cfg.Availability.EffectivePolicy(),
		precision: cfg.Availability.Precision,
		now:       h.now(),
	}

	period, window := qs.Get("period"), qs.Get("window")
	switch {
	case period != "" && window != "":
		return q, errors.New("period and window are mutually exclusive")
	case window != "":
		v, err := strconv.ParseInt(window, 10, 64)
		if err != nil {
			return q, fmt.Errorf("window %q is not an integer number of seconds", window)
		}
		q.window = v
	default:
		if period == "" {
			period = string(availability.Day)
		}
		p, err := availability.ParsePeriod(period)
		if err != nil {
			return q, err
		}
		q.period, q.window = p, p.Seconds()
	}

	if s := qs.Get("policy"); s != "" {
		p, err := availability.ParsePolicy(s)
		if err != nil {
			return q, err
		}
		q.policy = p
	}
	if s := qs.Get("precision"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("precision %q is not an integer", s)
		}
		q.precision = v
	}
	if s := qs.Get("now"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, fmt.Errorf("now %q is not an integer epoch second", s)
		}
		q.now = time.Unix(v, 0)
	}

	if err := availability.Validate(q.window, q.precision); err != nil {
		return q, err
	}
	return q, nil
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot assembles the full state dump served by /api/v1/snapshot
// and pushed to WebSocket clients. eng may be nil.
func BuildSnapshot(ctx context.Context, res results.Store, eng *alerts.Engine, now time.Time) (SnapshotResponse, error) {
	recs, err := res.List(ctx)
	if err != nil {
		return SnapshotResponse{}, fmt.Errorf("api: list results: %w", err)
	}
	al := []*alerts.Alert{}
	if eng != nil {
		al = eng.Active()
	}
	return SnapshotResponse{
		Devices:     groupByDevice(recs),
		Alerts:      al,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}, nil
}

// groupByDevice folds records into one entry per device, preserving the
// device order of recs. The newest evaluation time wins.
func groupByDevice(recs []results.Record) []DeviceResponse {
	out := []DeviceResponse{}
	index := make(map[string]int)
	latest := make(map[string]time.Time)
	for _, r := range recs {
		i, ok := index[r.DeviceID]
		if !ok {
			i = len(out)
			index[r.DeviceID] = i
			out = append(out, DeviceResponse{
				DeviceID:     r.DeviceID,
				Availability: make(map[availability.Period]availability.Result),
			})
		}
		out[i].Availability[r.Period] = r.Availability
		if r.EvaluatedAt.After(latest[r.DeviceID]) || !ok {
			latest[r.DeviceID] = r.EvaluatedAt
			out[i].Policy = r.Policy
			out[i].EvaluatedAt = r.EvaluatedAt.UTC().Format(time.RFC3339)
		}
	}
	return out
}

// jsonResp encodes v before committing the status line, so an encoding
// failure still yields a well-formed 500.
func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: encode response failed", "err", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n')) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func internalErr(w http.ResponseWriter, op string, err error) {
	slog.Error("api: "+op+" failed", "err", err)
	jsonErr(w, http.StatusInternalServerError, "internal error")
}
