package health

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// pingTimeout bounds a single backend ping.
const pingTimeout = 3 * time.Second

// Pinger is implemented by every backend with a readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reporter keeps a gRPC health server in sync with backend reachability.
type Reporter struct {
	srv      *health.Server
	checks   map[string]Pinger
	interval time.Duration
}

// NewReporter returns a Reporter that updates srv. checks maps a health
// service name (e.g. "storage") to its backend.
func NewReporter(srv *health.Server, interval time.Duration, checks map[string]Pinger) *Reporter {
	return &Reporter{srv: srv, checks: checks, interval: interval}
}

// Check pings every backend once, updates the health server and reports
// whether all of them answered.
func (r *Reporter) Check(ctx context.Context) bool {
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := r.checks[name].Ping(pctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			ok = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			slog.Warn("health: backend unreachable", "service", name, "err", err)
		}
		r.srv.SetServingStatus(name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !ok {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.srv.SetServingStatus("", overall)
	return ok
}

// Run checks immediately and then every interval until ctx is cancelled,
// when it marks every service NOT_SERVING.
func (r *Reporter) Run(ctx context.Context) {
	r.Check(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.srv.Shutdown()
			return
		case <-t.C:
			r.Check(ctx)
		}
	}
}
