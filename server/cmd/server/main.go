package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/obsidianstack/reachability/server/internal/alerts"
	"github.com/obsidianstack/reachability/server/internal/api"
	"github.com/obsidianstack/reachability/server/internal/auth"
	"github.com/obsidianstack/reachability/server/internal/availability"
	"github.com/obsidianstack/reachability/server/internal/config"
	"github.com/obsidianstack/reachability/server/internal/evaluator"
	"github.com/obsidianstack/reachability/server/internal/health"
	"github.com/obsidianstack/reachability/server/internal/metrics"
	"github.com/obsidianstack/reachability/server/internal/probe"
	"github.com/obsidianstack/reachability/server/internal/publish"
	"github.com/obsidianstack/reachability/server/internal/results"
	"github.com/obsidianstack/reachability/server/internal/store"
	"github.com/obsidianstack/reachability/server/internal/ws"
)

const (
	hubInterval    = 5 * time.Second
	healthInterval = 30 * time.Second
	shutdownGrace  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envFile, "err", err)
	}

	slog.Info("reachability-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	holder := config.NewHolder(cfg)

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"policy", cfg.Availability.EffectivePolicy(),
		"periods", cfg.Availability.Periods,
		"storage", cfg.Storage.Backend,
		"results", cfg.Results.Backend,
		"publish", cfg.Publish.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checks := make(map[string]health.Pinger)

	// Devices and outages.
	src, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	if p, ok := src.(health.Pinger); ok {
		checks["storage"] = p
	}
	devices := probe.New(src, cfg.Probes, probe.WithConcurrency(cfg.Availability.Workers))

	calc := availability.NewCalculator(src, holder.Policy,
		availability.WithDefaultPrecision(cfg.Availability.Precision))

	// Latest results.
	res, err := openResults(ctx, cfg.Results)
	if err != nil {
		slog.Error("failed to open results store", "backend", cfg.Results.Backend, "err", err)
		os.Exit(1)
	}
	if r, ok := res.(*results.Redis); ok {
		checks["results"] = r
		defer r.Close() //nolint:errcheck
	}

	pub, err := publish.New(cfg.Publish)
	if err != nil {
		slog.Error("failed to start publisher", "backend", cfg.Publish.Backend, "err", err)
		os.Exit(1)
	}
	defer pub.Close() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	alertEngine := alerts.New(cfg.Alerts)

	eval := evaluator.New(devices, calc, res, holder.Get,
		evaluator.WithMetrics(m),
		evaluator.WithPublisher(pub),
		evaluator.WithAlerts(alertEngine),
	)
	go eval.Run(ctx)

	// Hot reload: policy, precision, periods and interval apply from the
	// next cycle. Backends and listeners keep their startup settings.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			holder.Set(next)
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// gRPC health service with optional API key authentication.
	authCfg := cfg.Server.Auth
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.APIKeyInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
		grpc.ChainStreamInterceptor(auth.APIKeyStreamInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
	)
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go health.NewReporter(healthSrv, healthInterval, checks).Run(ctx)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health service listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// WebSocket hub pushes the snapshot to dashboards.
	hub := ws.New(res, alertEngine, hubInterval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API, WebSocket hub and /metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(res, devices, calc, holder.Get,
		api.WithAlerts(alertEngine),
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	))
	httpMux.Handle("/ws", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           auth.APIKeyMiddleware(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(), "/metrics")(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("reachability-server shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// openStore builds the device and outage source selected by cfg. The
// returned func releases its resources.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Source, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		mem := store.NewMemory()
		if cfg.Fixture != "" {
			if err := mem.LoadFixture(cfg.Fixture); err != nil {
				return nil, nil, err
			}
			slog.Info("loaded device fixture", "path", cfg.Fixture)
		}
		return mem, func() {}, nil
	}
}

// openResults builds the results store selected by cfg. The memory store's
// eviction loop runs until ctx is cancelled.
func openResults(ctx context.Context, cfg config.ResultsConfig) (results.Store, error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		r := results.NewRedis(rdb, cfg.Redis.KeyPrefix, cfg.TTL)
		if err := r.Ping(ctx); err != nil {
			rdb.Close() //nolint:errcheck
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return r, nil
	default:
		mem := results.NewMemory(cfg.TTL)
		go mem.Run(ctx)
		return mem, nil
	}
}
