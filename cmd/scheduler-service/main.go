// scheduler-service is the HTTP API server for the per-tenant request scheduler.
package main

import (
	"context"
	"curator/internal/api"
	"curator/internal/cache"
	"curator/internal/config"
	"curator/internal/dispatcher"
	"curator/internal/health"
	"curator/internal/notify"
	"curator/internal/observability"
	"curator/internal/scheduler"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: svcCfg.LogLevel})))

	if err := run(svcCfg); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig) error {
	ctx := context.Background()

	cacheCfg := cache.LoadConfigFromEnv()

	presets, err := config.LoadPresets(svcCfg.PresetsFile)
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open the response cache and schedule its sweeper
	store, err := cache.Open(cacheCfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	responseCache := cache.New(store, cacheCfg)
	defer responseCache.Close()

	sweeper, err := cache.NewSweeper(responseCache, cacheCfg.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	slog.Info("Cache ready", "driver", cacheCfg.Driver, "sweepSchedule", cacheCfg.SweepSchedule)

	notifier := notify.New(notify.LoadConfigFromEnv(), metrics)

	registry := scheduler.NewRegistry(scheduler.NewFactory(scheduler.LoadConfigFromEnv(), scheduler.Dependencies{
		Dispatcher: dispatcher.NewHTTP(dispatcher.LoadConfigFromEnv()),
		Cache:      responseCache,
		Notifier:   notifier,
		Metrics:    metrics,
	}))

	for _, p := range presets {
		s, _, err := registry.GetOrCreate(p.Patterns, p.CallsPerSecond)
		if err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
		slog.Info("Preset scheduler ready", "name", p.Name, "schedulerId", s.ID())
	}

	healthChecker := health.NewChecker(
		map[string]health.ReadinessChecker{"cache": responseCache},
		health.WithOptional("notifier", notifier),
	)

	router := api.NewRouter(api.RouterConfig{
		Registry:      registry,
		Notifier:      notifier,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		slog.Info("Starting API server", "port", svcCfg.Port)
		return serve(apiServer)
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		return serve(metricsServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		if sigCtx.Err() != nil {
			slog.Info("Received shutdown signal")

			// Phase 1: mark unready so load balancers stop routing
			healthChecker.SetShuttingDown()
			if svcCfg.ShutdownDrainWait > 0 {
				slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
				time.Sleep(svcCfg.ShutdownDrainWait)
			}
		}

		// Phase 2: stop accepting connections, finish in-flight requests
		slog.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
		return nil
	})

	serveErr := g.Wait()
	if serveErr != nil {
		slog.Error("Server failed", "error", serveErr)
	}

	// Phase 3: stop schedulers, drain notifications, stop the sweeper
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := registry.Close(closeCtx); err != nil {
		slog.Warn("Scheduler shutdown error", "error", err)
	}
	if err := notifier.Close(closeCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	if err := sweeper.Stop(closeCtx); err != nil {
		slog.Warn("Sweeper shutdown error", "error", err)
	}

	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"unaddressed", stats.Unaddressed,
	)
	cacheStats := responseCache.Stats()
	slog.Info("Cache stats", "hits", cacheStats.Hits, "misses", cacheStats.Misses, "errors", cacheStats.Errors)

	slog.Info("Shutdown complete")
	return serveErr
}

// serve runs srv until it is shut down. A closed server is not an error.
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}
