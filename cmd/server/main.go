package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/tokengate/api"
	"github.com/yourusername/tokengate/config"
	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/engine"
	"github.com/yourusername/tokengate/metrics"
	"github.com/yourusername/tokengate/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	clock := core.SystemClock{}
	registry := store.NewMemory(clock)

	prom := metrics.NewPrometheus(prometheus.DefaultRegisterer, registry.Count)
	collector := metrics.NewCollector(metrics.WithPrometheus(prom))

	engineCfg := engine.Config{
		Defaults: core.Config{Capacity: cfg.DefaultCapacity, RefillRate: cfg.DefaultRefillRate},
		Registry: registry,
		Metrics:  collector,
		Clock:    clock,
	}

	if cfg.PolicyFile != "" {
		policies, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
		engineCfg.Policy = func(key string) core.Config {
			p := policies.PolicyFor(key)
			return core.Config{Capacity: p.Capacity, RefillRate: p.RefillRate}
		}
		logger.Info("loaded policy file", "path", cfg.PolicyFile)
	}

	var snapshots *store.RedisSnapshots
	if cfg.RedisAddr != "" {
		snapshots = store.NewRedisSnapshots(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SnapshotTTL,
		})
		defer snapshots.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := snapshots.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}

		restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		states, err := snapshots.Restore(restoreCtx)
		cancel()
		if err != nil {
			logger.Warn("snapshot restore failed", "error", err)
		} else if loaded := registry.Load(states); loaded > 0 {
			logger.Info("restored buckets from redis", "count", loaded)
		}

		// Mirror deletes so a restart cannot resurrect removed keys
		engineCfg.OnDelete = func(key string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := snapshots.Delete(ctx, key); err != nil {
				logger.Warn("snapshot delete failed", "key", key, "error", err)
			}
		}
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return err
	}

	janitor, err := store.NewJanitor(registry, store.JanitorConfig{
		Schedule:   cfg.JanitorSchedule,
		CleanupAge: cfg.CleanupAge,
		Snapshots:  snapshots,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	mux := http.NewServeMux()
	api.NewHandler(eng).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tokengate listening", "addr", cfg.Addr,
			"default_capacity", cfg.DefaultCapacity,
			"default_refill_rate", cfg.DefaultRefillRate,
			"redis", cfg.RedisAddr != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
