package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rackwatch/rackwatch/internal/config"
	"github.com/rackwatch/rackwatch/internal/engine"
	"github.com/rackwatch/rackwatch/internal/engine/cache"
	"github.com/rackwatch/rackwatch/internal/location"
	"github.com/rackwatch/rackwatch/internal/logging"
	"github.com/rackwatch/rackwatch/internal/metrics"
	"github.com/rackwatch/rackwatch/internal/server"
)

func main() {
	var (
		configFile   = flag.String("config", "", "path to server configuration file")
		envPrefix    = flag.String("env-prefix", "RACKWATCH", "environment variable prefix")
		snapshotFile = flag.String("snapshot", "", "evaluate one snapshot file, print the report and exit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	reportCache, backend := buildReportCache(logger.With(slog.String("component", "cache_factory")), cfg.Server.Cache)

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	eng, err := engine.New(engine.Options{
		Locations:                  location.NewService(cfg.Engine.CanonicalCacheSize),
		Confidence:                 cfg.Engine.Confidence,
		PerRuleTimeout:             cfg.Engine.PerRuleTimeout(),
		Parallelism:                cfg.Engine.ParallelEvaluators,
		ObviousViolationMultiplier: cfg.Engine.ObviousViolationMultiplier,
		Logger:                     logger,
		Metrics:                    recorder,
		Cache:                      reportCache,
		CacheBackend:               backend,
		CacheTTL:                   cfg.Server.Cache.TTL(),
		CacheEpoch:                 cfg.Server.Cache.Epoch,
		CacheKeySalt:               cfg.Server.Cache.KeySalt,
	})
	if err != nil {
		logger.Error("unable to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := eng.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if *snapshotFile != "" {
		if err := evaluateOnce(ctx, eng, cfg, *snapshotFile, os.Stdout); err != nil {
			logger.Error("snapshot evaluation failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	svc, err := server.NewService(eng, recorder, logger, server.Settings{
		PerRuleTimeoutMs:           cfg.Engine.PerRuleTimeoutMs,
		ParallelEvaluators:         cfg.Engine.ParallelEvaluators,
		ObviousViolationMultiplier: cfg.Engine.ObviousViolationMultiplier,
		CacheBackend:               backend,
		CacheTTLSeconds:            cfg.Server.Cache.TTLSeconds,
	})
	if err != nil {
		logger.Error("unable to construct service", slog.Any("error", err))
		os.Exit(1)
	}
	if err := svc.UpdateBundle(ctx, config.Bundle{
		Rules:      cfg.LoadedRules,
		Warehouses: cfg.LoadedWarehouses,
		Sources:    cfg.DocumentSources,
		Skipped:    cfg.SkippedDefinitions,
	}); err != nil {
		logger.Error("initial bundle load failed", slog.Any("error", err))
	}

	if hasDocumentSources(cfg) {
		watcher, err := loader.WatchDocuments(ctx, cfg, func(bundle config.Bundle) {
			if err := svc.UpdateBundle(ctx, bundle); err != nil {
				logger.Error("bundle reload failed", slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("documents watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("documents watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg, logger, svc.Handler())
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func hasDocumentSources(cfg config.Config) bool {
	return cfg.Server.Rules.RulesFile != "" || cfg.Server.Rules.RulesFolder != "" ||
		cfg.Server.Warehouses.WarehousesFile != "" || cfg.Server.Warehouses.WarehousesFolder != ""
}

// evaluateOnce runs the one-shot mode: the snapshot file holds either a bare
// row array or a full evaluate request; definitions it omits come from the
// loaded configuration.
func evaluateOnce(ctx context.Context, eng *engine.Engine, cfg config.Config, path string, out io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var req engine.Request
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &req.Rows); err != nil {
			return fmt.Errorf("decode snapshot rows: %w", err)
		}
	} else if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode snapshot request: %w", err)
	}

	if req.Rules == nil {
		req.Rules = cfg.LoadedRules
	}
	if req.Warehouses == nil {
		req.Warehouses = cfg.LoadedWarehouses
	}

	report, err := eng.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// buildReportCache maps the cache configuration onto a backend, falling back
// to memory when the configured backend cannot be reached.
func buildReportCache(logger *slog.Logger, cfg config.ServerCacheConfig) (cache.ReportCache, string) {
	ttl := cfg.TTL()
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory report cache", slog.Duration("ttl", ttl))
		}
		return cache.NewMemory(ttl), "memory"
	case "redis", "valkey":
		valkeyCache, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("valkey cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return cache.NewMemory(ttl), "memory"
		}
		if logger != nil {
			logger.Info("using valkey report cache", slog.String("address", cfg.Redis.Address))
		}
		return valkeyCache, "valkey"
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory(ttl), "memory"
	}
}
