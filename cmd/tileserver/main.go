package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/server"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/gateway"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation/redissub"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/logger"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/metrics"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/scenarios"
	_ "github.com/mohammed-shakir/postgis-tile-cache/internal/scenarios/baseline"
	_ "github.com/mohammed-shakir/postgis-tile-cache/internal/scenarios/cache"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Scenario:  cfg.Scenario,
		Component: "tileserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	observability.SetScenario(cfg.Scenario)
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"scenario", cfg.Scenario,
		"cache_ttl", cfg.CacheTTL.String())

	gw, err := gateway.New(appLog, gateway.Config{
		DSN:              cfg.DatabaseURL,
		AppName:          cfg.AppName,
		ConnectTimeout:   cfg.ConnectTimeout,
		StatementTimeout: cfg.StatementTimeout,
	})
	if err != nil {
		appLog.Error("failed to initialize gateway", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := scenarios.New(ctx, cfg.Scenario, cfg, appLog, gw)
	if err != nil {
		appLog.Error("scenario setup failed", "err", err)
		return 1
	}

	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	if err := startInvalidation(ctx, cfg.Invalidation, appLog, src); err != nil {
		appLog.Error("invalidation setup failed", "err", err)
		return 1
	}

	if err := server.Run(ctx, cfg, appLog, src, gw); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// startInvalidation runs the configured event driver in the background.
func startInvalidation(ctx context.Context, cfg config.InvalidationCfg, lg *slog.Logger, src any) error {
	if !cfg.Enabled || cfg.Driver == "none" {
		return nil
	}
	target, ok := src.(scenarios.Invalidator)
	if !ok {
		lg.Warn("invalidation enabled but scenario holds no cache; ignoring", "driver", cfg.Driver)
		return nil
	}
	apply, err := invalidation.NewApplier(cfg.Driver, target, lg)
	if err != nil {
		return err
	}

	switch cfg.Driver {
	case "kafka":
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg), lg, apply)
		go func() {
			if err := cons.Start(ctx); err != nil {
				lg.Error("kafka invalidation consumer stopped", "err", err)
			}
		}()
	case "redis":
		sub, err := redissub.New(ctx, cfg.RedisAddr, cfg.Channel, lg, apply)
		if err != nil {
			return err
		}
		go func() {
			defer func() { _ = sub.Close() }()
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("redis invalidation subscriber stopped", "err", err)
			}
		}()
	default:
		return fmt.Errorf("unknown invalidation driver %q", cfg.Driver)
	}
	return nil
}
