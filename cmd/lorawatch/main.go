package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lorawatch/lorawan-analyzer/internal/app"
	"github.com/lorawatch/lorawan-analyzer/internal/broadcast"
	"github.com/lorawatch/lorawan-analyzer/internal/config"
	"github.com/lorawatch/lorawan-analyzer/internal/observability"
	"github.com/lorawatch/lorawan-analyzer/internal/operator"
	"github.com/lorawatch/lorawan-analyzer/internal/pipeline"
	"github.com/lorawatch/lorawan-analyzer/internal/session"
	"github.com/lorawatch/lorawan-analyzer/internal/storage"
	"github.com/lorawatch/lorawan-analyzer/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.New(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, observability.WithJSON(cfg.LogJSON))
	metrics := observability.NewMetrics()

	if err := store.Migrate(cfg.PostgresURL); err != nil {
		logger.Error("apply schema migrations", slog.Any("error", err))
		os.Exit(1)
	}

	sources, err := app.BuildSources(cfg)
	if err != nil {
		logger.Error("build mqtt sources", slog.Any("error", err))
		os.Exit(1)
	}

	matcher := operator.NewMatcher()
	matcher.ReloadDevAddrRules(append(operator.BuildNetIDRules(), operator.RulesFromCustomOperators(app.CustomOperatorsFromConfig(cfg))...))

	tracker := session.NewTracker()
	stopSweeper := make(chan struct{})
	tracker.RunSweeper(
		time.Duration(cfg.SessionSweepPeriod)*time.Second,
		time.Duration(cfg.SessionMaxAge)*time.Second,
		stopSweeper,
	)
	defer close(stopSweeper)

	writer := storage.NewWriter(storage.Config{
		PostgresURL:   cfg.PostgresURL,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
	}, storage.WithLogger(logger), storage.WithMetrics(metrics))

	if err := writer.Start(ctx); err != nil {
		logger.Error("start storage writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Stop(); err != nil {
			logger.Error("stop storage writer", slog.Any("error", err))
		}
	}()

	broadcaster := broadcast.NewBroadcaster(logger)

	pipe := pipeline.New(
		sources,
		matcher,
		tracker,
		[]pipeline.Sink{writer, broadcaster},
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	go func() {
		for err := range pipe.Errors() {
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Warn("pipeline error", slog.Any("error", err))
		}
	}()

	obsServer := observability.NewServer(observability.ServerConfig{
		Address: cfg.ObservabilityAddress,
		Logger:  logger,
		Metrics: metrics,
	})
	go obsServer.Run(ctx)

	logger.Info("lorawatch starting", slog.Int("brokers", len(sources)), slog.String("observability_address", cfg.ObservabilityAddress))

	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
