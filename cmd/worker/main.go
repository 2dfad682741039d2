package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/config"
	"github.com/dharsanguruparan/bucketimport/internal/importapi"
	"github.com/dharsanguruparan/bucketimport/internal/logging"
	"github.com/dharsanguruparan/bucketimport/internal/mapping"
	"github.com/dharsanguruparan/bucketimport/internal/metrics"
	"github.com/dharsanguruparan/bucketimport/internal/s3storage"
	"github.com/dharsanguruparan/bucketimport/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	overrides := mapping.Overrides{BaseURL: cfg.APIBaseURL, APIToken: cfg.APIToken}
	importCfg, err := mapping.LoadFile(cfg.ConfigPath, overrides)
	if err != nil {
		logger.Fatal("load mapping config", zap.String("path", cfg.ConfigPath), zap.Error(err))
	}
	if !cfg.DryRun {
		if err := importCfg.RequireLive(); err != nil {
			logger.Fatal("mapping config not usable for live mode", zap.Error(err))
		}
	}

	store, err := s3storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}

	metrics.Init()
	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      logger.Sugar(),
	})
	processor := worker.NewProcessor(
		worker.FileLoader(cfg.ConfigPath, overrides),
		store,
		cfg.DryRun,
		logger,
		importapi.WithTimeout(cfg.HTTPTimeout),
		importapi.WithObserver(metrics.ObserveSubmit),
	)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker starting",
		zap.Int("rules", len(importCfg.Rules)),
		zap.String("storage", store.Backend()),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Int("concurrency", cfg.Workers))
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
