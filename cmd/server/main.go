// Package main runs the HTTP trigger: it accepts storage notifications and
// queues them for the worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/api"
	"github.com/dharsanguruparan/bucketimport/internal/config"
	"github.com/dharsanguruparan/bucketimport/internal/logging"
	"github.com/dharsanguruparan/bucketimport/internal/metrics"
	"github.com/dharsanguruparan/bucketimport/internal/queue"
	"github.com/dharsanguruparan/bucketimport/internal/signing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	metrics.Init()
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	var signer *signing.Signer
	if cfg.SigningSecret != nil {
		signer = signing.NewSigner(cfg.SigningSecret)
	} else {
		logger.Warn("no signing secret configured, accepting unsigned notifications")
	}
	srv := api.New(cfg, queue.NewPublisher(client, cfg.MaxRetry), signer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
