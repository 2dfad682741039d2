package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/dispatch"
	"github.com/dharsanguruparan/bucketimport/internal/importapi"
	"github.com/dharsanguruparan/bucketimport/internal/mapping"
	"github.com/dharsanguruparan/bucketimport/internal/metrics"
	"github.com/dharsanguruparan/bucketimport/internal/queue"
)

// ConfigLoader returns the mapping configuration for one task. The worker
// calls it per task so edits to the mapping file apply without a restart.
type ConfigLoader func() (*mapping.ImportConfig, error)

// FileLoader loads the mapping file at path with overrides applied.
func FileLoader(path string, overrides mapping.Overrides) ConfigLoader {
	return func() (*mapping.ImportConfig, error) {
		return mapping.LoadFile(path, overrides)
	}
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	load       ConfigLoader
	storage    dispatch.Storage
	dryRun     bool
	logger     *zap.Logger
	clientOpts []importapi.Option
}

// NewProcessor constructs a worker processor. clientOpts are passed to the
// import API client built for every task.
func NewProcessor(load ConfigLoader, storage dispatch.Storage, dryRun bool, logger *zap.Logger, clientOpts ...importapi.Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		load:       load,
		storage:    storage,
		dryRun:     dryRun,
		logger:     logger,
		clientOpts: clientOpts,
	}
}

// Handler registers the object event handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ObjectEventTask, p.handleObjectEvent)
	return mux
}

// handleObjectEvent runs one event. Payload and configuration errors skip
// retries since redelivery cannot fix them; everything else is returned so
// asynq redelivers up to the task's retry limit.
func (p *Processor) handleObjectEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeObjectEvent(task)
	if err != nil {
		metrics.Events.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.logger.With(zap.String("event_id", payload.EventID))
	failure := func(label string, err error) error {
		metrics.Events.WithLabelValues(label).Inc()
		log.Error("import failed",
			zap.String("bucket", payload.Event.Bucket),
			zap.String("object", payload.Event.Name),
			zap.Error(err))
		var cfgErr *mapping.ConfigError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	cfg, err := p.load()
	if err != nil {
		return failure("config_error", err)
	}
	client := importapi.NewClient(cfg.BaseURL, cfg.APIToken, log, p.clientOpts...)
	outcome, err := dispatch.New(cfg, p.storage, client, log).Handle(ctx, payload.Event, p.dryRun)
	if err != nil {
		var subErr *importapi.SubmissionError
		if errors.As(err, &subErr) {
			return failure("rejected", err)
		}
		var cfgErr *mapping.ConfigError
		if errors.As(err, &cfgErr) {
			return failure("config_error", err)
		}
		return failure("failed", err)
	}
	metrics.Events.WithLabelValues(string(outcome)).Inc()
	return nil
}
