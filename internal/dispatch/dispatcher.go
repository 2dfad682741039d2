// Package dispatch runs one storage event through match, fetch, submit and
// rename. Each step only runs when the previous one succeeded.
package dispatch

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/importapi"
	"github.com/dharsanguruparan/bucketimport/internal/mapping"
	"github.com/dharsanguruparan/bucketimport/internal/model"
)

// DryRunJobID stands in for the job id when computing rename targets in dry
// run, where no job is created.
const DryRunJobID = "<job-id>"

// Storage is the bucket access the dispatcher needs.
type Storage interface {
	FetchBytes(ctx context.Context, bucket, objectPath string) ([]byte, error)
	Rename(ctx context.Context, bucket, objectPath, newPath string) error
}

// Submitter posts file contents to the import API.
type Submitter interface {
	Submit(ctx context.Context, definitionID string, body []byte, contentType string, dryRun bool) (importapi.Job, error)
}

// Outcome summarizes what Handle did with an event.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeImported Outcome = "imported"
	OutcomeMoved    Outcome = "moved"
	OutcomeDryRun   Outcome = "dry_run"
)

// Dispatcher wires a rule set to its storage and import API.
type Dispatcher struct {
	cfg       *mapping.ImportConfig
	matcher   *mapping.Matcher
	storage   Storage
	submitter Submitter
	logger    *zap.Logger
}

// New constructs a Dispatcher. When submitter is nil an importapi.Client is
// built from the configuration.
func New(cfg *mapping.ImportConfig, storage Storage, submitter Submitter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if submitter == nil {
		submitter = importapi.NewClient(cfg.BaseURL, cfg.APIToken, logger)
	}
	return &Dispatcher{
		cfg:       cfg,
		matcher:   cfg.Matcher(),
		storage:   storage,
		submitter: submitter,
		logger:    logger.With(zap.String("component", "dispatch")),
	}
}

// Handle processes a single event. Unmatched and already processed objects
// return OutcomeIgnored without error. A failed submission is returned as is
// and the object is left where it was.
func (d *Dispatcher) Handle(ctx context.Context, event model.StorageEvent, dryRun bool) (Outcome, error) {
	log := d.logger.With(
		zap.String("bucket", event.Bucket),
		zap.String("object", event.Name),
		zap.Bool("dry_run", dryRun),
	)

	rule, ok := d.matcher.Match(event.Name)
	if !ok {
		log.Info(fmt.Sprintf("Ignoring file %s. No match found in configured file_mappings.", event.Name))
		return OutcomeIgnored, nil
	}
	log.Info(fmt.Sprintf("Matched file %s. Using configured definition id %s.", event.Name, rule.DefinitionID),
		zap.String("definition_id", rule.DefinitionID))

	if !dryRun {
		if err := d.cfg.RequireLive(); err != nil {
			return "", err
		}
	}

	var content []byte
	if dryRun {
		log.Info(fmt.Sprintf("Will download storage object %s from bucket %s.", event.Name, event.Bucket))
	} else {
		var err error
		content, err = d.storage.FetchBytes(ctx, event.Bucket, event.Name)
		if err != nil {
			return "", fmt.Errorf("fetch %s/%s: %w", event.Bucket, event.Name, err)
		}
		log.Info(fmt.Sprintf("Downloaded storage object %s from bucket %s.", event.Name, event.Bucket),
			zap.Int("bytes", len(content)))
	}

	job, err := d.submitter.Submit(ctx, rule.DefinitionID, content, event.ContentType, dryRun)
	if err != nil {
		return "", err
	}

	if !rule.HasDestination() {
		if dryRun {
			return OutcomeDryRun, nil
		}
		return OutcomeImported, nil
	}

	jobID := job.ID
	if dryRun {
		jobID = DryRunJobID
	}
	target := ProcessedPath(rule.DestinationFolder, event.Name, jobID)
	if dryRun {
		log.Info(fmt.Sprintf("Will rename file from %s to: %s", event.Name, target))
		return OutcomeDryRun, nil
	}
	if err := d.storage.Rename(ctx, event.Bucket, event.Name, target); err != nil {
		return "", fmt.Errorf("rename %s to %s: %w", event.Name, target, err)
	}
	log.Info(fmt.Sprintf("Renamed file from %s to: %s", event.Name, target),
		zap.String("job_id", jobID))
	return OutcomeMoved, nil
}

// ProcessedPath returns where an imported object is moved:
// <destination>/<object path without extension>_<jobID><extension>.
func ProcessedPath(destination, objectPath, jobID string) string {
	ext := path.Ext(objectPath)
	if !strings.Contains(strings.TrimLeft(path.Base(objectPath), "."), ".") {
		// leading dots belong to the name: ".env" and "..hidden" have no extension
		ext = ""
	}
	stem := strings.TrimSuffix(objectPath, ext)
	return strings.TrimRight(destination, "/") + "/" + stem + "_" + jobID + ext
}
