package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/bucketimport/internal/config"
	"github.com/dharsanguruparan/bucketimport/internal/dispatch"
	"github.com/dharsanguruparan/bucketimport/internal/importapi"
	"github.com/dharsanguruparan/bucketimport/internal/logging"
	"github.com/dharsanguruparan/bucketimport/internal/mapping"
	"github.com/dharsanguruparan/bucketimport/internal/model"
	"github.com/dharsanguruparan/bucketimport/internal/queue"
	"github.com/dharsanguruparan/bucketimport/internal/s3storage"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bucketimport: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucketimport",
		Short: "Import bucket objects into the import API",
		Long: `bucketimport matches bucket object paths against the configured file_mappings,
posts matching objects to the import API and moves them to their processed folder.

Process settings come from BUCKETIMPORT_* environment variables (or a .env file);
the flags below take precedence.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Mapping config file (default $BUCKETIMPORT_CONFIG_PATH or config.json)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.AddCommand(
		newHandleCmd(),
		newEnqueueCmd(),
		newMatchCmd(),
		newValidateCmd(),
	)
	return cmd
}

// settings loads process config with the persistent flags applied.
func settings() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if configPath != "" {
		cfg.ConfigPath = configPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

func loadMapping(cfg *config.Config) (*mapping.ImportConfig, error) {
	return mapping.LoadFile(cfg.ConfigPath, mapping.Overrides{BaseURL: cfg.APIBaseURL, APIToken: cfg.APIToken})
}

// eventFlags collects an event either from individual flags or from a JSON
// notification file ("-" for stdin).
type eventFlags struct {
	bucket      string
	name        string
	contentType string
	eventFile   string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "Bucket holding the object")
	cmd.Flags().StringVar(&f.name, "name", "", "Object path inside the bucket")
	cmd.Flags().StringVar(&f.contentType, "content-type", model.DefaultContentType, "Content type sent to the import API")
	cmd.Flags().StringVarP(&f.eventFile, "event", "e", "", "Notification JSON file, or - for stdin")
}

func (f *eventFlags) events(stdin io.Reader) ([]model.StorageEvent, error) {
	if f.eventFile == "" {
		ev := model.StorageEvent{Bucket: f.bucket, Name: f.name, ContentType: f.contentType}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w (use --bucket and --name, or --event)", err)
		}
		return []model.StorageEvent{ev}, nil
	}
	var (
		data []byte
		err  error
	)
	if f.eventFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(f.eventFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return model.DecodeStorageEvents(data)
}

func newHandleCmd() *cobra.Command {
	var (
		ev   eventFlags
		live bool
	)
	cmd := &cobra.Command{
		Use:   "handle",
		Short: "Process one storage event synchronously",
		Long: `handle runs match, download, submit and rename for the given event in this process.
Without --live the run is simulated unless BUCKETIMPORT_DRY_RUN=false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := settings()
			if err != nil {
				return err
			}
			defer logger.Sync()
			events, err := ev.events(cmd.InOrStdin())
			if errors.Is(err, model.ErrIgnoredEvent) {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped\t%v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			importCfg, err := loadMapping(cfg)
			if err != nil {
				return err
			}
			dryRun := cfg.DryRun && !live
			store, err := s3storage.Open(ctx, cfg)
			if err != nil {
				return err
			}
			client := importapi.NewClient(importCfg.BaseURL, importCfg.APIToken, logger, importapi.WithTimeout(cfg.HTTPTimeout))
			d := dispatch.New(importCfg, store, client, logger)
			for _, e := range events {
				outcome, err := d.Handle(ctx, e, dryRun)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s/%s\n", outcome, e.Bucket, e.Name)
			}
			return nil
		},
	}
	ev.register(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "Perform downloads, submissions and renames")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var ev eventFlags
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a storage event for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := settings()
			if err != nil {
				return err
			}
			defer logger.Sync()
			events, err := ev.events(cmd.InOrStdin())
			if errors.Is(err, model.ErrIgnoredEvent) {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped\t%v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			for _, e := range events {
				id, err := queue.EnqueueObjectEvent(ctx, client, e, cfg.MaxRetry)
				if err != nil {
					return err
				}
				logger.Info("event queued", zap.String("event_id", id), zap.String("object", e.Name))
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	ev.register(cmd)
	return cmd
}

func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <object-path>...",
		Short: "Show which rule each object path resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := settings()
			if err != nil {
				return err
			}
			importCfg, err := loadMapping(cfg)
			if err != nil {
				return err
			}
			matcher := importCfg.Matcher()
			out := cmd.OutOrStdout()
			for _, p := range args {
				d := matcher.Resolve(p)
				if d.Rule == nil {
					fmt.Fprintf(out, "%s\t%s\n", p, d.Reason)
					continue
				}
				line := fmt.Sprintf("%s\t%s\t%s rule %q -> %s", p, d.Reason, d.Rule.Kind, d.Rule.Pattern, d.Rule.DefinitionID)
				if d.Matched() && d.Rule.HasDestination() {
					line += "\tmoves to " + dispatch.ProcessedPath(d.Rule.DestinationFolder, p, dispatch.DryRunJobID)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the mapping config and print the normalized rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := settings()
			if err != nil {
				return err
			}
			importCfg, err := loadMapping(cfg)
			if err != nil {
				return err
			}
			if live {
				if err := importCfg.RequireLive(); err != nil {
					return err
				}
			}
			type ruleView struct {
				Kind        string `json:"kind"`
				Pattern     string `json:"pattern"`
				Definition  string `json:"definition_id"`
				Destination string `json:"destination_folder,omitempty"`
			}
			rules := make([]ruleView, 0, len(importCfg.Rules))
			for _, r := range importCfg.Rules {
				rules = append(rules, ruleView{
					Kind:        r.Kind.String(),
					Pattern:     r.Pattern,
					Definition:  r.DefinitionID,
					Destination: r.DestinationFolder,
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"base_url":      importCfg.BaseURL,
				"api_token_set": importCfg.APIToken != "",
				"file_mappings": rules,
			})
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Also require base_url and api_token")
	return cmd
}
