package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DryRun {
		t.Fatalf("dry run should be the default")
	}
	if cfg.Address != ":8080" || cfg.ConfigPath != "config.json" || cfg.StorageBackend != BackendMinio {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Workers != 2 || cfg.MaxRetry != 5 || cfg.HTTPTimeout != time.Minute {
		t.Fatalf("unexpected worker defaults: %+v", cfg)
	}
	if cfg.SigningSecret != nil {
		t.Fatalf("signing secret should be unset by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BUCKETIMPORT_DRY_RUN", "false")
	t.Setenv("BUCKETIMPORT_API_TOKEN", "tok")
	t.Setenv("BUCKETIMPORT_HTTP_TIMEOUT", "5s")
	t.Setenv("BUCKETIMPORT_STORAGE_BACKEND", "S3")
	t.Setenv("BUCKETIMPORT_WORKERS", "0")
	t.Setenv("BUCKETIMPORT_SIGNING_SECRET", "shh")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DryRun || cfg.APIToken != "tok" || cfg.HTTPTimeout != 5*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.StorageBackend != BackendS3 {
		t.Fatalf("backend should be normalized, got %q", cfg.StorageBackend)
	}
	if cfg.Workers != 2 {
		t.Fatalf("non-positive worker count should fall back, got %d", cfg.Workers)
	}
	if string(cfg.SigningSecret) != "shh" {
		t.Fatalf("unexpected secret %q", cfg.SigningSecret)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BUCKETIMPORT_STORAGE_BACKEND", "ftp")
	if _, err := load(viper.New()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
