// Package config centralizes how bucketimport reads its process settings from
// the environment (and an optional .env file) and exposes them as typed values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every variable, e.g. BUCKETIMPORT_DRY_RUN.
const EnvPrefix = "BUCKETIMPORT"

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// Config represents runtime configuration shared by the CLI, the HTTP trigger
// and the worker. The mapping rules themselves live in the JSON file named by
// ConfigPath.
type Config struct {
	Address    string
	LogLevel   string
	ConfigPath string
	DryRun     bool

	// APIBaseURL and APIToken override the values of the mapping file when set.
	APIBaseURL  string
	APIToken    string
	HTTPTimeout time.Duration

	StorageBackend   string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool
	S3ForcePathStyle bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Workers       int
	MaxRetry      int

	SigningSecret []byte
	MetricsAddr   string
	MaxEventBytes int64
}

const (
	defaultAddress       = ":8080"
	defaultLogLevel      = "info"
	defaultConfigPath    = "config.json"
	defaultHTTPTimeout   = 60 * time.Second
	defaultS3Endpoint    = "storage.googleapis.com"
	defaultS3Region      = "auto"
	defaultRedisAddr     = "localhost:6379"
	defaultWorkerCount   = 2
	defaultMaxRetry      = 5
	defaultMetricsAddr   = ":9090"
	defaultMaxEventBytes = 1 << 20 // 1 MiB
)

// Load reads configuration from the environment, falling back to defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("address", defaultAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("config_path", defaultConfigPath)
	// Live mode has to be switched on explicitly.
	v.SetDefault("dry_run", true)
	v.SetDefault("api_base_url", "")
	v.SetDefault("api_token", "")
	v.SetDefault("http_timeout", defaultHTTPTimeout)
	v.SetDefault("storage_backend", BackendMinio)
	v.SetDefault("s3_endpoint", defaultS3Endpoint)
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", defaultS3Region)
	v.SetDefault("s3_use_ssl", true)
	v.SetDefault("s3_force_path_style", true)
	v.SetDefault("redis_addr", defaultRedisAddr)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("workers", defaultWorkerCount)
	v.SetDefault("max_retry", defaultMaxRetry)
	v.SetDefault("signing_secret", "")
	v.SetDefault("metrics_addr", defaultMetricsAddr)
	v.SetDefault("max_event_bytes", defaultMaxEventBytes)

	cfg := &Config{
		Address:          v.GetString("address"),
		LogLevel:         strings.ToLower(v.GetString("log_level")),
		ConfigPath:       v.GetString("config_path"),
		DryRun:           v.GetBool("dry_run"),
		APIBaseURL:       v.GetString("api_base_url"),
		APIToken:         v.GetString("api_token"),
		HTTPTimeout:      v.GetDuration("http_timeout"),
		StorageBackend:   strings.ToLower(v.GetString("storage_backend")),
		S3Endpoint:       v.GetString("s3_endpoint"),
		S3AccessKey:      v.GetString("s3_access_key"),
		S3SecretKey:      v.GetString("s3_secret_key"),
		S3Region:         v.GetString("s3_region"),
		S3UseSSL:         v.GetBool("s3_use_ssl"),
		S3ForcePathStyle: v.GetBool("s3_force_path_style"),
		RedisAddr:        v.GetString("redis_addr"),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
		Workers:          v.GetInt("workers"),
		MaxRetry:         v.GetInt("max_retry"),
		MetricsAddr:      v.GetString("metrics_addr"),
		MaxEventBytes:    v.GetInt64("max_event_bytes"),
	}
	if secret := v.GetString("signing_secret"); secret != "" {
		cfg.SigningSecret = []byte(secret)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = defaultMaxRetry
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.MaxEventBytes <= 0 {
		cfg.MaxEventBytes = defaultMaxEventBytes
	}
	switch cfg.StorageBackend {
	case BackendMinio, BackendS3:
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", cfg.StorageBackend, BackendMinio, BackendS3)
	}
	return cfg, nil
}
