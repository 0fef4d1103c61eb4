package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from env / config file.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Versions VersionsConfig `mapstructure:"versions"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	KMS      KMSConfig      `mapstructure:"kms"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`  // development | production
	Port    int    `mapstructure:"port"` // HTTP API port
	Version string `mapstructure:"version"`
	// PublicBaseURL prefixes the public verification link returned with QR payloads.
	PublicBaseURL string `mapstructure:"public_base_url"`
	// RateLimit is requests per second per client; 0 disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	// DSN empty selects the in-process store (development only).
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "s3", "fs", "multi"
	FSRoot  string `mapstructure:"fs_root"`
}

// S3Config holds credentials for an S3-compatible provider.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// ForcePathStyle must be true for Garage / MinIO
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	StorageClass   string `mapstructure:"storage_class"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type LedgerConfig struct {
	// Secret is mixed into every audit fingerprint. SecretEnc, when set, is the
	// same value sealed with kms.key and takes precedence.
	Secret        string `mapstructure:"secret"`
	SecretEnc     string `mapstructure:"secret_enc"`
	NotifyWebhook string `mapstructure:"notify_webhook"`
}

type VersionsConfig struct {
	Strategy      string `mapstructure:"strategy"` // auto | transactional | optimistic | best_effort
	MaxRetries    int    `mapstructure:"max_retries"`
	InitialStatus string `mapstructure:"initial_status"` // APPROVED | PENDING
}

type WorkflowConfig struct {
	// Strict makes REVOKED terminal.
	Strict bool `mapstructure:"strict"`
}

type WorkerConfig struct {
	// How often the scheduler looks for scopes with new ledger activity
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	Concurrency       int           `mapstructure:"concurrency"`
	// MetricsPort serves the worker's /metrics; 0 disables it.
	MetricsPort int `mapstructure:"metrics_port"`
	// Snapshots archives every verified scope to object storage.
	Snapshots bool `mapstructure:"snapshots"`
}

type KMSConfig struct {
	Key string `mapstructure:"key"`
}

// Load reads configuration from environment variables and optional config file.
// Environment variable prefix: DOCAUTH_
// Example: DOCAUTH_APP_PORT=8080.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("docauth")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docauth")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "docauth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.public_base_url", "http://localhost:8080")
	v.SetDefault("app.rate_limit", 20)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.fs_root", "./data/snapshots")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.storage_class", "STANDARD")

	v.SetDefault("jwt.expiration", "24h")
	v.SetDefault("jwt.secret", "")

	v.SetDefault("ledger.secret", "")
	v.SetDefault("ledger.secret_enc", "")
	v.SetDefault("ledger.notify_webhook", "")

	v.SetDefault("versions.strategy", "auto")
	v.SetDefault("versions.max_retries", 5)
	v.SetDefault("versions.initial_status", "APPROVED")

	v.SetDefault("workflow.strict", false)

	v.SetDefault("worker.scheduler_interval", "1m")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.metrics_port", 9091)
	v.SetDefault("worker.snapshots", true)

	v.SetDefault("kms.key", "")
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("DOCAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every binary depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.Secret == "" && c.Ledger.SecretEnc == "" {
		errs = append(errs, errors.New("ledger.secret or ledger.secret_enc is required"))
	}
	if c.Ledger.SecretEnc != "" && c.KMS.Key == "" {
		errs = append(errs, errors.New("kms.key is required to unseal ledger.secret_enc"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Versions.Strategy {
	case "auto", "transactional", "optimistic", "best_effort":
	default:
		errs = append(errs, fmt.Errorf("versions.strategy %q is not one of auto, transactional, optimistic, best_effort", c.Versions.Strategy))
	}
	switch c.Versions.InitialStatus {
	case "APPROVED", "PENDING":
	default:
		errs = append(errs, fmt.Errorf("versions.initial_status %q must be APPROVED or PENDING", c.Versions.InitialStatus))
	}
	if c.Versions.MaxRetries < 0 {
		errs = append(errs, errors.New("versions.max_retries must not be negative"))
	}
	switch c.Storage.Backend {
	case "s3", "fs", "multi":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of s3, fs, multi", c.Storage.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
