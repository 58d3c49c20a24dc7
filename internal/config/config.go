package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest accepted HMAC signing secret.
const MinJWTSecretLength = 32

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Sync            SyncConfig            `yaml:"sync"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	Log             LogConfig             `yaml:"log"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig contains sync engine settings. Batch size is fixed per
// deployment and never renegotiated at runtime.
type SyncConfig struct {
	BatchSize      int      `yaml:"batch_size"`
	MaxRetries     int      `yaml:"max_retries"`
	StoreTimeout   Duration `yaml:"store_timeout"`
	SessionHistory int      `yaml:"session_history"`
	IdempotencyTTL Duration `yaml:"idempotency_ttl"`
}

// AuthConfig contains bearer token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"-"` // env-only, never in YAML
	Issuer    string `yaml:"issuer"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	SnapshotInterval    Duration `yaml:"snapshot_interval"`
	MaintenanceInterval Duration `yaml:"maintenance_interval"`
}

// LogConfig contains logging settings. File is optional; when set, output
// goes to a size-rotated file instead of stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SnapshotStorageConfig contains S3-compatible storage settings for
// database snapshots. An empty Bucket keeps snapshots local.
type SnapshotStorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
	UseSSL    *bool  `yaml:"use_ssl"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TASKSYNC_CONFIG_PATH", "config/tasksync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseConfig returns the database settings without requiring the
// auth secret. Used by offline CLI commands.
func LoadDatabaseConfig() (*DatabaseConfig, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("TASKSYNC_CONFIG_PATH", "config/tasksync.yaml")); err != nil {
		return nil, err
	}
	if v := os.Getenv("TASKSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	return &cfg.Database, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tasksync.db",
		},
		Sync: SyncConfig{
			BatchSize:      50,
			MaxRetries:     3,
			StoreTimeout:   Duration(5 * time.Second),
			SessionHistory: 10,
			IdempotencyTTL: Duration(24 * time.Hour),
		},
		Auth: AuthConfig{
			Issuer: "",
		},
		Worker: WorkerConfig{
			SnapshotInterval:    Duration(1 * time.Hour),
			MaintenanceInterval: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		SnapshotStorage: SnapshotStorageConfig{
			Region: "us-east-1",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values; a value that does not
// parse is an error rather than a silent fallback.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	durVar := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
				return
			}
			*dst = Duration(d)
		}
	}
	strVar := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Server
	intVar("TASKSYNC_PORT", &cfg.Server.Port)
	durVar("TASKSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	durVar("TASKSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	durVar("TASKSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	strVar("TASKSYNC_DB_PATH", &cfg.Database.Path)

	// Sync
	intVar("TASKSYNC_BATCH_SIZE", &cfg.Sync.BatchSize)
	intVar("TASKSYNC_MAX_RETRIES", &cfg.Sync.MaxRetries)
	durVar("TASKSYNC_STORE_TIMEOUT", &cfg.Sync.StoreTimeout)
	intVar("TASKSYNC_SESSION_HISTORY", &cfg.Sync.SessionHistory)
	durVar("TASKSYNC_IDEMPOTENCY_TTL", &cfg.Sync.IdempotencyTTL)

	// Auth
	strVar("TASKSYNC_JWT_SECRET", &cfg.Auth.JWTSecret)
	strVar("TASKSYNC_JWT_ISSUER", &cfg.Auth.Issuer)

	// Worker
	durVar("TASKSYNC_SNAPSHOT_INTERVAL", &cfg.Worker.SnapshotInterval)
	durVar("TASKSYNC_MAINTENANCE_INTERVAL", &cfg.Worker.MaintenanceInterval)

	// Log
	strVar("TASKSYNC_LOG_LEVEL", &cfg.Log.Level)
	strVar("TASKSYNC_LOG_FORMAT", &cfg.Log.Format)
	strVar("TASKSYNC_LOG_FILE", &cfg.Log.File)

	// Snapshot storage
	strVar("TASKSYNC_SNAPSHOT_BUCKET", &cfg.SnapshotStorage.Bucket)
	strVar("TASKSYNC_S3_ENDPOINT", &cfg.SnapshotStorage.Endpoint)
	strVar("TASKSYNC_S3_REGION", &cfg.SnapshotStorage.Region)
	strVar("TASKSYNC_S3_ACCESS_KEY", &cfg.SnapshotStorage.AccessKey)
	strVar("TASKSYNC_S3_SECRET_KEY", &cfg.SnapshotStorage.SecretKey)
	if v := os.Getenv("TASKSYNC_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &b
	}

	return errors.Join(errs...)
}

// validate checks configuration once at startup.
// In dev mode (TASKSYNC_DEV_MODE=true), the JWT secret check is skipped.
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries))
	}
	if c.Sync.StoreTimeout <= 0 {
		errs = append(errs, errors.New("sync.store_timeout must be positive"))
	}
	if c.Sync.SessionHistory < 1 {
		errs = append(errs, fmt.Errorf("sync.session_history must be at least 1, got %d", c.Sync.SessionHistory))
	}
	if c.Sync.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("sync.idempotency_ttl must be positive"))
	}
	if c.Worker.SnapshotInterval <= 0 || c.Worker.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	if c.SnapshotStorage.Bucket != "" && c.SnapshotStorage.Endpoint == "" {
		errs = append(errs, errors.New("snapshot_storage.endpoint is required when bucket is set"))
	}

	if os.Getenv("TASKSYNC_DEV_MODE") != "true" {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("TASKSYNC_JWT_SECRET is required"))
		} else if len(c.Auth.JWTSecret) < MinJWTSecretLength {
			errs = append(errs, fmt.Errorf("TASKSYNC_JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
