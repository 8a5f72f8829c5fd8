// Package config loads esgbu settings from a YAML file and ESGBU_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Audit archive drivers.
const (
	AuditNone   = "none"
	AuditMemory = "memory"
	AuditFS     = "fs"
	AuditS3     = "s3"
)

// Config is the full esgbu configuration.
type Config struct {
	Storage Storage `yaml:"storage"`
	Locks   Locks   `yaml:"locks"`
	Log     Log     `yaml:"log"`
	Audit   Audit   `yaml:"audit"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// Locks configures group locking.
type Locks struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

// Log configures the slog handler built by the CLI.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Audit configures where audit entries are archived.
type Audit struct {
	Driver    string `yaml:"driver" validate:"oneof=none memory fs s3"`
	Root      string `yaml:"root" validate:"required_if=Driver fs"`
	Bucket    string `yaml:"bucket" validate:"required_if=Driver s3"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `yaml:"path_style"`
	BatchSize int    `yaml:"batch_size" validate:"gte=1,lte=10000"`
}

// Metrics configures the Prometheus recorder.
type Metrics struct {
	Namespace string `yaml:"namespace" validate:"omitempty,alphanum"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: Storage{Driver: StorageSQLite, SQLitePath: "esgbu.db"},
		Locks:   Locks{TTL: 15 * time.Minute},
		Log:     Log{Level: "info", Format: "text"},
		Audit:   Audit{Driver: AuditNone, Region: "us-east-1", BatchSize: 100},
		Metrics: Metrics{Namespace: "esgbu"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ESGBU_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("ESGBU_STORAGE_DRIVER", &c.Storage.Driver)
	str("ESGBU_SQLITE_PATH", &c.Storage.SQLitePath)
	str("ESGBU_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("ESGBU_LOG_LEVEL", &c.Log.Level)
	str("ESGBU_LOG_FORMAT", &c.Log.Format)
	str("ESGBU_AUDIT_DRIVER", &c.Audit.Driver)
	str("ESGBU_AUDIT_ROOT", &c.Audit.Root)
	str("ESGBU_AUDIT_BUCKET", &c.Audit.Bucket)
	str("ESGBU_AUDIT_REGION", &c.Audit.Region)
	str("ESGBU_AUDIT_ENDPOINT", &c.Audit.Endpoint)
	str("ESGBU_METRICS_NAMESPACE", &c.Metrics.Namespace)

	if v, ok := lookup("ESGBU_LOCK_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ESGBU_LOCK_TTL: %w", err)
		}
		c.Locks.TTL = ttl
	}
	if v, ok := lookup("ESGBU_AUDIT_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ESGBU_AUDIT_PATH_STYLE: %w", err)
		}
		c.Audit.PathStyle = b
	}
	if v, ok := lookup("ESGBU_AUDIT_BATCH_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ESGBU_AUDIT_BATCH_SIZE: %w", err)
		}
		c.Audit.BatchSize = n
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Audit.Driver = strings.ToLower(c.Audit.Driver)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
