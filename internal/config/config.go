// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Storage and idempotency drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Storage       StorageConfig       `yaml:"storage"`
	Pagination    PaginationConfig    `yaml:"pagination"`
	Relations     RelationsConfig     `yaml:"relations"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes bearer token verification. Tokens are signed
// with an HMAC secret read from the environment variable SecretEnv.
type IdentityConfig struct {
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	SecretEnv  string        `yaml:"secret_env"`
	Algorithms []string      `yaml:"algorithms"`
	Leeway     time.Duration `yaml:"leeway"`
}

// Secret returns the signing secret.
func (c IdentityConfig) Secret() ([]byte, error) {
	v := os.Getenv(c.SecretEnv)
	if v == "" {
		return nil, fmt.Errorf("config: identity secret %s is not set", c.SecretEnv)
	}
	return []byte(v), nil
}

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	Driver         string `yaml:"driver"`
	DSNEnv         string `yaml:"dsn_env"`
	MaxConns       int32  `yaml:"max_conns"`
	SeedFile       string `yaml:"seed_file"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// DSN returns the database connection string.
func (c StorageConfig) DSN() string {
	return os.Getenv(c.DSNEnv)
}

// PaginationConfig describes list paging defaults.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// RelationsConfig holds per-relation update policies.
type RelationsConfig struct {
	Managers RelationConfig `yaml:"managers"`
}

// RelationConfig describes how a many-valued relation is updated.
type RelationConfig struct {
	// EmptyMeansNoop treats an empty desired set as "no change" instead of
	// "remove everyone".
	EmptyMeansNoop bool `yaml:"empty_means_noop"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// Addr returns the Redis address.
func (c IdempotencyConfig) Addr() string {
	return os.Getenv(c.AddrEnv)
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "PUT", "PATCH", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv:  "STOREFRONT_JWT_SECRET",
			Algorithms: []string{"HS256"},
			Leeway:     30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			DSNEnv:   "STOREFRONT_DATABASE_URL",
			MaxConns: 10,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 3,
			MaxPageSize:     100,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Driver:  DriverMemory,
			AddrEnv: "STOREFRONT_REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			LogFile: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid. Every
// failure is reported.
func (c *Config) Validate() error {
	var err error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if c.Identity.SecretEnv == "" {
		err = multierr.Append(err, fmt.Errorf("identity.secret_env is required"))
	}
	for _, alg := range c.Identity.Algorithms {
		if alg != "HS256" && alg != "HS384" && alg != "HS512" {
			err = multierr.Append(err, fmt.Errorf("identity.algorithms: unsupported algorithm %q", alg))
		}
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN() == "" {
			err = multierr.Append(err, fmt.Errorf("storage: %s must be set for the postgres driver", c.Storage.DSNEnv))
		}
		if c.Storage.MaxConns < 1 {
			err = multierr.Append(err, fmt.Errorf("storage.max_conns must be at least 1"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("storage.driver %q must be memory or postgres", c.Storage.Driver))
	}

	if c.Pagination.DefaultPageSize < 1 {
		err = multierr.Append(err, fmt.Errorf("pagination.default_page_size must be at least 1"))
	}
	if c.Pagination.MaxPageSize < c.Pagination.DefaultPageSize {
		err = multierr.Append(err, fmt.Errorf("pagination.max_page_size must not be below default_page_size"))
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case DriverMemory:
		case DriverRedis:
			if c.Idempotency.Addr() == "" {
				err = multierr.Append(err, fmt.Errorf("idempotency: %s must be set for the redis driver", c.Idempotency.AddrEnv))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("idempotency.driver %q must be memory or redis", c.Idempotency.Driver))
		}
		if c.Idempotency.TTL <= 0 {
			err = multierr.Append(err, fmt.Errorf("idempotency.ttl must be positive"))
		}
	}

	if c.Observability.Tracing.SamplingRate < 0 || c.Observability.Tracing.SamplingRate > 1 {
		err = multierr.Append(err, fmt.Errorf("observability.tracing.sampling_rate must be between 0 and 1"))
	}

	return err
}

// applyEnvOverrides reads STOREFRONT_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) error {
	var err error

	if v := os.Getenv("STOREFRONT_SERVER_PORT"); v != "" {
		port, perr := strconv.Atoi(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("config: STOREFRONT_SERVER_PORT: %w", perr))
		} else {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STOREFRONT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STOREFRONT_STORAGE_SEED_FILE"); v != "" {
		cfg.Storage.SeedFile = v
	}
	if v := os.Getenv("STOREFRONT_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Idempotency.Driver = v
	}
	if v := os.Getenv("STOREFRONT_RELATIONS_MANAGERS_EMPTY_MEANS_NOOP"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("config: STOREFRONT_RELATIONS_MANAGERS_EMPTY_MEANS_NOOP: %w", perr))
		} else {
			cfg.Relations.Managers.EmptyMeansNoop = b
		}
	}
	if v := os.Getenv("STOREFRONT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("STOREFRONT_OBSERVABILITY_LOG_FILE"); v != "" {
		cfg.Observability.LogFile.Path = v
	}

	return err
}
