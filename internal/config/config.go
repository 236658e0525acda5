// Package config loads the server configuration from a YAML file, an optional
// .env file and CALENDAR_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "calendar.db"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestTimeout bounds every API request; blocked store calls are cancelled.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
}

// DatabasePath returns the path of the SQLite database file.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.DataDir, DatabaseFile)
}

// AuthConfig controls bearer token authentication.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	JWTSecret  string        `yaml:"jwt_secret"`
	Issuer     string        `yaml:"issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// EventsConfig controls the event ledger.
type EventsConfig struct {
	// MutationPolicy is one of "member", "owner" or "creator".
	MutationPolicy  string `yaml:"mutation_policy"`
	ConflictRetries int    `yaml:"conflict_retries"`
}

// AvailabilityConfig controls the availability aggregator.
type AvailabilityConfig struct {
	RestrictToShared bool          `yaml:"restrict_to_shared"`
	MaxWindow        time.Duration `yaml:"max_window"`
	MaxOccurrences   int           `yaml:"max_occurrences"`
}

// RepairConfig controls the background repair job.
type RepairConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Auth         AuthConfig         `yaml:"auth"`
	Events       EventsConfig       `yaml:"events"`
	Availability AvailabilityConfig `yaml:"availability"`
	Repair       RepairConfig       `yaml:"repair"`
	Log          LogConfig          `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			BusyTimeoutMS: 5000,
			MaxOpenConns:  4,
			MaxIdleConns:  4,
		},
		Auth: AuthConfig{
			Enabled:    false,
			Issuer:     "cad-gcw",
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		Events: EventsConfig{
			MutationPolicy:  "member",
			ConflictRetries: 5,
		},
		Availability: AvailabilityConfig{
			RestrictToShared: true,
			MaxWindow:        31 * 24 * time.Hour,
			MaxOccurrences:   1000,
		},
		Repair: RepairConfig{
			Enabled: true,
			Spec:    "@every 5m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize fills zero values with defaults so partially filled files behave.
func (c *Config) Normalize() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Storage.BusyTimeoutMS <= 0 {
		c.Storage.BusyTimeoutMS = d.Storage.BusyTimeoutMS
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = d.Storage.MaxOpenConns
	}
	if c.Storage.MaxIdleConns <= 0 {
		c.Storage.MaxIdleConns = d.Storage.MaxIdleConns
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = d.Auth.Issuer
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = d.Auth.TokenTTL
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = d.Auth.BcryptCost
	}
	c.Events.MutationPolicy = strings.ToLower(strings.TrimSpace(c.Events.MutationPolicy))
	if c.Events.MutationPolicy == "" {
		c.Events.MutationPolicy = d.Events.MutationPolicy
	}
	if c.Events.ConflictRetries <= 0 {
		c.Events.ConflictRetries = d.Events.ConflictRetries
	}
	if c.Availability.MaxWindow <= 0 {
		c.Availability.MaxWindow = d.Availability.MaxWindow
	}
	if c.Availability.MaxOccurrences <= 0 {
		c.Availability.MaxOccurrences = d.Availability.MaxOccurrences
	}
	if c.Repair.Spec == "" {
		c.Repair.Spec = d.Repair.Spec
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Events.MutationPolicy {
	case "member", "owner", "creator":
	default:
		return fmt.Errorf("events.mutation_policy: unknown policy %q", c.Events.MutationPolicy)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Load builds the configuration. An empty path or a missing file yields the
// defaults; a .env file in the working directory is loaded if present, and
// CALENDAR_* environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = getEnv("CALENDAR_ADDR", cfg.Server.Addr)
	cfg.Storage.DataDir = getEnv("CALENDAR_DATA_DIR", cfg.Storage.DataDir)
	cfg.Auth.JWTSecret = getEnv("CALENDAR_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Events.MutationPolicy = getEnv("CALENDAR_MUTATION_POLICY", cfg.Events.MutationPolicy)
	cfg.Repair.Spec = getEnv("CALENDAR_REPAIR_SPEC", cfg.Repair.Spec)
	cfg.Log.Level = getEnv("CALENDAR_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("CALENDAR_LOG_FORMAT", cfg.Log.Format)

	var err error
	if cfg.Auth.Enabled, err = getEnvBool("CALENDAR_AUTH_ENABLED", cfg.Auth.Enabled); err != nil {
		return err
	}
	if cfg.Availability.RestrictToShared, err = getEnvBool("CALENDAR_AVAILABILITY_RESTRICT", cfg.Availability.RestrictToShared); err != nil {
		return err
	}
	if cfg.Repair.Enabled, err = getEnvBool("CALENDAR_REPAIR_ENABLED", cfg.Repair.Enabled); err != nil {
		return err
	}
	return nil
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
