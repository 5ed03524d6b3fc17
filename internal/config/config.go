// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables with PARLEY_ prefix (runtime override)
//  2. Config file (~/.parley/config.yaml)
//  3. Default values
//
// DATABASE_URL, when set, overrides the individual postgres_* settings;
// this is the common single-variable form used by cloud deployments.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultModelName = "googleai/gemini-2.5-flash"
	DefaultAddr      = "127.0.0.1:8800"

	DefaultPostgresHost    = "localhost"
	DefaultPostgresPort    = 5432
	DefaultPostgresUser    = "parley"
	DefaultPostgresDBName  = "parley"
	DefaultPostgresSSLMode = "disable"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config stores application configuration.
type Config struct {
	// Model configuration
	ModelName string `mapstructure:"model_name"` // provider-qualified, e.g. "googleai/gemini-2.5-flash"

	// HTTP server
	Addr string `mapstructure:"addr"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Logging
	LogLevel string `mapstructure:"log_level"` // debug|info|warn|error
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, in ascending priority.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("postgres_host", DefaultPostgresHost)
	v.SetDefault("postgres_port", DefaultPostgresPort)
	v.SetDefault("postgres_user", DefaultPostgresUser)
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", DefaultPostgresDBName)
	v.SetDefault("postgres_ssl_mode", DefaultPostgresSSLMode)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.parley")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; anything else is a real error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values needed to serve connections.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1,65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}
