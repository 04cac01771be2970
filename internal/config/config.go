// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port              string  `mapstructure:"PORT"`
	StoreBackend      string  `mapstructure:"STORE_BACKEND"`
	DatabaseURL       string  `mapstructure:"DB_DSN"`
	JWTSecret         string  `mapstructure:"JWT_SECRET"`
	SessionTTLSeconds int     `mapstructure:"SESSION_TTL_SECONDS"`
	AdminPasswordHash string  `mapstructure:"ADMIN_PASSWORD_HASH"`
	AudioDir          string  `mapstructure:"AUDIO_DIR"`
	ResetHour         int     `mapstructure:"RESET_HOUR"`
	ResetMinute       int     `mapstructure:"RESET_MINUTE"`
	Timezone          string  `mapstructure:"TIMEZONE"`
	PollIntervalMS    int     `mapstructure:"POLL_INTERVAL_MS"`
	QueueCASRetries   int     `mapstructure:"QUEUE_CAS_RETRIES"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
	BreakerFailures   int     `mapstructure:"BREAKER_FAILURES"`
	BreakerTimeoutSec int     `mapstructure:"BREAKER_TIMEOUT_SECONDS"`
	LogLevel          string  `mapstructure:"LOG_LEVEL"`
	LogFormat         string  `mapstructure:"LOG_FORMAT"`
	OTLPEndpoint      string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure      bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Location is Timezone resolved by Load.
	Location *time.Location `mapstructure:"-"`
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"STORE_BACKEND":               BackendMemory,
	"SESSION_TTL_SECONDS":         43200,
	"AUDIO_DIR":                   "./audio",
	"RESET_HOUR":                  6,
	"RESET_MINUTE":                0,
	"TIMEZONE":                    "Local",
	"POLL_INTERVAL_MS":            500,
	"QUEUE_CAS_RETRIES":           5,
	"RATE_LIMIT_RPS":              20,
	"RATE_LIMIT_BURST":            40,
	"BREAKER_FAILURES":            5,
	"BREAKER_TIMEOUT_SECONDS":     10,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"OTEL_EXPORTER_OTLP_INSECURE": true,
}

var envKeys = []string{
	"PORT",
	"STORE_BACKEND",
	"DB_DSN",
	"JWT_SECRET",
	"SESSION_TTL_SECONDS",
	"ADMIN_PASSWORD_HASH",
	"AUDIO_DIR",
	"RESET_HOUR",
	"RESET_MINUTE",
	"TIMEZONE",
	"POLL_INTERVAL_MS",
	"QUEUE_CAS_RETRIES",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"BREAKER_FAILURES",
	"BREAKER_TIMEOUT_SECONDS",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE",
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads path if it exists and overlays the environment on top.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings and resolves Location.
func (c *Config) Validate() error {
	var errs []error
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DB_DSN is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory or postgres, got %q", c.StoreBackend))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.ResetHour < 0 || c.ResetHour > 23 {
		errs = append(errs, errors.New("RESET_HOUR must be between 0 and 23"))
	}
	if c.ResetMinute < 0 || c.ResetMinute > 59 {
		errs = append(errs, errors.New("RESET_MINUTE must be between 0 and 59"))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_MS must be positive"))
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	c.Location = loc
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSec) * time.Second
}
