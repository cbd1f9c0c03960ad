// Package config loads the zonedemo configuration from a file, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ZONED_LOGGING_LEVEL.
const EnvPrefix = "ZONED"

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Demo      DemoConfig      `mapstructure:"demo"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the listen address of the /metrics endpoint.
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string `mapstructure:"endpoint" validate:"required"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`

	// SampleRate is the fraction of isolations traced, from 0 to 1.
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// DemoConfig sizes the demo workload.
type DemoConfig struct {
	// Isolations is the number of isolations run.
	Isolations int `mapstructure:"isolations" validate:"gte=1,lte=100000"`

	// Workers bounds how many isolations run at once.
	Workers int `mapstructure:"workers" validate:"gte=1,lte=1024"`

	// TickInterval is the period of the per-isolation ticker.
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"gt=0"`

	// Ticks is how many ticks each isolation waits for.
	Ticks int `mapstructure:"ticks" validate:"gte=0,lte=1000"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{Insecure: true, SampleRate: 1},
		Demo:      DemoConfig{Ticks: 3},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with defaults and normalizes the log level.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "localhost:9090"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}

	if cfg.Demo.Isolations == 0 {
		cfg.Demo.Isolations = 16
	}
	if cfg.Demo.Workers == 0 {
		cfg.Demo.Workers = 4
	}
	if cfg.Demo.TickInterval == 0 {
		cfg.Demo.TickInterval = 10 * time.Millisecond
	}
}

// setDefaults registers every key with viper so that environment variables
// override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "localhost:9090")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("demo.isolations", 16)
	v.SetDefault("demo.workers", 4)
	v.SetDefault("demo.tick_interval", "10ms")
	v.SetDefault("demo.ticks", 3)
}

// Load reads configuration with the following precedence, highest first:
//  1. Environment variables (ZONED_*)
//  2. The config file at path, when path is not empty
//  3. Defaults
//
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
