// Package config loads and validates the CDM server's static
// configuration (SPEC_FULL §10): listen socket path, Main Thread queue
// depth, per-operation timeouts, supported key systems, OCDM library
// search paths, and telemetry/metrics toggles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rialto-project/cdm-server/internal/bytesize"
)

// Config is the CDM server's static configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (CDM_*), for keys present in the file
//  2. Configuration file (YAML)
//  3. Default values
//
// Environment variables are read only when a configuration file is found,
// and only for keys that file sets; without a file, Load returns the
// defaults.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" validate:"required"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Drm       DrmConfig       `mapstructure:"drm" yaml:"drm" validate:"required"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"omitempty,gte=0,lte=1"`
}

// ServerConfig configures the Main Thread and the IPC listener.
type ServerConfig struct {
	// ListenSocketPath is the Unix-domain socket the IPC listener binds.
	ListenSocketPath string `mapstructure:"listen_socket_path" yaml:"listen_socket_path" validate:"required"`

	// MainThreadQueueSize bounds the Main Thread's task queue.
	MainThreadQueueSize int `mapstructure:"main_thread_queue_size" yaml:"main_thread_queue_size" validate:"omitempty,min=1"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaxFrameSize bounds the size of a single IPC frame the listener will
	// allocate a buffer for. A malformed or hostile length prefix larger
	// than this is rejected before any allocation happens.
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" yaml:"max_frame_size" validate:"omitempty,min=1"`
}

// TimeoutsConfig bounds how long each CDM operation may occupy the Main
// Thread before its caller's context is considered timed out.
type TimeoutsConfig struct {
	GenerateRequest time.Duration `mapstructure:"generate_request" yaml:"generate_request" validate:"omitempty,gt=0"`
	LoadSession     time.Duration `mapstructure:"load_session" yaml:"load_session" validate:"omitempty,gt=0"`
	UpdateSession   time.Duration `mapstructure:"update_session" yaml:"update_session" validate:"omitempty,gt=0"`
	Decrypt         time.Duration `mapstructure:"decrypt" yaml:"decrypt" validate:"omitempty,gt=0"`
	CloseSession    time.Duration `mapstructure:"close_session" yaml:"close_session" validate:"omitempty,gt=0"`
}

// DrmConfig configures the native DRM adapter's key-system support and
// library discovery.
type DrmConfig struct {
	// SupportedKeySystems lists the key systems this server will
	// construct native DRM sessions for.
	SupportedKeySystems []string `mapstructure:"supported_key_systems" yaml:"supported_key_systems" validate:"required,min=1,dive,required"`

	// LibrarySearchPaths lists directories searched for OCDM shared
	// libraries, in order.
	LibrarySearchPaths []string `mapstructure:"library_search_paths" yaml:"library_search_paths"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load reads configuration from file, environment, and defaults, applies
// defaults for unset fields, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if found {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cdm-server")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cdm-server")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
