package config

import (
	"time"

	"github.com/rialto-project/cdm-server/internal/bytesize"
)

const (
	defaultListenSocketPath    = "/var/run/cdm-server/cdm.sock"
	defaultMainThreadQueueSize = 256
	defaultShutdownTimeout     = 30 * time.Second
	defaultMaxFrameSize        = 4 * bytesize.MiB

	defaultGenerateRequestTimeout = 5 * time.Second
	defaultLoadSessionTimeout     = 5 * time.Second
	defaultUpdateSessionTimeout   = 5 * time.Second
	defaultDecryptTimeout         = 2 * time.Second
	defaultCloseSessionTimeout    = 5 * time.Second

	defaultMetricsPort = 9090
)

var defaultSupportedKeySystems = []string{
	"com.widevine.alpha",
	"com.microsoft.playready",
}

var defaultLibrarySearchPaths = []string{
	"/usr/lib/ocdm",
	"/usr/local/lib/ocdm",
}

// Defaults returns a Config populated entirely with default values —
// the configuration a fresh CDM server runs with if no config file and
// no environment overrides are present.
func Defaults() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields of cfg with sensible
// defaults. Explicitly-set values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applyTimeoutsDefaults(&cfg.Timeouts)
	applyDrmDefaults(&cfg.Drm)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenSocketPath == "" {
		cfg.ListenSocketPath = defaultListenSocketPath
	}
	if cfg.MainThreadQueueSize == 0 {
		cfg.MainThreadQueueSize = defaultMainThreadQueueSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
}

func applyTimeoutsDefaults(cfg *TimeoutsConfig) {
	if cfg.GenerateRequest == 0 {
		cfg.GenerateRequest = defaultGenerateRequestTimeout
	}
	if cfg.LoadSession == 0 {
		cfg.LoadSession = defaultLoadSessionTimeout
	}
	if cfg.UpdateSession == 0 {
		cfg.UpdateSession = defaultUpdateSessionTimeout
	}
	if cfg.Decrypt == 0 {
		cfg.Decrypt = defaultDecryptTimeout
	}
	if cfg.CloseSession == 0 {
		cfg.CloseSession = defaultCloseSessionTimeout
	}
}

func applyDrmDefaults(cfg *DrmConfig) {
	if len(cfg.SupportedKeySystems) == 0 {
		cfg.SupportedKeySystems = append([]string(nil), defaultSupportedKeySystems...)
	}
	if len(cfg.LibrarySearchPaths) == 0 {
		cfg.LibrarySearchPaths = append([]string(nil), defaultLibrarySearchPaths...)
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultMetricsPort
	}
}
