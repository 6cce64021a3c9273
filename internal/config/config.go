// Package config loads the device configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (MATTER_BDX_*, e.g. MATTER_BDX_LOGGING_LEVEL=debug)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pion/logging"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MATTER_BDX"

// Config is the device configuration.
type Config struct {
	// Logging controls log output.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Node is this device's operational identity.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Transfer tunes both BDX transfer drivers.
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Diagnostics configures the diagnostic log store.
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`

	// OTA configures the OTA provider.
	OTA OTAConfig `mapstructure:"ota" yaml:"ota"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry configures OpenTelemetry tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level logged: trace, debug, info, warn, error
	// or disabled.
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error disabled" yaml:"level"`
}

// NodeConfig is the node's identity on its fabric.
type NodeConfig struct {
	// NodeID is the operational node ID advertised in image URIs.
	NodeID uint64 `mapstructure:"node_id" validate:"required" yaml:"node_id"`

	// FabricIndex is the local fabric index.
	FabricIndex uint8 `mapstructure:"fabric_index" validate:"min=1,max=254" yaml:"fabric_index"`
}

// TransferConfig tunes the BDX transfer drivers.
type TransferConfig struct {
	// MaxBlockSize proposed to peers.
	MaxBlockSize uint16 `mapstructure:"max_block_size" validate:"min=32" yaml:"max_block_size"`

	// SessionTimeout bounds the wait for any peer message.
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"gt=0" yaml:"session_timeout"`

	// InitTimeout bounds how long an armed OTA sender waits for the
	// requestor's init.
	InitTimeout time.Duration `mapstructure:"init_timeout" validate:"gt=0" yaml:"init_timeout"`

	// BlockTimeout bounds how long producing one block may take.
	BlockTimeout time.Duration `mapstructure:"block_timeout" validate:"gt=0" yaml:"block_timeout"`

	// PollInterval is the protocol engine poll period.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`
}

// DiagnosticsConfig configures the diagnostic log store.
type DiagnosticsConfig struct {
	// Path is the badger directory. Required unless InMemory is set.
	Path string `mapstructure:"path" validate:"required_unless=InMemory true" yaml:"path"`

	// InMemory keeps logs in memory only.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// MaxLogSize bounds each intent's log in bytes.
	MaxLogSize int `mapstructure:"max_log_size" validate:"gt=0" yaml:"max_log_size"`

	// ChunkSize is the store's chunk size in bytes.
	ChunkSize int `mapstructure:"chunk_size" validate:"gt=0" yaml:"chunk_size"`
}

// OTAConfig configures the OTA provider.
type OTAConfig struct {
	// ImageDir holds the .ota images offered to requestors. Empty disables
	// the provider's catalog.
	ImageDir string `mapstructure:"image_dir" yaml:"image_dir"`

	// Watch rescans ImageDir when its contents change.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// Verify checks each image's payload digest when it is scanned.
	Verify bool `mapstructure:"verify" yaml:"verify"`

	// BusyDelay is the retry hint returned while the sender is busy.
	BusyDelay time.Duration `mapstructure:"busy_delay" validate:"gt=0" yaml:"busy_delay"`

	// ApplyDelay is the DelayedActionTime returned with Proceed.
	ApplyDelay time.Duration `mapstructure:"apply_delay" validate:"gte=0" yaml:"apply_delay"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the metrics listen address.
	Listen string `mapstructure:"listen" validate:"hostname_port" yaml:"listen"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	// Enabled exports transfer spans over OTLP.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure dials the collector without TLS.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of sessions traced, 0 to 1.
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`
}

// LogLevel returns the pion log level for Logging.Level.
func (c LoggingConfig) LogLevel() logging.LogLevel {
	switch strings.ToLower(c.Level) {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	case "disabled":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelInfo
	}
}

var validate = validator.New()

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Load reads the configuration at path, applies environment overrides and
// defaults, and validates the result. A missing file yields the defaults
// with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper knows, so every key gets a default.
	for key, value := range defaultKeys() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
