package config

import (
	"strings"

	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/backkem/matter-bdx/pkg/diaglog"
	"github.com/backkem/matter-bdx/pkg/transfer"
)

// Default node identity used until the device is commissioned.
const (
	DefaultNodeID      = 0x0000_0000_0000_0001
	DefaultFabricIndex = 1
)

// DefaultMetricsListen is the metrics listen address.
const DefaultMetricsListen = ":9090"

// DefaultTelemetryEndpoint is the standard OTLP gRPC port on localhost.
const DefaultTelemetryEndpoint = "localhost:4317"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Telemetry: TelemetryConfig{Insecure: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields with defaults. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if cfg.Node.NodeID == 0 {
		cfg.Node.NodeID = DefaultNodeID
	}
	if cfg.Node.FabricIndex == 0 {
		cfg.Node.FabricIndex = DefaultFabricIndex
	}

	t := &cfg.Transfer
	if t.MaxBlockSize == 0 {
		t.MaxBlockSize = transfer.DefaultMaxBlockSize
	}
	if t.SessionTimeout == 0 {
		t.SessionTimeout = transfer.DefaultSessionTimeout
	}
	if t.InitTimeout == 0 {
		t.InitTimeout = transfer.DefaultInitTimeout
	}
	if t.BlockTimeout == 0 {
		t.BlockTimeout = transfer.DefaultBlockTimeout
	}
	if t.PollInterval == 0 {
		t.PollInterval = transfer.DefaultPollInterval
	}

	// Without a path the store lives in memory.
	if cfg.Diagnostics.Path == "" {
		cfg.Diagnostics.InMemory = true
	}
	if cfg.Diagnostics.MaxLogSize == 0 {
		cfg.Diagnostics.MaxLogSize = diaglog.DefaultMaxLogSize
	}
	if cfg.Diagnostics.ChunkSize == 0 {
		cfg.Diagnostics.ChunkSize = diaglog.DefaultChunkSize
	}

	if cfg.OTA.BusyDelay == 0 {
		cfg.OTA.BusyDelay = otaprovider.DefaultBusyDelay
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = DefaultTelemetryEndpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// defaultKeys lists every configuration key with its default, so that
// environment overrides apply even without a file.
func defaultKeys() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"logging.level":            d.Logging.Level,
		"node.node_id":             d.Node.NodeID,
		"node.fabric_index":        d.Node.FabricIndex,
		"transfer.max_block_size":  d.Transfer.MaxBlockSize,
		"transfer.session_timeout": d.Transfer.SessionTimeout,
		"transfer.init_timeout":    d.Transfer.InitTimeout,
		"transfer.block_timeout":   d.Transfer.BlockTimeout,
		"transfer.poll_interval":   d.Transfer.PollInterval,
		"diagnostics.path":         d.Diagnostics.Path,
		"diagnostics.in_memory":    false,
		"diagnostics.max_log_size": d.Diagnostics.MaxLogSize,
		"diagnostics.chunk_size":   d.Diagnostics.ChunkSize,
		"ota.image_dir":            d.OTA.ImageDir,
		"ota.watch":                d.OTA.Watch,
		"ota.verify":               d.OTA.Verify,
		"ota.busy_delay":           d.OTA.BusyDelay,
		"ota.apply_delay":          d.OTA.ApplyDelay,
		"metrics.enabled":          d.Metrics.Enabled,
		"metrics.listen":           d.Metrics.Listen,
		"telemetry.enabled":        d.Telemetry.Enabled,
		"telemetry.endpoint":       d.Telemetry.Endpoint,
		"telemetry.insecure":       d.Telemetry.Insecure,
		"telemetry.sample_rate":    d.Telemetry.SampleRate,
	}
}
