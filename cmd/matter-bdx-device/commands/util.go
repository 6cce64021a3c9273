package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/backkem/matter-bdx/internal/config"
	"github.com/backkem/matter-bdx/internal/telemetry"
	"github.com/backkem/matter-bdx/pkg/diaglog"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// configPath returns the --config value or the default file.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return DefaultConfigFile
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

// loggerFactory writes pion logs to the command's stderr at the configured
// level.
func loggerFactory(cmd *cobra.Command, cfg *config.Config) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = cmd.ErrOrStderr()
	f.DefaultLogLevel = cfg.Logging.LogLevel()
	return f
}

// openStore opens the persistent diagnostic log store. An in-memory store
// would lose every write when the command exits, so a path is required.
func openStore(cmd *cobra.Command, cfg *config.Config) (*diaglog.Store, error) {
	if cfg.Diagnostics.InMemory || cfg.Diagnostics.Path == "" {
		return nil, errors.New("stored logs need diagnostics.path set and diagnostics.in_memory off")
	}
	return diaglog.Open(diaglog.Config{
		Path:          cfg.Diagnostics.Path,
		ChunkSize:     cfg.Diagnostics.ChunkSize,
		MaxLogSize:    cfg.Diagnostics.MaxLogSize,
		LoggerFactory: loggerFactory(cmd, cfg),
	})
}

// startTelemetry sets up tracing per the configuration.
func startTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	return telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
		ServiceVersion: Version,
	})
}

// metricsServer serves a registry on /metrics.
type metricsServer struct {
	registry *prometheus.Registry
	server   *http.Server
	addr     net.Addr
	done     chan error
}

// startMetrics returns a registry for the transfer metrics, served over
// HTTP when metrics are enabled. The server is nil otherwise.
func startMetrics(cfg *config.Config, log logging.LeveledLogger) (*metricsServer, error) {
	m := &metricsServer{registry: prometheus.NewRegistry()}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if !cfg.Metrics.Enabled {
		return m, nil
	}

	ln, err := net.Listen("tcp", cfg.Metrics.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", cfg.Metrics.Listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.addr = ln.Addr()
	m.done = make(chan error, 1)
	go func() {
		err := m.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		m.done <- err
	}()
	log.Infof("serving metrics on http://%s/metrics", m.addr)
	return m, nil
}

// Close stops the HTTP server, if any.
func (m *metricsServer) Close() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}
	return <-m.done
}
