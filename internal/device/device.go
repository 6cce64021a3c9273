// Package device assembles a BDX-capable node from its configuration: the
// diagnostic log store, the OTA image catalog, both transfer drivers with
// their shared executor, and the clusters that drive them.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backkem/matter-bdx/internal/config"
	"github.com/backkem/matter-bdx/internal/telemetry"
	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/diaglog"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/ota"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoExchanges is returned when Config.Exchanges is nil.
var ErrNoExchanges = errors.New("device: exchange manager is required")

// Config configures a Device.
type Config struct {
	// Settings is the loaded device configuration. Required.
	Settings *config.Config

	// Exchanges carries BDX traffic. Required.
	Exchanges *exchange.Manager

	// Registerer receives the transfer metrics. Optional.
	Registerer prometheus.Registerer

	// Telemetry supplies the drivers' tracers. Optional.
	Telemetry *telemetry.Provider

	// Clock drives transfer timers. Defaults to the real clock.
	Clock transfer.Clock

	// LoggerFactory for device logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Device is an assembled node.
type Device struct {
	nodeID     fabric.NodeID
	loop       *transfer.Loop
	registry   *transfer.Registry
	logs       *diaglog.Store
	catalog    *ota.Catalog
	provider   *diagnosticlogs.BDXProvider
	sender     *otaprovider.BDXSender
	dispatcher *clusters.Dispatcher
	log        logging.LeveledLogger
}

// New opens the device's stores and starts its transfer executor.
func New(cfg Config) (_ *Device, err error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("device: settings are required")
	}
	if cfg.Exchanges == nil {
		return nil, ErrNoExchanges
	}
	s := cfg.Settings

	d := &Device{
		nodeID:   fabric.NodeID(s.Node.NodeID),
		registry: transfer.NewRegistry(),
	}
	if cfg.LoggerFactory != nil {
		d.log = cfg.LoggerFactory.NewLogger("device")
	}
	// A failed build releases whatever it opened.
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.logs, err = diaglog.Open(diaglog.Config{
		Path:          s.Diagnostics.Path,
		InMemory:      s.Diagnostics.InMemory,
		ChunkSize:     s.Diagnostics.ChunkSize,
		MaxLogSize:    s.Diagnostics.MaxLogSize,
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	if s.OTA.ImageDir != "" {
		d.catalog, err = ota.NewCatalog(ota.CatalogConfig{
			Dir:           s.OTA.ImageDir,
			Verify:        s.OTA.Verify,
			LoggerFactory: cfg.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		if s.OTA.Watch {
			if err = d.catalog.Watch(); err != nil {
				return nil, err
			}
		}
	}

	var metrics *transfer.Metrics
	if cfg.Registerer != nil {
		metrics = transfer.NewMetrics(cfg.Registerer)
	}
	d.loop = transfer.NewLoop(transfer.LoopConfig{LoggerFactory: cfg.LoggerFactory})
	transferConfig := func(name string) transfer.Config {
		tc := transfer.Config{
			Name:           name,
			Exchanges:      transfer.BDXExchanges(cfg.Exchanges),
			Executor:       d.loop,
			Clock:          cfg.Clock,
			MaxBlockSize:   s.Transfer.MaxBlockSize,
			SessionTimeout: s.Transfer.SessionTimeout,
			PollInterval:   s.Transfer.PollInterval,
			InitTimeout:    s.Transfer.InitTimeout,
			BlockTimeout:   s.Transfer.BlockTimeout,
			Metrics:        metrics,
			LoggerFactory:  cfg.LoggerFactory,
		}
		if cfg.Telemetry != nil {
			tc.Tracer = cfg.Telemetry.Tracer("transfer/" + name)
		}
		return tc
	}

	d.provider, err = diagnosticlogs.NewBDXProvider(diagnosticlogs.ProviderConfig{
		Transfer:      transferConfig(transfer.SubsystemDiagnostics.String()),
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err = d.registry.Register(transfer.SubsystemDiagnostics, d.provider.Driver()); err != nil {
		return nil, err
	}

	otaCluster := otaprovider.Config{
		NodeID:        d.nodeID,
		BusyDelay:     s.OTA.BusyDelay,
		Apply:         proceedAfter(s.OTA.ApplyDelay),
		LoggerFactory: cfg.LoggerFactory,
		OnUpdateApplied: func(peer fabric.PeerID, version uint32) {
			if d.log != nil {
				d.log.Infof("%s now runs software version %d", peer, version)
			}
		},
	}
	if d.catalog != nil {
		delegate, derr := ota.NewFileDelegate(ota.FileDelegateConfig{
			Catalog:       d.catalog,
			LoggerFactory: cfg.LoggerFactory,
		})
		if derr != nil {
			return nil, derr
		}
		d.sender, err = otaprovider.NewBDXSender(otaprovider.SenderConfig{
			Transfer:      transferConfig(transfer.SubsystemOTA.String()),
			Delegate:      delegate,
			LoggerFactory: cfg.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		if err = d.registry.Register(transfer.SubsystemOTA, d.sender.Driver()); err != nil {
			return nil, err
		}
		otaCluster.Images = d.catalog
		otaCluster.Sender = d.sender
	}

	d.dispatcher = clusters.NewDispatcher(clusters.DispatcherConfig{LoggerFactory: cfg.LoggerFactory})
	if err = d.dispatcher.Register(diagnosticlogs.New(diagnosticlogs.Config{
		Delegate:      d.logs,
		Provider:      d.provider,
		LoggerFactory: cfg.LoggerFactory,
	})); err != nil {
		return nil, err
	}
	if err = d.dispatcher.Register(otaprovider.New(otaCluster)); err != nil {
		return nil, err
	}
	return d, nil
}

// proceedAfter answers every ApplyUpdateRequest with Proceed after delay.
func proceedAfter(delay time.Duration) otaprovider.ApplyPolicy {
	return func(fabric.PeerID, uint32) (otaprovider.ApplyUpdateAction, time.Duration) {
		return otaprovider.ApplyActionProceed, delay
	}
}

// NodeID returns the device's operational node ID.
func (d *Device) NodeID() fabric.NodeID { return d.nodeID }

// Logs returns the diagnostic log store.
func (d *Device) Logs() *diaglog.Store { return d.logs }

// Catalog returns the OTA image catalog, or nil without an image directory.
func (d *Device) Catalog() *ota.Catalog { return d.catalog }

// Registry returns the transfer driver registry.
func (d *Device) Registry() *transfer.Registry { return d.registry }

// Executor returns the executor both drivers run on.
func (d *Device) Executor() *transfer.Loop { return d.loop }

// Invoke runs a cluster command from peer over CASE and waits for its answer.
func (d *Device) Invoke(ctx context.Context, endpoint datamodel.EndpointID, cluster datamodel.ClusterID,
	peer fabric.PeerID, req clusters.Response) (clusters.Answer, error) {
	payload, err := clusters.EncodeResponse(req)
	if err != nil {
		return clusters.Answer{}, err
	}
	rec := clusters.NewResponseRecorder()
	d.dispatcher.Invoke(ctx, datamodel.InvokeRequest{
		Path: datamodel.ConcreteCommandPath{Endpoint: endpoint, Cluster: cluster, Command: req.CommandID()},
		Subject: &datamodel.SubjectDescriptor{
			FabricIndex: peer.FabricIndex,
			NodeID:      peer.NodeID,
			AuthMode:    datamodel.AuthModeCASE,
		},
	}, payload, rec)
	return rec.Wait(ctx)
}

// Busy reports whether sub has a transfer in flight.
func (d *Device) Busy(ctx context.Context, sub transfer.Subsystem) (bool, error) {
	var busy bool
	err := d.loop.Do(ctx, func() { busy = d.registry.IsBusy(sub) })
	return busy, err
}

// Close ends transfers in flight and releases the stores. Safe to call on
// a partly built device.
func (d *Device) Close() error {
	var errs []error
	if d.loop != nil {
		d.registry.Shutdown()
		// Let the posted resets run before the loop stops.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = d.loop.Do(ctx, func() {})
		cancel()
		d.loop.Close()
	}
	if d.catalog != nil {
		errs = append(errs, d.catalog.Close())
	}
	if d.logs != nil {
		errs = append(errs, d.logs.Close())
	}
	return errors.Join(errs...)
}
