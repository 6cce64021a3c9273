package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/backkem/matter-bdx/internal/config"
	"github.com/backkem/matter-bdx/internal/telemetry"
	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/clusters/diagnosticlogs"
	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/ota"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Errors returned by the simulator.
var (
	ErrNoUpdate   = errors.New("device: no update offered")
	ErrNotStarted = errors.New("device: downloader did not start listening")
)

// peerNodeID is the simulated peer's node ID.
const peerNodeID = fabric.NodeID(0x0000_0000_0000_C0DE)

// listenTimeout bounds the wait for the downloader to start listening.
const listenTimeout = 2 * time.Second

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Settings is the device configuration. Required.
	Settings *config.Config

	// Registerer receives the device's transfer metrics. Optional.
	Registerer prometheus.Registerer

	// Telemetry supplies the device's tracers. Optional.
	Telemetry *telemetry.Provider

	// LoggerFactory for both sides. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Simulator runs a device and a simulated peer (a controller collecting
// logs, or an OTA requestor) joined by an in-memory link.
type Simulator struct {
	pair       *exchange.TestManagerPair
	device     *Device
	downloader *transfer.Downloader
	log        logging.LeveledLogger
}

// NewSimulator builds the device on side 0 of a test manager pair and the
// peer on side 1.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("device: settings are required")
	}
	fi := fabric.FabricIndex(cfg.Settings.Node.FabricIndex)
	pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{
		LoggerFactory: cfg.LoggerFactory,
		Peers: [2]fabric.PeerID{
			fabric.NewPeerID(fi, fabric.NodeID(cfg.Settings.Node.NodeID)),
			fabric.NewPeerID(fi, peerNodeID),
		},
	})
	if err != nil {
		return nil, err
	}
	d, err := New(Config{
		Settings:      cfg.Settings,
		Exchanges:     pair.Manager(0),
		Registerer:    cfg.Registerer,
		Telemetry:     cfg.Telemetry,
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		pair.Close()
		return nil, err
	}
	dl, err := transfer.NewDownloader(transfer.DownloaderConfig{
		Exchanges:      transfer.BDXExchanges(pair.Manager(1)),
		MaxBlockSize:   cfg.Settings.Transfer.MaxBlockSize,
		SessionTimeout: cfg.Settings.Transfer.SessionTimeout,
		PollInterval:   cfg.Settings.Transfer.PollInterval,
		LoggerFactory:  cfg.LoggerFactory,
	})
	if err != nil {
		d.Close()
		pair.Close()
		return nil, err
	}
	s := &Simulator{pair: pair, device: d, downloader: dl}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("simulator")
	}
	return s, nil
}

// Device returns the simulated device.
func (s *Simulator) Device() *Device { return s.device }

// Peer returns the simulated peer's identity.
func (s *Simulator) Peer() fabric.PeerID { return s.pair.Peer(1) }

// Close shuts down the device and the link.
func (s *Simulator) Close() error {
	err := s.device.Close()
	s.pair.Close()
	return err
}

// LogResult is the outcome of RetrieveLogs.
type LogResult struct {
	Status   diagnosticlogs.Status
	Bytes    int
	Blocks   uint32
	OverBDX  bool
	Captured time.Time
	Uptime   *time.Duration
}

// RetrieveLogs asks the device for the intent's log as the controller and
// writes what arrives, inline or over BDX, to w.
func (s *Simulator) RetrieveLogs(ctx context.Context, intent diagnosticlogs.Intent,
	protocol diagnosticlogs.TransferProtocol, designator string, w io.Writer) (LogResult, error) {
	type received struct {
		dl  transfer.Download
		err error
	}
	var (
		buf     bytes.Buffer
		results chan received
		pending bool
		cancel  context.CancelFunc = func() {}
	)
	if protocol == diagnosticlogs.ProtocolBDX {
		var rctx context.Context
		rctx, cancel = context.WithCancel(ctx)
		results = make(chan received, 1)
		pending = true
		go func() {
			dl, err := s.downloader.Receive(rctx, &buf)
			results <- received{dl, err}
		}()
	}
	// An unused receive is cancelled and waited for, so the downloader is
	// idle again on return.
	defer func() {
		cancel()
		if pending {
			<-results
		}
	}()
	if pending {
		if err := s.waitListening(ctx); err != nil {
			return LogResult{}, err
		}
	}

	req := &diagnosticlogs.RetrieveLogsRequest{Intent: intent, RequestedProtocol: protocol}
	if protocol == diagnosticlogs.ProtocolBDX {
		req.TransferFileDesignator = &designator
	}
	a, err := s.device.Invoke(ctx, 0, diagnosticlogs.ClusterID, s.Peer(), req)
	if err != nil {
		return LogResult{}, err
	}
	if !a.IsResponse {
		return LogResult{}, fmt.Errorf("device: RetrieveLogs answered %s", a.Status)
	}
	var resp diagnosticlogs.RetrieveLogsResponse
	if err := clusters.DecodeRequest(a.Data, &resp); err != nil {
		return LogResult{}, err
	}

	res := LogResult{Status: resp.Status}
	if resp.UTCTimeStamp != nil {
		res.Captured = diagnosticlogs.FromEpochMicros(*resp.UTCTimeStamp)
	}
	if resp.TimeSinceBoot != nil {
		up := time.Duration(*resp.TimeSinceBoot) * time.Microsecond
		res.Uptime = &up
	}
	if resp.Status != diagnosticlogs.StatusSuccess && resp.Status != diagnosticlogs.StatusExhausted {
		return res, nil
	}
	if len(resp.LogContent) > 0 || results == nil {
		res.Bytes = len(resp.LogContent)
		_, err := w.Write(resp.LogContent)
		return res, err
	}

	r := <-results
	pending = false
	if r.err != nil {
		return res, fmt.Errorf("device: receive log: %w", r.err)
	}
	res.OverBDX = true
	res.Bytes = buf.Len()
	res.Blocks = r.dl.Blocks
	if s.log != nil {
		s.log.Debugf("received %s log: %d bytes in %d blocks", intent, res.Bytes, res.Blocks)
	}
	_, err = w.Write(buf.Bytes())
	return res, err
}

func (s *Simulator) waitListening(ctx context.Context) error {
	deadline := time.Now().Add(listenTimeout)
	for !s.downloader.Listening() {
		if time.Now().After(deadline) {
			return ErrNotStarted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// UpdateQuery describes the simulated OTA requestor.
type UpdateQuery struct {
	VendorID        uint16
	ProductID       uint16
	SoftwareVersion uint32
}

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	Status        otaprovider.QueryStatus
	URI           string
	Version       uint32
	VersionString string
	Bytes         uint64
	Blocks        uint32
	Action        otaprovider.ApplyUpdateAction
	Delay         time.Duration
}

// Update runs a whole software update as the requestor: QueryImage, a BDX
// pull of the offered image, digest verification, ApplyUpdateRequest and
// NotifyUpdateApplied. The image is written to w.
func (s *Simulator) Update(ctx context.Context, q UpdateQuery, w io.Writer) (UpdateResult, error) {
	var query otaprovider.QueryImageResponse
	if err := s.invokeOTA(ctx, &otaprovider.QueryImageRequest{
		VendorID:           q.VendorID,
		ProductID:          q.ProductID,
		SoftwareVersion:    q.SoftwareVersion,
		ProtocolsSupported: []otaprovider.DownloadProtocol{otaprovider.ProtocolBDXSynchronous},
	}, &query); err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{Status: query.Status}
	if query.Status != otaprovider.QueryStatusUpdateAvailable || query.ImageURI == nil {
		return res, ErrNoUpdate
	}
	res.URI = *query.ImageURI
	if query.SoftwareVersion != nil {
		res.Version = *query.SoftwareVersion
	}
	if query.SoftwareVersionString != nil {
		res.VersionString = *query.SoftwareVersionString
	}

	_, designator, err := otaprovider.ParseImageURI(res.URI)
	if err != nil {
		return res, err
	}
	var image bytes.Buffer
	dl, err := s.downloader.Fetch(ctx, s.pair.Peer(0), designator, 0, &image)
	if err != nil {
		return res, fmt.Errorf("device: fetch image: %w", err)
	}
	res.Bytes = dl.Bytes
	res.Blocks = dl.Blocks
	if s.log != nil {
		s.log.Debugf("fetched %s: %d bytes in %d blocks", designator, res.Bytes, res.Blocks)
	}
	if _, h, err := ota.Parse(image.Bytes()); err != nil {
		return res, err
	} else if h.SoftwareVersion != res.Version {
		return res, fmt.Errorf("device: image carries version %d, offered %d", h.SoftwareVersion, res.Version)
	}
	if _, err := w.Write(image.Bytes()); err != nil {
		return res, err
	}

	var apply otaprovider.ApplyUpdateResponse
	if err := s.invokeOTA(ctx, &otaprovider.ApplyUpdateRequest{
		UpdateToken: query.UpdateToken,
		NewVersion:  res.Version,
	}, &apply); err != nil {
		return res, err
	}
	res.Action = apply.Action
	res.Delay = time.Duration(apply.DelayedActionTime) * time.Second
	if apply.Action != otaprovider.ApplyActionProceed {
		return res, nil
	}

	a, err := s.device.Invoke(ctx, 0, otaprovider.ClusterID, s.Peer(), &otaprovider.NotifyUpdateAppliedRequest{
		UpdateToken:     query.UpdateToken,
		SoftwareVersion: res.Version,
	})
	if err != nil {
		return res, err
	}
	if a.Status != datamodel.StatusSuccess {
		return res, fmt.Errorf("device: NotifyUpdateApplied answered %s", a.Status)
	}
	return res, nil
}

func (s *Simulator) invokeOTA(ctx context.Context, req clusters.Response, resp clusters.TLVUnmarshaler) error {
	a, err := s.device.Invoke(ctx, 0, otaprovider.ClusterID, s.Peer(), req)
	if err != nil {
		return err
	}
	if !a.IsResponse {
		return fmt.Errorf("device: command 0x%02x answered %s", uint32(req.CommandID()), a.Status)
	}
	return clusters.DecodeRequest(a.Data, resp)
}
