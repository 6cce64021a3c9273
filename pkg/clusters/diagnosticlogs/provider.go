package diagnosticlogs

import (
	"errors"
	"fmt"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
)

// errCollectionEnded is a block request after the log was released.
var errCollectionEnded = errors.New("diagnosticlogs: log collection already ended")

// ProviderConfig configures a BDXProvider.
type ProviderConfig struct {
	// Transfer configures the provider's driver. Its Strategy is set by
	// the provider; Name defaults to "diagnostics".
	Transfer transfer.Config

	// Go runs one CollectLog call off the executor. Defaults to a new
	// goroutine; the driver's BlockTimeout bounds how long it may take.
	Go func(fn func())

	// LoggerFactory for provider logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// RequestContext identifies the command a transfer answers.
type RequestContext struct {
	// Path of the RetrieveLogsRequest.
	Path datamodel.ConcreteCommandPath

	// Peer is the requesting node, which receives the log.
	Peer fabric.PeerID

	// Handle answers the command once the peer accepts or the transfer fails.
	Handle *clusters.CommandHandle
}

// logTransfer is the log collection behind one session.
type logTransfer struct {
	rc       RequestContext
	delegate LogDelegate
	session  LogSession

	collecting bool // a CollectLog call is in flight
	endPending bool // the session ended while collecting
	ended      bool
}

// BDXProvider sends a diagnostic log to the requesting node over BDX, in
// sender drive. It owns the diagnostics driver and is its strategy.
//
// StartTransfer and IsBusy must be called on the driver's executor.
type BDXProvider struct {
	driver *transfer.Driver
	exec   transfer.Executor
	spawn  func(fn func())
	log    logging.LeveledLogger

	active *logTransfer
}

// NewBDXProvider creates a provider and its driver.
func NewBDXProvider(config ProviderConfig) (*BDXProvider, error) {
	p := &BDXProvider{
		exec:  config.Transfer.Executor,
		spawn: config.Go,
	}
	if p.spawn == nil {
		p.spawn = func(fn func()) { go fn() }
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("diaglogs")
	}

	tc := config.Transfer
	tc.Strategy = p
	if tc.Name == "" {
		tc.Name = transfer.SubsystemDiagnostics.String()
	}
	d, err := transfer.NewDriver(tc)
	if err != nil {
		return nil, err
	}
	p.driver = d
	return p, nil
}

// Driver returns the provider's driver, for registration and shutdown.
func (p *BDXProvider) Driver() *transfer.Driver { return p.driver }

// Executor returns the executor the provider runs on.
func (p *BDXProvider) Executor() transfer.Executor { return p.exec }

// IsBusy reports whether a log transfer is in flight.
func (p *BDXProvider) IsBusy() bool { return p.driver.IsBusy() }

// StartTransfer opens a log collection session for intent and offers the
// log to rc.Peer under fileDesignator.
//
// On success rc.Handle is answered later: Success with the log timestamps
// once the peer accepts, or Denied if the transfer fails first. On error
// nothing was started and rc.Handle is untouched: transfer.ErrBusy while
// another transfer runs, ErrNoLogs when the delegate has no log, and any
// other error when the transfer could not be started.
func (p *BDXProvider) StartTransfer(rc RequestContext, delegate LogDelegate, intent Intent, fileDesignator string) error {
	if p.driver.IsBusy() {
		return transfer.ErrBusy
	}
	if delegate == nil {
		return fmt.Errorf("%w: no log delegate", transfer.ErrInvalidArgument)
	}
	if n := len(fileDesignator); n == 0 || n > MaxFileDesignatorLength {
		return fmt.Errorf("%w: file designator length %d", transfer.ErrInvalidArgument, n)
	}

	session, err := delegate.StartLogCollection(intent)
	if err != nil {
		if errors.Is(err, ErrNoLogs) {
			return ErrNoLogs
		}
		return fmt.Errorf("diagnosticlogs: start log collection: %w", err)
	}

	lt := &logTransfer{rc: rc, delegate: delegate, session: session}
	p.active = lt
	err = p.driver.InitializeTransfer(transfer.InitiateParams{
		Peer:           rc.Peer,
		FileDesignator: []byte(fileDesignator),
		Response:       transfer.NewPendingResponse(func(o transfer.Outcome) { p.respond(lt, o) }),
	})
	if err != nil {
		p.active = nil
		p.end(lt)
		return err
	}
	if p.log != nil {
		p.log.Infof("sending %s log to %s as %q", intent, rc.Peer, fileDesignator)
	}
	return nil
}

func (p *BDXProvider) respond(lt *logTransfer, o transfer.Outcome) {
	if lt.rc.Handle == nil {
		return
	}
	var resp *RetrieveLogsResponse
	if o == transfer.OutcomeSuccess {
		resp = newResponse(StatusFromOutcome(o), nil, lt.session)
	} else {
		resp = &RetrieveLogsResponse{Status: StatusFromOutcome(o)}
	}
	if err := lt.rc.Handle.AddResponse(lt.rc.Path, resp); err != nil && p.log != nil {
		p.log.Warnf("answering %s: %v", lt.rc.Path, err)
	}
}

// end releases the log source exactly once. A release requested while
// CollectLog runs is carried out when it returns.
func (p *BDXProvider) end(lt *logTransfer) {
	if lt.ended {
		return
	}
	if lt.collecting {
		lt.endPending = true
		return
	}
	lt.ended = true
	if err := lt.delegate.EndLogCollection(lt.session.Handle); err != nil && p.log != nil {
		p.log.Warnf("ending log collection %d: %v", lt.session.Handle, err)
	}
}

// OnInitReceived implements transfer.Strategy. The provider only initiates.
func (p *BDXProvider) OnInitReceived(info transfer.InitInfo) (bdx.TransferAcceptData, error) {
	return bdx.TransferAcceptData{}, &bdx.ProtocolError{Code: bdx.StatusUnexpectedMessage, Reason: "log provider does not accept inits"}
}

// OnAcceptReceived implements transfer.Strategy.
func (p *BDXProvider) OnAcceptReceived() {
	if p.log != nil && p.active != nil {
		p.log.Debugf("%s accepted the log transfer", p.active.rc.Peer)
	}
}

// ProduceBlock implements transfer.Strategy. The block is read by CollectLog
// off the executor; the log source is released as soon as it reports the
// end of the log.
func (p *BDXProvider) ProduceBlock(req transfer.BlockRequest, reply transfer.BlockReply) {
	lt := p.active
	if lt == nil || lt.ended || lt.endPending {
		reply(nil, false, errCollectionEnded)
		return
	}

	buf := make([]byte, req.BlockSize)
	lt.collecting = true
	p.spawn(func() {
		n, eol, err := lt.delegate.CollectLog(lt.session.Handle, buf)
		p.exec.Post(func() { p.collected(lt, buf, n, eol, err, reply) })
	})
}

func (p *BDXProvider) collected(lt *logTransfer, buf []byte, n int, eol bool, err error, reply transfer.BlockReply) {
	lt.collecting = false
	if lt.endPending {
		// The session is gone; reply is dropped by the driver.
		p.end(lt)
		return
	}
	switch {
	case err != nil:
		reply(nil, false, fmt.Errorf("diagnosticlogs: collect log: %w", err))
		return
	case n < 0 || n > len(buf):
		reply(nil, false, fmt.Errorf("diagnosticlogs: collect log returned %d bytes for a %d byte block", n, len(buf)))
		return
	case n == 0 && !eol:
		// A log that yields nothing but is not finished cannot progress.
		reply(nil, false, nil)
		return
	}
	if eol {
		p.end(lt)
	}
	reply(buf[:n], eol, nil)
}

// OnTransferComplete implements transfer.Strategy.
func (p *BDXProvider) OnTransferComplete() {
	if p.log != nil && p.active != nil {
		p.log.Infof("log transfer to %s complete", p.active.rc.Peer)
	}
}

// OnSessionEnd implements transfer.Strategy.
func (p *BDXProvider) OnSessionEnd(err error) {
	lt := p.active
	p.active = nil
	if lt == nil {
		return
	}
	p.end(lt)
	if err != nil && p.log != nil {
		p.log.Infof("log transfer to %s failed: %v", lt.rc.Peer, err)
	}
}

// Verify BDXProvider implements transfer.Strategy.
var _ transfer.Strategy = (*BDXProvider)(nil)
