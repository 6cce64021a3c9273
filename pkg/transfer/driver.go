package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/pion/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Session defaults.
const (
	DefaultMaxBlockSize   = 1024
	DefaultSessionTimeout = 5 * time.Minute
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultInitTimeout    = 10 * time.Minute
	DefaultBlockTimeout   = 30 * time.Second
)

// State is the driver's lifecycle state.
type State int

const (
	// StateIdle holds no session.
	StateIdle State = iota
	// StateAwaitingAccept waits for the handshake to complete: the peer's
	// accept for an initiator, the peer's init for an armed responder.
	StateAwaitingAccept
	// StateActive is moving blocks.
	StateActive
	// StateClosing is tearing down.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingAccept:
		return "AwaitingAccept"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Config configures a Driver.
type Config struct {
	// Name labels logs, metrics and spans ("diagnostics", "ota").
	Name string

	// Exchanges opens and accepts BDX exchanges.
	Exchanges ExchangeManager

	// Executor serializes every driver entry point. Required.
	Executor Executor

	// Clock drives timers. Defaults to RealClock.
	Clock Clock

	// Strategy supplies blocks and observes session ends. Required.
	Strategy Strategy

	// MaxBlockSize proposed to peers. Defaults to DefaultMaxBlockSize.
	MaxBlockSize uint16

	// SessionTimeout bounds the wait for any peer response.
	// Defaults to DefaultSessionTimeout.
	SessionTimeout time.Duration

	// PollInterval is the protocol engine poll period.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// InitTimeout bounds how long an armed responder waits for the peer's
	// init. Defaults to DefaultInitTimeout.
	InitTimeout time.Duration

	// BlockTimeout bounds how long the strategy may take to produce one
	// block. Defaults to DefaultBlockTimeout.
	BlockTimeout time.Duration

	// Metrics is optional.
	Metrics *Metrics

	// Tracer records one span per session. Defaults to a no-op tracer.
	Tracer trace.Tracer

	// LoggerFactory for driver logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// InitiateParams starts a session in which this node sends a file it
// offers to the peer.
type InitiateParams struct {
	Peer           fabric.PeerID
	FileDesignator []byte
	Metadata       []byte

	// ControlMode proposed to the peer. Defaults to sender drive.
	ControlMode bdx.TransferControlFlags

	// Response is answered Success when the peer accepts, or Denied if the
	// session ends first. Optional.
	Response *PendingResponse
}

// PrepareParams arms a session in which the peer pulls a file from this node.
type PrepareParams struct {
	Peer fabric.PeerID

	// Modes this node accepts. Defaults to receiver drive.
	Modes bdx.TransferControlFlags
}

// Driver turns the output of one bdx.TransferSession into exchange traffic,
// block production and teardown. It runs at most one session at a time.
//
// Every method except Guard must be called on the driver's executor.
type Driver struct {
	name      string
	exchanges ExchangeManager
	exec      Executor
	clock     Clock
	strategy  Strategy
	metrics   *Metrics
	tracer    trace.Tracer
	log       logging.LeveledLogger
	binding   *binding

	maxBlockSize   uint16
	sessionTimeout time.Duration
	pollInterval   time.Duration
	initTimeout    time.Duration
	blockTimeout   time.Duration

	session    *bdx.TransferSession
	state      State
	peer       fabric.PeerID
	exchange   Exchange
	generation uint64
	pending    *PendingResponse

	listening    bool
	modes        bdx.TransferControlFlags
	initReceived bool
	blockPending bool
	closeErr     error
	pollTimer    Timer
	initTimer    Timer
	blockTimer   Timer
	span         trace.Span
	started      time.Time
	bytesSent    uint64
	blocksSent   uint32
}

// NewDriver creates an idle driver.
func NewDriver(config Config) (*Driver, error) {
	if config.Executor == nil || config.Strategy == nil || config.Exchanges == nil {
		return nil, ErrInvalidArgument
	}
	d := &Driver{
		name:           config.Name,
		exchanges:      config.Exchanges,
		exec:           config.Executor,
		clock:          config.Clock,
		strategy:       config.Strategy,
		metrics:        config.Metrics,
		tracer:         config.Tracer,
		maxBlockSize:   config.MaxBlockSize,
		sessionTimeout: config.SessionTimeout,
		pollInterval:   config.PollInterval,
		initTimeout:    config.InitTimeout,
		blockTimeout:   config.BlockTimeout,
		session:        bdx.NewTransferSession(),
	}
	d.binding = &binding{d: d}
	if d.clock == nil {
		d.clock = RealClock{}
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("transfer")
	}
	if d.maxBlockSize == 0 {
		d.maxBlockSize = DefaultMaxBlockSize
	}
	if d.sessionTimeout == 0 {
		d.sessionTimeout = DefaultSessionTimeout
	}
	if d.pollInterval == 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.initTimeout == 0 {
		d.initTimeout = DefaultInitTimeout
	}
	if d.blockTimeout == 0 {
		d.blockTimeout = DefaultBlockTimeout
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("transfer")
	}
	return d, nil
}

// IsBusy reports whether a session is in flight.
func (d *Driver) IsBusy() bool { return d.state != StateIdle }

// State returns the lifecycle state.
func (d *Driver) State() State { return d.state }

// Peer returns the session's peer, or the zero PeerID when idle.
func (d *Driver) Peer() fabric.PeerID { return d.peer }

// Generation returns the session generation. It increases on every reset.
func (d *Driver) Generation() uint64 { return d.generation }

// Name returns the driver's subsystem name.
func (d *Driver) Name() string { return d.name }

// Guard runs fn on the executor if the session generation is still gen.
// Safe to call from any goroutine.
func (d *Driver) Guard(gen uint64, fn func()) {
	d.exec.Post(func() {
		if d.generation != gen {
			d.metrics.recordStale(d.name)
			if d.log != nil {
				d.log.Debugf("%s: dropped callback for generation %d (now %d)", d.name, gen, d.generation)
			}
			return
		}
		fn()
	})
}

// InitializeTransfer opens an exchange to the peer and sends the init.
// On error nothing was started and the caller still owns its response.
func (d *Driver) InitializeTransfer(p InitiateParams) error {
	if d.IsBusy() {
		return ErrBusy
	}
	if n := len(p.FileDesignator); n == 0 || n > bdx.MaxFileDesignatorLength {
		return fmt.Errorf("%w: file designator length %d", ErrInvalidArgument, n)
	}
	mode := p.ControlMode
	if mode == 0 {
		mode = bdx.ControlSenderDrive
	}

	ex, err := d.exchanges.OpenExchange(p.Peer, d.binding)
	if err != nil {
		return fmt.Errorf("transfer: open exchange: %w", err)
	}
	now := d.clock.Now()
	err = d.session.InitiateTransfer(bdx.RoleSender, bdx.TransferInitData{
		TransferCtlFlags: mode,
		MaxBlockSize:     d.maxBlockSize,
		FileDesignator:   p.FileDesignator,
		Metadata:         p.Metadata,
	}, d.sessionTimeout, now)
	if err != nil {
		d.session.Reset()
		ex.Close()
		return fmt.Errorf("transfer: initiate: %w", err)
	}

	d.begin(p.Peer, now, attribute.String("bdx.file_designator", string(p.FileDesignator)))
	d.exchange = ex
	d.pending = p.Response
	d.pump()
	if d.state != StateIdle {
		d.schedulePoll()
	}
	return nil
}

// PrepareForTransfer arms the driver for an init from peer. While armed, a
// call for the same peer restarts the session; a call for another peer
// fails with ErrBusy.
func (d *Driver) PrepareForTransfer(p PrepareParams) error {
	if d.IsBusy() {
		if d.peer != p.Peer {
			return ErrBusy
		}
		if d.log != nil {
			d.log.Infof("%s: restarting session for %s", d.name, p.Peer)
		}
		d.Reset(ErrSuperseded)
	}
	if p.Peer.IsZero() {
		return fmt.Errorf("%w: no peer", ErrInvalidArgument)
	}
	modes := p.Modes
	if modes == 0 {
		modes = bdx.ControlReceiverDrive
	}

	now := d.clock.Now()
	if err := d.session.WaitForTransfer(bdx.RoleSender, modes, d.maxBlockSize, d.sessionTimeout, now); err != nil {
		d.session.Reset()
		return fmt.Errorf("transfer: wait for transfer: %w", err)
	}
	if err := d.exchanges.Listen(d.binding); err != nil {
		d.session.Reset()
		return fmt.Errorf("transfer: listen: %w", err)
	}

	d.begin(p.Peer, now)
	d.listening = true
	d.modes = modes
	gen := d.generation
	d.initTimer = d.clock.AfterFunc(d.initTimeout, func() {
		d.Guard(gen, func() {
			if !d.initReceived {
				d.Reset(ErrInitTimeout)
			}
		})
	})
	d.schedulePoll()
	return nil
}

func (d *Driver) begin(peer fabric.PeerID, now time.Time, attrs ...attribute.KeyValue) {
	d.state = StateAwaitingAccept
	d.peer = peer
	d.started = now
	attrs = append(attrs,
		attribute.String("bdx.subsystem", d.name),
		attribute.String("bdx.peer", peer.String()),
		attribute.Int64("bdx.generation", int64(d.generation)),
	)
	_, d.span = d.tracer.Start(context.Background(), "bdx.session", trace.WithAttributes(attrs...))
	d.metrics.recordStarted(d.name)
	if d.log != nil {
		d.log.Debugf("%s: session %d started with %s", d.name, d.generation, peer)
	}
}

// HandleMessage feeds one inbound message to the protocol engine. An armed
// responder adopts the first exchange on which its peer sends an init; any
// other exchange, including one left over from an earlier session, is
// refused with ResponderBusy.
func (d *Driver) HandleMessage(ex Exchange, msgType message.MessageType, payload []byte) {
	if d.exchange == nil && d.listening && !d.initReceived && ex.Peer() == d.peer && bdx.IsInit(msgType) {
		d.exchange = ex
	}
	if ex != d.exchange {
		if d.log != nil {
			d.log.Infof("%s: refusing exchange from %s", d.name, ex.Peer())
		}
		if !bdx.IsStatusReport(msgType) {
			ex.SendMessage(bdx.StatusReportMessageType, bdx.NewStatusReport(bdx.StatusResponderBusy).Encode(), false)
		}
		ex.Close()
		return
	}

	if err := d.session.HandleMessageReceived(msgType, payload, d.clock.Now()); err != nil && d.log != nil {
		d.log.Warnf("%s: %s from %s: %v", d.name, bdx.OpcodeName(msgType.Opcode), d.peer, err)
	}
	d.pump()
}

// OnExchangeClosing is the exchange layer's close notification. Closing the
// owned exchange under an active session is an internal error; closes of
// exchanges the driver no longer owns are ignored.
func (d *Driver) OnExchangeClosing(ex Exchange) {
	if d.exchange == nil || ex != d.exchange {
		return
	}
	d.exchange = nil
	d.Reset(fmt.Errorf("%w: %w", ErrInternal, ErrExchangeClosed))
}

// pump drains the protocol engine's output for the current session.
func (d *Driver) pump() {
	gen := d.generation
	for d.generation == gen && d.state != StateIdle {
		ev := d.session.PollOutput(d.clock.Now())
		if ev.Type == bdx.EventNone {
			break
		}
		d.HandleTransferSessionOutput(ev)
	}
	if d.generation == gen && d.state == StateClosing {
		d.Reset(d.closeErr)
	}
}

// HandleTransferSessionOutput dispatches one protocol engine event.
func (d *Driver) HandleTransferSessionOutput(ev bdx.OutputEvent) {
	if d.log != nil {
		d.log.Tracef("%s: %s in %s", d.name, ev, d.state)
	}
	switch ev.Type {
	case bdx.EventNone:
	case bdx.EventMsgToSend:
		d.sendMessage(ev)
	case bdx.EventInitReceived:
		d.onInitReceived(ev)
	case bdx.EventAcceptReceived:
		d.onAcceptReceived(ev)
	case bdx.EventAckReceived, bdx.EventQueryReceived, bdx.EventQueryWithSkipReceived:
		if d.state != StateActive {
			d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("%w: %s before accept", ErrInternal, ev.Type))
			return
		}
		d.requestBlock(ev.BytesToSkip)
	case bdx.EventAckEOFReceived:
		d.strategy.OnTransferComplete()
		d.Reset(nil)
	case bdx.EventStatusReceived:
		d.Reset(fmt.Errorf("%w: %s", ErrStatusReceived, ev.StatusData.StatusCode))
	case bdx.EventInternalError:
		d.Reset(fmt.Errorf("%w: %s", ErrInternal, ev.StatusData.StatusCode))
	case bdx.EventTransferTimeout:
		d.Reset(ErrTransferTimeout)
	default:
		// This node only ever sends; received blocks are a protocol violation.
		d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("%w: unexpected %s", ErrInternal, ev.Type))
	}
}

func (d *Driver) sendMessage(ev bdx.OutputEvent) {
	if d.exchange == nil {
		d.Reset(fmt.Errorf("%w: %s without exchange", ErrInternal, ev))
		return
	}
	status := ev.IsStatusReport()
	if err := d.exchange.SendMessage(ev.MsgTypeData, ev.MsgData, !status); err != nil {
		d.Reset(fmt.Errorf("%w: send %s: %v", ErrInternal, ev, err))
		return
	}
	if status {
		// The session is over once the abort is on the wire.
		d.state = StateClosing
		if d.closeErr == nil {
			d.closeErr = fmt.Errorf("%w: aborted with %s", ErrInternal, ev.StatusData.StatusCode)
		}
	}
}

func (d *Driver) onInitReceived(ev bdx.OutputEvent) {
	if !d.listening || d.initReceived {
		d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("%w: unexpected init", ErrInternal))
		return
	}
	d.initReceived = true
	if d.initTimer != nil {
		d.initTimer.Stop()
		d.initTimer = nil
	}
	d.span.AddEvent("init", trace.WithAttributes(
		attribute.String("bdx.file_designator", string(ev.InitData.FileDesignator)),
		attribute.Int64("bdx.start_offset", int64(ev.InitData.StartOffset)),
	))

	accept, err := d.strategy.OnInitReceived(InitInfo{
		Peer:           d.peer,
		FileDesignator: ev.InitData.FileDesignator,
		StartOffset:    ev.InitData.StartOffset,
		MaxLength:      ev.InitData.Length,
		Metadata:       ev.InitData.Metadata,
		BlockSize:      d.session.TransferBlockSize(),
	})
	if err != nil {
		d.abort(statusFor(err), fmt.Errorf("%w: init rejected: %w", ErrInternal, err))
		return
	}
	if accept.ControlMode == 0 {
		accept.ControlMode = bdx.ControlSenderDrive
		if ev.InitData.TransferCtlFlags.Has(bdx.ControlReceiverDrive) && d.modes.Has(bdx.ControlReceiverDrive) {
			accept.ControlMode = bdx.ControlReceiverDrive
		}
	}
	if err := d.session.AcceptTransfer(accept); err != nil {
		d.abort(bdx.StatusTransferMethodNotSupported, fmt.Errorf("%w: accept: %w", ErrInternal, err))
		return
	}
	d.state = StateActive
	if accept.ControlMode.Modes() == bdx.ControlSenderDrive {
		d.requestBlock(0)
	}
}

func (d *Driver) onAcceptReceived(ev bdx.OutputEvent) {
	if d.state != StateAwaitingAccept || d.listening {
		d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("%w: unexpected accept", ErrInternal))
		return
	}
	d.state = StateActive
	d.span.AddEvent("accept", trace.WithAttributes(
		attribute.Int("bdx.block_size", int(ev.AcceptData.MaxBlockSize)),
	))
	if d.pending.Held() {
		d.pending.Respond(OutcomeSuccess)
	}
	d.pending = nil
	d.strategy.OnAcceptReceived()

	// The peer will not ask for the first block in sender drive.
	if ev.AcceptData.ControlMode.Modes() == bdx.ControlSenderDrive {
		d.requestBlock(0)
	}
}

func (d *Driver) requestBlock(skip uint64) {
	if d.blockPending {
		d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("%w: block requested twice", ErrInternal))
		return
	}
	d.blockPending = true
	gen := d.generation
	req := BlockRequest{
		Peer:        d.peer,
		Counter:     d.session.NextBlockCounter(),
		BlockSize:   d.session.TransferBlockSize(),
		BytesToSkip: skip,
		Generation:  gen,
	}
	d.blockTimer = d.clock.AfterFunc(d.blockTimeout, func() {
		d.Guard(gen, func() {
			if d.blockPending && d.session.NextBlockCounter() == req.Counter {
				d.abort(bdx.StatusTransferFailedUnknownError,
					fmt.Errorf("%w: block %d not produced within %s", ErrTransferTimeout, req.Counter, d.blockTimeout))
			}
		})
	})

	var replied atomic.Bool
	d.strategy.ProduceBlock(req, func(data []byte, eof bool, err error) {
		if !replied.CompareAndSwap(false, true) {
			return
		}
		d.Guard(gen, func() { d.onBlockReady(data, eof, err) })
	})
}

func (d *Driver) onBlockReady(data []byte, eof bool, err error) {
	d.blockPending = false
	if d.blockTimer != nil {
		d.blockTimer.Stop()
		d.blockTimer = nil
	}
	if d.state != StateActive {
		return
	}
	if err != nil {
		d.abort(statusFor(err), fmt.Errorf("%w: block source: %w", ErrInternal, err))
		return
	}
	if data == nil && !eof {
		d.abort(bdx.StatusTransferFailedUnknownError, fmt.Errorf("%w: block source has no data", ErrInternal))
		return
	}
	if err := d.session.PrepareBlock(bdx.BlockData{Data: data, IsEOF: eof}); err != nil {
		d.abort(bdx.StatusTransferFailedUnknownError, fmt.Errorf("%w: prepare block: %w", ErrInternal, err))
		return
	}
	d.blocksSent++
	d.bytesSent += uint64(len(data))
	d.metrics.recordBlock(d.name, len(data))
	d.pump()
}

// abort sends a StatusReport carrying code and ends the session with err.
func (d *Driver) abort(code bdx.StatusCode, err error) {
	if d.log != nil {
		d.log.Warnf("%s: aborting session with %s: %v", d.name, d.peer, err)
	}
	d.closeErr = err
	if d.session.AbortTransfer(code) != nil || d.exchange == nil {
		d.Reset(err)
		return
	}
	d.pump()
}

func (d *Driver) schedulePoll() {
	gen := d.generation
	d.pollTimer = d.clock.AfterFunc(d.pollInterval, func() {
		d.Guard(gen, func() {
			d.pump()
			if d.generation == gen && d.state != StateIdle {
				d.schedulePoll()
			}
		})
	})
}

// Reset tears the session down: timers stop, the exchange closes, an
// unanswered pending response is answered Denied, the strategy sees
// OnSessionEnd(err) and the generation advances. Reset on an idle driver
// does nothing.
func (d *Driver) Reset(err error) {
	if d.state == StateIdle {
		return
	}
	d.state = StateClosing

	if d.pollTimer != nil {
		d.pollTimer.Stop()
		d.pollTimer = nil
	}
	if d.initTimer != nil {
		d.initTimer.Stop()
		d.initTimer = nil
	}
	if d.blockTimer != nil {
		d.blockTimer.Stop()
		d.blockTimer = nil
	}
	if d.listening {
		d.exchanges.StopListening()
		d.listening = false
	}
	if ex := d.exchange; ex != nil {
		d.exchange = nil
		ex.Close()
	}
	if d.pending.Held() {
		d.pending.Respond(OutcomeDenied)
	}
	d.pending = nil

	d.strategy.OnSessionEnd(err)

	lifetime := d.clock.Now().Sub(d.started)
	d.metrics.recordEnded(d.name, err, lifetime)
	d.span.SetAttributes(
		attribute.Int64("bdx.bytes_sent", int64(d.bytesSent)),
		attribute.Int("bdx.blocks_sent", int(d.blocksSent)),
	)
	if err != nil {
		d.span.RecordError(err)
		d.span.SetStatus(codes.Error, err.Error())
	}
	d.span.End()
	if d.log != nil {
		if err != nil {
			d.log.Infof("%s: session %d with %s ended: %v", d.name, d.generation, d.peer, err)
		} else {
			d.log.Infof("%s: session %d with %s complete, %d bytes", d.name, d.generation, d.peer, d.bytesSent)
		}
	}

	d.session.Reset()
	d.peer = fabric.PeerID{}
	d.modes = 0
	d.initReceived = false
	d.blockPending = false
	d.closeErr = nil
	d.span = nil
	d.bytesSent = 0
	d.blocksSent = 0
	d.generation++
	d.state = StateIdle
}

// statusFor picks the StatusReport code for a local failure.
func statusFor(err error) bdx.StatusCode {
	if code, ok := bdx.StatusCodeOf(err); ok {
		return code
	}
	if errors.Is(err, ErrInvalidArgument) {
		return bdx.StatusBadMessageContents
	}
	return bdx.StatusTransferFailedUnknownError
}
