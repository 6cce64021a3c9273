package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/pion/logging"
)

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	// Exchanges opens and accepts BDX exchanges. Required.
	Exchanges ExchangeManager

	// MaxBlockSize proposed or accepted. Defaults to DefaultMaxBlockSize.
	MaxBlockSize uint16

	// SessionTimeout bounds the wait for any peer message.
	// Defaults to DefaultSessionTimeout.
	SessionTimeout time.Duration

	// PollInterval is the protocol engine poll period.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// LoggerFactory for downloader logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Download describes a completed transfer.
type Download struct {
	Peer           fabric.PeerID
	FileDesignator []byte
	StartOffset    uint64
	Bytes          uint64
	Blocks         uint32
}

// Downloader is the receiving end of a BDX transfer: a controller collecting
// a pushed diagnostic log, or an OTA requestor pulling an image from its
// provider. One Downloader runs one transfer at a time.
type Downloader struct {
	exchanges      ExchangeManager
	maxBlockSize   uint16
	sessionTimeout time.Duration
	pollInterval   time.Duration
	log            logging.LeveledLogger

	mu        sync.Mutex
	session   *bdx.TransferSession
	ex        Exchange
	w         io.Writer
	result    Download
	running   bool
	listening bool
	done      chan error
}

// NewDownloader creates an idle downloader.
func NewDownloader(config DownloaderConfig) (*Downloader, error) {
	if config.Exchanges == nil {
		return nil, ErrInvalidArgument
	}
	d := &Downloader{
		exchanges:      config.Exchanges,
		maxBlockSize:   config.MaxBlockSize,
		sessionTimeout: config.SessionTimeout,
		pollInterval:   config.PollInterval,
		session:        bdx.NewTransferSession(),
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
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("transfer")
	}
	return d, nil
}

// Receive waits for a peer to push a file in sender drive and writes it to
// w. It returns when the transfer completes, fails or ctx is done.
func (d *Downloader) Receive(ctx context.Context, w io.Writer) (Download, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Download{}, ErrBusy
	}
	if err := d.session.WaitForTransfer(bdx.RoleReceiver, bdx.ControlSenderDrive, d.maxBlockSize, d.sessionTimeout, time.Now()); err != nil {
		d.session.Reset()
		d.mu.Unlock()
		return Download{}, fmt.Errorf("transfer: wait for transfer: %w", err)
	}
	if err := d.exchanges.Listen(d); err != nil {
		d.session.Reset()
		d.mu.Unlock()
		return Download{}, fmt.Errorf("transfer: listen: %w", err)
	}
	d.start(w)
	d.listening = true
	d.mu.Unlock()

	return d.wait(ctx)
}

// Listening reports whether Receive is waiting for a peer to push a file.
func (d *Downloader) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Fetch pulls designator from peer in receiver drive, starting at offset,
// and writes it to w.
func (d *Downloader) Fetch(ctx context.Context, peer fabric.PeerID, designator string, offset uint64, w io.Writer) (Download, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Download{}, ErrBusy
	}
	ex, err := d.exchanges.OpenExchange(peer, d)
	if err != nil {
		d.mu.Unlock()
		return Download{}, fmt.Errorf("transfer: open exchange: %w", err)
	}
	err = d.session.InitiateTransfer(bdx.RoleReceiver, bdx.TransferInitData{
		TransferCtlFlags: bdx.ControlReceiverDrive,
		MaxBlockSize:     d.maxBlockSize,
		StartOffset:      offset,
		FileDesignator:   []byte(designator),
	}, d.sessionTimeout, time.Now())
	if err != nil {
		d.session.Reset()
		d.mu.Unlock()
		ex.Close()
		return Download{}, fmt.Errorf("transfer: initiate: %w", err)
	}
	d.start(w)
	d.ex = ex
	d.result.Peer = peer
	d.result.FileDesignator = []byte(designator)
	d.result.StartOffset = offset
	closing := d.flush()
	d.mu.Unlock()
	d.closeExchange(closing)

	return d.wait(ctx)
}

// start resets per-transfer state. Caller holds mu.
func (d *Downloader) start(w io.Writer) {
	d.running = true
	d.w = w
	d.result = Download{}
	d.done = make(chan error, 1)
}

func (d *Downloader) wait(ctx context.Context) (Download, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var err error
	for waiting := true; waiting; {
		select {
		case err = <-d.done:
			waiting = false
		case <-ticker.C:
			d.mu.Lock()
			closing := d.flush()
			d.mu.Unlock()
			d.closeExchange(closing)
		case <-ctx.Done():
			d.mu.Lock()
			d.finish(ctx.Err())
			d.session.AbortTransfer(bdx.StatusTransferFailedUnknownError)
			closing := d.flush()
			d.mu.Unlock()
			d.closeExchange(closing)
		}
	}

	d.mu.Lock()
	result := d.result
	if d.listening {
		d.exchanges.StopListening()
		d.listening = false
	}
	ex := d.ex
	d.ex = nil
	d.session.Reset()
	d.running = false
	d.mu.Unlock()
	d.closeExchange(ex)
	return result, err
}

// OnUnsolicited adopts the first exchange a peer opens while Receive waits.
func (d *Downloader) OnUnsolicited(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) (exchange.ExchangeDelegate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.ex != nil {
		return nil, nil
	}
	d.ex = ctx
	d.result.Peer = ctx.Peer()
	return d, nil
}

// OnMessage feeds a message to the protocol engine.
func (d *Downloader) OnMessage(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) error {
	d.mu.Lock()
	if ctx != d.ex {
		d.mu.Unlock()
		return nil
	}
	if err := d.session.HandleMessageReceived(header.MessageType(), payload, time.Now()); err != nil && d.log != nil {
		d.log.Debugf("downloader: %v", err)
	}
	closing := d.flush()
	d.mu.Unlock()
	d.closeExchange(closing)
	return nil
}

// OnClose fails a transfer whose exchange closes before it completes.
func (d *Downloader) OnClose(ctx *exchange.ExchangeContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx != d.ex {
		return
	}
	d.ex = nil
	d.finish(fmt.Errorf("%w: %w", ErrInternal, ErrExchangeClosed))
}

// flush handles the protocol engine's output. Caller holds mu. It returns
// an exchange the caller must close after releasing mu.
func (d *Downloader) flush() Exchange {
	for {
		ev := d.session.PollOutput(time.Now())
		switch ev.Type {
		case bdx.EventNone:
			return nil
		case bdx.EventMsgToSend:
			if d.ex == nil {
				continue
			}
			status := ev.IsStatusReport()
			if err := d.ex.SendMessage(ev.MsgTypeData, ev.MsgData, !status); err != nil {
				d.finish(fmt.Errorf("%w: send %s: %v", ErrInternal, ev, err))
				return d.detach()
			}
			if status {
				d.finish(fmt.Errorf("%w: aborted with %s", ErrInternal, ev.StatusData.StatusCode))
				return d.detach()
			}
		case bdx.EventInitReceived:
			d.result.FileDesignator = ev.InitData.FileDesignator
			d.result.StartOffset = ev.InitData.StartOffset
			err := d.session.AcceptTransfer(bdx.TransferAcceptData{
				ControlMode:  bdx.ControlSenderDrive,
				MaxBlockSize: d.maxBlockSize,
				StartOffset:  ev.InitData.StartOffset,
				Length:       ev.InitData.Length,
			})
			if err != nil {
				d.abort(bdx.StatusTransferMethodNotSupported, err)
			}
		case bdx.EventAcceptReceived:
			d.result.StartOffset = ev.AcceptData.StartOffset
			if ev.AcceptData.ControlMode.Modes() == bdx.ControlReceiverDrive {
				if err := d.session.PrepareBlockQuery(); err != nil {
					d.abort(bdx.StatusTransferFailedUnknownError, err)
				}
			}
		case bdx.EventBlockReceived:
			d.onBlock(ev.BlockData)
		case bdx.EventStatusReceived:
			d.finish(fmt.Errorf("%w: %s", ErrStatusReceived, ev.StatusData.StatusCode))
			return d.detach()
		case bdx.EventInternalError:
			d.finish(fmt.Errorf("%w: %s", ErrInternal, ev.StatusData.StatusCode))
		case bdx.EventTransferTimeout:
			d.finish(ErrTransferTimeout)
			return d.detach()
		default:
			d.abort(bdx.StatusUnexpectedMessage, fmt.Errorf("unexpected %s", ev.Type))
		}
	}
}

func (d *Downloader) onBlock(block bdx.BlockData) {
	if len(block.Data) > 0 {
		if _, err := d.w.Write(block.Data); err != nil {
			d.abort(bdx.StatusTransferFailedUnknownError, fmt.Errorf("write: %w", err))
			return
		}
	}
	d.result.Bytes += uint64(len(block.Data))
	d.result.Blocks++

	var err error
	switch {
	case block.IsEOF:
		err = d.session.PrepareBlockAck()
		if err == nil {
			d.finish(nil)
		}
	case d.session.ControlMode() == bdx.ControlSenderDrive:
		err = d.session.PrepareBlockAck()
	default:
		err = d.session.PrepareBlockQuery()
	}
	if err != nil {
		d.abort(bdx.StatusTransferFailedUnknownError, err)
	}
}

// abort queues a StatusReport and fails the transfer. Caller holds mu.
func (d *Downloader) abort(code bdx.StatusCode, err error) {
	if d.log != nil {
		d.log.Warnf("downloader: aborting with %s: %v", code, err)
	}
	d.finish(fmt.Errorf("%w: %w", ErrInternal, err))
	d.session.AbortTransfer(code)
}

// finish records the outcome; the first one wins. Caller holds mu.
func (d *Downloader) finish(err error) {
	if !d.running {
		return
	}
	select {
	case d.done <- err:
	default:
	}
}

// detach releases the exchange for closing. Caller holds mu.
func (d *Downloader) detach() Exchange {
	ex := d.ex
	d.ex = nil
	return ex
}

func (d *Downloader) closeExchange(ex Exchange) {
	if ex != nil {
		ex.Close()
	}
}
