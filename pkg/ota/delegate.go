package ota

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/transfer"
	"github.com/pion/logging"
)

// FileDelegateConfig configures a FileDelegate.
type FileDelegateConfig struct {
	// Catalog resolves file designators. Required.
	Catalog *Catalog

	// Go runs block reads off the sender's executor. Defaults to a new
	// goroutine per read.
	Go func(fn func())

	// LoggerFactory for delegate logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// FileDelegate serves catalog images to a BDXSender. Block reads run
// asynchronously and reply through the sender's generation guard, so a read
// that outlives its session is dropped.
type FileDelegate struct {
	catalog *Catalog
	spawn   func(fn func())
	log     logging.LeveledLogger

	// session is touched only on the sender's executor.
	session *fileSession
}

// fileSession is one open image. Reads and close are serialized by mu.
type fileSession struct {
	mu         sync.Mutex
	f          *os.File
	designator string
	nodeID     fabric.NodeID
	pos        int64
	size       int64
	closed     bool
	sent       int64
}

// NewFileDelegate creates a delegate over config.Catalog.
func NewFileDelegate(config FileDelegateConfig) (*FileDelegate, error) {
	if config.Catalog == nil {
		return nil, fmt.Errorf("ota: catalog is required")
	}
	d := &FileDelegate{
		catalog: config.Catalog,
		spawn:   config.Go,
	}
	if d.spawn == nil {
		d.spawn = func(fn func()) { go fn() }
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("ota")
	}
	return d, nil
}

// OnTransferSessionBegin implements otaprovider.Delegate.
func (d *FileDelegate) OnTransferSessionBegin(nodeID fabric.NodeID, designator string, offset uint64) error {
	if d.session != nil {
		d.session.close()
		d.session = nil
	}

	f, e, err := d.catalog.Open(designator)
	if err != nil {
		if errors.Is(err, ErrInvalidDesignator) {
			return fmt.Errorf("%w: %v", otaprovider.ErrUnknownFile, err)
		}
		return err
	}
	size := int64(e.Prefix.TotalSize)
	if offset > uint64(size) {
		f.Close()
		return &bdx.ProtocolError{
			Code:   bdx.StatusStartOffsetNotSupported,
			Reason: fmt.Sprintf("offset %d beyond %d byte image", offset, size),
		}
	}

	d.session = &fileSession{
		f:          f,
		designator: designator,
		nodeID:     nodeID,
		pos:        int64(offset),
		size:       size,
	}
	if d.log != nil {
		d.log.Infof("serving %s (v%d, %d bytes) to %s from offset %d",
			designator, e.Header.SoftwareVersion, size, nodeID, offset)
	}
	return nil
}

// OnBlockQuery implements otaprovider.Delegate.
func (d *FileDelegate) OnBlockQuery(q otaprovider.BlockQuery, reply transfer.BlockReply) {
	s := d.session
	if s == nil {
		reply(nil, false, ErrNoSession)
		return
	}
	d.spawn(func() {
		data, eof, err := s.read(q.BlockSize, q.BytesToSkip)
		reply(data, eof, err)
	})
}

func (s *fileSession) read(blockSize uint16, skip uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	if remaining := uint64(s.size - s.pos); skip > remaining {
		skip = remaining
	}
	s.pos += int64(skip)

	buf := make([]byte, int(blockSize))
	n, err := s.f.ReadAt(buf, s.pos)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("ota: read %s at %d: %w", s.designator, s.pos, err)
	}
	s.pos += int64(n)
	s.sent += int64(n)
	eof := s.pos >= s.size
	if n == 0 && !eof {
		return nil, false, nil
	}
	return buf[:n], eof, nil
}

func (s *fileSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.f.Close()
}

// OnTransferSessionEnd implements otaprovider.Delegate.
func (d *FileDelegate) OnTransferSessionEnd(err error, nodeID fabric.NodeID) {
	s := d.session
	d.session = nil
	if s == nil {
		if d.log != nil && err != nil {
			d.log.Debugf("transfer to %s ended before it began: %v", nodeID, err)
		}
		return
	}
	s.close()
	if d.log == nil {
		return
	}
	if err != nil {
		d.log.Warnf("transfer of %s to %s failed after %d bytes: %v", s.designator, nodeID, s.sent, err)
	} else {
		d.log.Infof("transfer of %s to %s complete", s.designator, nodeID)
	}
}

// Verify FileDelegate implements otaprovider.Delegate.
var _ otaprovider.Delegate = (*FileDelegate)(nil)
