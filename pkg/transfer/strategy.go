package transfer

import (
	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/fabric"
)

// Strategy is the variant-specific half of a driver: where blocks come from
// and who hears about the session's end. The driver calls every method on
// its executor.
type Strategy interface {
	// OnInitReceived is called when an armed responder receives the peer's
	// init. The returned accept data is passed to the protocol engine; a zero
	// ControlMode lets the driver pick. An error aborts the session; a
	// *bdx.ProtocolError selects the status code sent to the peer.
	OnInitReceived(info InitInfo) (bdx.TransferAcceptData, error)

	// OnAcceptReceived is called when the peer accepts a transfer this
	// node initiated, after the pending response has been answered.
	OnAcceptReceived()

	// ProduceBlock asks for the next block. reply may be called synchronously
	// or later from any goroutine; only the first call counts, and a reply
	// arriving after the session ended is dropped.
	ProduceBlock(req BlockRequest, reply BlockReply)

	// OnTransferComplete is called when the peer acknowledged the last block.
	OnTransferComplete()

	// OnSessionEnd is called exactly once per session, on teardown, with nil
	// on success and the terminating error otherwise.
	OnSessionEnd(err error)
}

// InitInfo describes an inbound transfer init.
type InitInfo struct {
	Peer           fabric.PeerID
	FileDesignator []byte
	StartOffset    uint64
	MaxLength      uint64
	Metadata       []byte

	// BlockSize is the block size negotiated so far.
	BlockSize uint16
}

// BlockRequest describes the block the peer is waiting for.
type BlockRequest struct {
	Peer        fabric.PeerID
	Counter     uint32
	BlockSize   uint16
	BytesToSkip uint64
	Generation  uint64
}

// BlockReply hands a produced block back to the driver. A non-nil err or
// nil data without eof aborts the transfer. eof marks the final block,
// which may be empty.
type BlockReply func(data []byte, eof bool, err error)
