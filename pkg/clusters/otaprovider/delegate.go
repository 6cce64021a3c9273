package otaprovider

import (
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/transfer"
)

// BlockQuery asks a Delegate for one block of the image being sent.
type BlockQuery struct {
	NodeID fabric.NodeID

	// BlockSize is the largest block the requestor accepts.
	BlockSize uint16

	// BlockIndex is the BDX block counter of the requested block.
	BlockIndex uint32

	// BytesToSkip moves the image cursor forward before reading.
	BytesToSkip uint64

	// Generation identifies the session. A reply for a session that has
	// since ended is dropped.
	Generation uint64
}

// Delegate serves image data to a BDXSender. It may live across an
// asynchronous boundary: OnBlockQuery may reply from any goroutine, at any
// time.
//
// The sender calls each method on its executor.
type Delegate interface {
	// OnTransferSessionBegin is called when the requestor's init arrives.
	// Returning an error refuses the transfer; ErrUnknownFile is reported to
	// the requestor as FileDesignatorUnknown.
	OnTransferSessionBegin(nodeID fabric.NodeID, fileDesignator string, offset uint64) error

	// OnBlockQuery produces the next block. reply(nil, false, nil) means no
	// data is available and aborts the transfer.
	OnBlockQuery(query BlockQuery, reply transfer.BlockReply)

	// OnTransferSessionEnd is called exactly once per armed session with nil
	// on success or the error that ended it.
	OnTransferSessionEnd(err error, nodeID fabric.NodeID)
}

// ImageQuery describes the requestor asking for an update.
type ImageQuery struct {
	VendorID        uint16
	ProductID       uint16
	SoftwareVersion uint32
	HardwareVersion *uint16
	Location        *string
}

// Image is an update image the provider can serve.
type Image struct {
	// FileDesignator names the image in BDX transfers.
	FileDesignator string

	SoftwareVersion       uint32
	SoftwareVersionString string

	// Size of the image file in bytes.
	Size uint64
}

// ImageSource chooses images for QueryImage.
type ImageSource interface {
	// LookupImage returns the newest image applicable to q, or ErrNoImage.
	LookupImage(q ImageQuery) (Image, error)
}
