package message

import "encoding/binary"

// MessageHeader is the unsecured unicast subset of the Matter message header
// (Spec Section 4.4.1). All multi-byte fields are little-endian on the wire.
type MessageHeader struct {
	// SessionID is 0 for unsecured unicast frames.
	SessionID uint16

	// MessageCounter is a monotonically increasing counter unique per message.
	MessageCounter uint32

	// SourceNodeID is present when SourcePresent is set.
	SourceNodeID  uint64
	SourcePresent bool

	// DestinationNodeID is present when DestinationPresent is set.
	DestinationNodeID  uint64
	DestinationPresent bool
}

// Size returns the encoded size of the message header in bytes.
func (h *MessageHeader) Size() int {
	size := MinHeaderSize
	if h.SourcePresent {
		size += NodeIDSize
	}
	if h.DestinationPresent {
		size += NodeIDSize
	}
	return size
}

// EncodeTo serializes the header into buf, which must be at least Size()
// bytes long. Returns the number of bytes written.
func (h *MessageHeader) EncodeTo(buf []byte) int {
	flags := MessageVersion << flagVersionShift
	if h.SourcePresent {
		flags |= flagSourcePresent
	}
	if h.DestinationPresent {
		flags |= dsizNodeID
	}
	buf[0] = flags
	binary.LittleEndian.PutUint16(buf[1:], h.SessionID)
	buf[3] = 0 // security flags: unicast, no extensions
	binary.LittleEndian.PutUint32(buf[4:], h.MessageCounter)

	offset := MinHeaderSize
	if h.SourcePresent {
		binary.LittleEndian.PutUint64(buf[offset:], h.SourceNodeID)
		offset += NodeIDSize
	}
	if h.DestinationPresent {
		binary.LittleEndian.PutUint64(buf[offset:], h.DestinationNodeID)
		offset += NodeIDSize
	}
	return offset
}

// Decode deserializes a message header and returns the bytes consumed.
func (h *MessageHeader) Decode(data []byte) (int, error) {
	if len(data) < MinHeaderSize {
		return 0, ErrMessageTooShort
	}

	flags := data[0]
	if (flags>>flagVersionShift)&flagVersionMask != MessageVersion {
		return 0, ErrInvalidVersion
	}
	dsiz := flags & flagDSIZMask
	if dsiz != dsizNone && dsiz != dsizNodeID {
		return 0, ErrInvalidDSIZ
	}
	h.SourcePresent = flags&flagSourcePresent != 0
	h.DestinationPresent = dsiz == dsizNodeID

	h.SessionID = binary.LittleEndian.Uint16(data[1:])
	if h.SessionID != 0 || data[3] != 0 {
		return 0, ErrSecuredFrame
	}
	h.MessageCounter = binary.LittleEndian.Uint32(data[4:])

	if len(data) < h.Size() {
		return 0, ErrMessageTooShort
	}

	offset := MinHeaderSize
	h.SourceNodeID = 0
	if h.SourcePresent {
		h.SourceNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}
	h.DestinationNodeID = 0
	if h.DestinationPresent {
		h.DestinationNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}
	return offset, nil
}
