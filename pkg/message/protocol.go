package message

import "encoding/binary"

// ProtocolHeader represents the Matter protocol message header (Spec Section 4.4.3).
type ProtocolHeader struct {
	// ProtocolID identifies the protocol that defines the opcode.
	ProtocolID ProtocolID

	// ProtocolOpcode identifies the message type within the protocol.
	ProtocolOpcode Opcode

	// ExchangeID identifies the exchange (conversation) this message belongs to.
	ExchangeID uint16

	// ProtocolVendorID namespaces the ProtocolID when VendorPresent is set.
	ProtocolVendorID uint16

	// AckedMessageCounter is valid only when Acknowledgement is set.
	AckedMessageCounter uint32

	// Initiator indicates this message was sent by the exchange initiator (I Flag).
	Initiator bool

	// Acknowledgement indicates this message acknowledges a previous message (A Flag).
	Acknowledgement bool

	// Reliability indicates the sender wants an acknowledgement (R Flag).
	Reliability bool

	// VendorPresent indicates ProtocolVendorID is included (V Flag).
	VendorPresent bool
}

// MessageType returns the protocol/opcode pair carried by this header.
func (p *ProtocolHeader) MessageType() MessageType {
	return MessageType{ProtocolID: p.ProtocolID, Opcode: p.ProtocolOpcode}
}

// Size returns the encoded size of the protocol header in bytes.
func (p *ProtocolHeader) Size() int {
	size := MinProtocolHeaderSize
	if p.VendorPresent {
		size += 2
	}
	if p.Acknowledgement {
		size += 4
	}
	return size
}

// EncodeTo serializes the protocol header into buf, which must be at least
// Size() bytes long. Returns the number of bytes written.
func (p *ProtocolHeader) EncodeTo(buf []byte) int {
	var flags uint8
	if p.Initiator {
		flags |= exchFlagInitiator
	}
	if p.Acknowledgement {
		flags |= exchFlagAcknowledgement
	}
	if p.Reliability {
		flags |= exchFlagReliability
	}
	if p.VendorPresent {
		flags |= exchFlagVendor
	}
	buf[0] = flags
	buf[1] = uint8(p.ProtocolOpcode)
	binary.LittleEndian.PutUint16(buf[2:], p.ExchangeID)

	offset := 4
	if p.VendorPresent {
		binary.LittleEndian.PutUint16(buf[offset:], p.ProtocolVendorID)
		offset += 2
	}
	binary.LittleEndian.PutUint16(buf[offset:], uint16(p.ProtocolID))
	offset += 2
	if p.Acknowledgement {
		binary.LittleEndian.PutUint32(buf[offset:], p.AckedMessageCounter)
		offset += 4
	}
	return offset
}

// Decode deserializes a protocol header and returns the bytes consumed.
func (p *ProtocolHeader) Decode(data []byte) (int, error) {
	if len(data) < MinProtocolHeaderSize {
		return 0, ErrPayloadTooShort
	}

	flags := data[0]
	p.Initiator = flags&exchFlagInitiator != 0
	p.Acknowledgement = flags&exchFlagAcknowledgement != 0
	p.Reliability = flags&exchFlagReliability != 0
	p.VendorPresent = flags&exchFlagVendor != 0
	p.ProtocolOpcode = Opcode(data[1])
	p.ExchangeID = binary.LittleEndian.Uint16(data[2:])

	if len(data) < p.Size() {
		return 0, ErrPayloadTooShort
	}

	offset := 4
	p.ProtocolVendorID = VendorIDMatter
	if p.VendorPresent {
		p.ProtocolVendorID = binary.LittleEndian.Uint16(data[offset:])
		offset += 2
	}
	p.ProtocolID = ProtocolID(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	p.AckedMessageCounter = 0
	if p.Acknowledgement {
		p.AckedMessageCounter = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}
	return offset, nil
}
