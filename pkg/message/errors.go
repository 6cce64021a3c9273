package message

import "errors"

// Message layer errors.
var (
	ErrMessageTooShort = errors.New("message: data too short")
	ErrInvalidVersion  = errors.New("message: invalid version (must be 0)")
	ErrInvalidDSIZ     = errors.New("message: invalid DSIZ field (reserved value)")
	ErrMessageTooLong  = errors.New("message: exceeds maximum size")
	ErrPayloadTooShort = errors.New("message: payload too short for protocol header")
	ErrSecuredFrame    = errors.New("message: secured frames are not supported")
)

// Message format constants from Matter Specification.
const (
	// MessageVersion is the only supported message format version (Section 4.4.1.1).
	MessageVersion uint8 = 0

	// MinHeaderSize is Message Flags (1) + Session ID (2) + Security Flags (1) + Message Counter (4).
	MinHeaderSize = 8

	// MinProtocolHeaderSize is Exchange Flags (1) + Opcode (1) + Exchange ID (2) + Protocol ID (2).
	MinProtocolHeaderSize = 6

	// MaxMessageSize bounds a single frame. A 1024-byte BDX block plus
	// headers must fit, which rules out the 1280-byte IPv6 MTU as a limit
	// for the stream and pipe transports used here.
	MaxMessageSize = 4096

	// NodeIDSize is the size of a 64-bit Node ID in bytes.
	NodeIDSize = 8
)

// Message Flags bit positions (Section 4.4.1.1).
const (
	flagDSIZMask      uint8 = 0x03
	flagSourcePresent uint8 = 0x04
	flagVersionShift        = 4
	flagVersionMask   uint8 = 0x0F

	dsizNone   uint8 = 0
	dsizNodeID uint8 = 1
)

// Exchange Flags bit positions (Section 4.4.3.1).
const (
	exchFlagInitiator       uint8 = 0x01
	exchFlagAcknowledgement uint8 = 0x02
	exchFlagReliability     uint8 = 0x04
	exchFlagVendor          uint8 = 0x10
)
