// Package message implements the Matter message framing used to carry BDX and
// Secure Channel status messages between exchange managers.
//
// Only unsecured unicast framing is implemented here; session security is
// provided by whatever Session carries the encoded frames.
//
// Spec References:
//   - Section 4.4.1: Message Header Field Descriptions
//   - Section 4.4.3: Protocol Header Field Descriptions
package message

// ProtocolID identifies the protocol that defines the message opcode.
// See Matter Specification Section 4.4.3.4.
type ProtocolID uint16

const (
	// ProtocolSecureChannel is the Secure Channel Protocol (carries StatusReport).
	ProtocolSecureChannel ProtocolID = 0x0000

	// ProtocolInteractionModel is the Interaction Model Protocol.
	ProtocolInteractionModel ProtocolID = 0x0001

	// ProtocolBDX is the Bulk Data Exchange Protocol.
	ProtocolBDX ProtocolID = 0x0002

	// ProtocolForTesting is reserved for isolated test environments.
	ProtocolForTesting ProtocolID = 0x0004
)

// String returns a human-readable name for the protocol ID.
func (p ProtocolID) String() string {
	switch p {
	case ProtocolSecureChannel:
		return "SecureChannel"
	case ProtocolInteractionModel:
		return "InteractionModel"
	case ProtocolBDX:
		return "BDX"
	case ProtocolForTesting:
		return "Testing"
	default:
		return "Unknown"
	}
}

// VendorIDMatter is the standard Matter vendor ID namespacing ProtocolIDs.
const VendorIDMatter uint16 = 0x0000

// Opcode is a protocol-scoped message type.
type Opcode uint8

// MessageType identifies a message by protocol and opcode.
type MessageType struct {
	ProtocolID ProtocolID
	Opcode     Opcode
}

// Is reports whether t is the given protocol/opcode pair.
func (t MessageType) Is(protocol ProtocolID, opcode Opcode) bool {
	return t.ProtocolID == protocol && t.Opcode == opcode
}
