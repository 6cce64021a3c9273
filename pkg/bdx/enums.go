// Package bdx implements the Matter Bulk Data Exchange protocol: its wire
// messages, its StatusReport codes, and TransferSession, the protocol engine
// that validates inbound messages and turns local actions into outbound ones.
//
// TransferSession performs no I/O and owns no timers. The owner feeds it
// inbound messages and the current time, and drains OutputEvents with
// PollOutput; each event either asks the owner to send a message or reports
// progress (accept, block request, completion, failure).
//
// Spec References:
//   - Section 11.21: Bulk Data Exchange Protocol
package bdx

import (
	"fmt"

	"github.com/backkem/matter-bdx/pkg/message"
)

// Opcode values for BDX messages (Spec Table 11.21.1).
const (
	OpcodeSendInit           message.Opcode = 0x01
	OpcodeSendAccept         message.Opcode = 0x02
	OpcodeReceiveInit        message.Opcode = 0x04
	OpcodeReceiveAccept      message.Opcode = 0x05
	OpcodeBlockQuery         message.Opcode = 0x10
	OpcodeBlock              message.Opcode = 0x11
	OpcodeBlockEOF           message.Opcode = 0x12
	OpcodeBlockAck           message.Opcode = 0x13
	OpcodeBlockAckEOF        message.Opcode = 0x14
	OpcodeBlockQueryWithSkip message.Opcode = 0x15

	// OpcodeStatusReport is the Secure Channel StatusReport opcode; BDX
	// failures travel as StatusReports carrying the BDX protocol ID.
	OpcodeStatusReport message.Opcode = 0x40
)

// MessageType returns the BDX message type for an opcode.
func MessageType(op message.Opcode) message.MessageType {
	return message.MessageType{ProtocolID: message.ProtocolBDX, Opcode: op}
}

// StatusReportMessageType is the message type of a StatusReport.
var StatusReportMessageType = message.MessageType{
	ProtocolID: message.ProtocolSecureChannel,
	Opcode:     OpcodeStatusReport,
}

// IsStatusReport reports whether t is a StatusReport.
func IsStatusReport(t message.MessageType) bool {
	return t == StatusReportMessageType
}

// IsInit reports whether t opens a transfer (SendInit or ReceiveInit).
func IsInit(t message.MessageType) bool {
	return t == MessageType(OpcodeSendInit) || t == MessageType(OpcodeReceiveInit)
}

// OpcodeName returns a readable name for a BDX opcode.
func OpcodeName(op message.Opcode) string {
	switch op {
	case OpcodeSendInit:
		return "SendInit"
	case OpcodeSendAccept:
		return "SendAccept"
	case OpcodeReceiveInit:
		return "ReceiveInit"
	case OpcodeReceiveAccept:
		return "ReceiveAccept"
	case OpcodeBlockQuery:
		return "BlockQuery"
	case OpcodeBlock:
		return "Block"
	case OpcodeBlockEOF:
		return "BlockEOF"
	case OpcodeBlockAck:
		return "BlockAck"
	case OpcodeBlockAckEOF:
		return "BlockAckEOF"
	case OpcodeBlockQueryWithSkip:
		return "BlockQueryWithSkip"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
	}
}

// Version is the BDX protocol version implemented here.
const Version uint8 = 0

// TransferControlFlags is the Transfer Control field: the protocol version in
// the low nibble and the proposed or chosen drive modes in the high nibble.
type TransferControlFlags uint8

// Transfer control bits (Spec Section 11.21.5.1).
const (
	ControlSenderDrive   TransferControlFlags = 0x10
	ControlReceiverDrive TransferControlFlags = 0x20
	ControlAsync         TransferControlFlags = 0x40

	controlVersionMask TransferControlFlags = 0x0F
	controlModeMask    TransferControlFlags = 0x70
)

// Version returns the protocol version carried in the flags.
func (f TransferControlFlags) Version() uint8 { return uint8(f & controlVersionMask) }

// Modes returns only the drive-mode bits.
func (f TransferControlFlags) Modes() TransferControlFlags { return f & controlModeMask }

// Has reports whether every bit in mode is set.
func (f TransferControlFlags) Has(mode TransferControlFlags) bool { return f&mode == mode }

// String returns the drive modes in f.
func (f TransferControlFlags) String() string {
	switch f.Modes() {
	case ControlSenderDrive:
		return "SenderDrive"
	case ControlReceiverDrive:
		return "ReceiverDrive"
	case ControlAsync:
		return "Async"
	case 0:
		return "None"
	default:
		return fmt.Sprintf("Modes(0x%02X)", uint8(f.Modes()))
	}
}

// RangeControlFlags is the Range Control field of an init message.
type RangeControlFlags uint8

// Range control bits (Spec Section 11.21.5.1).
const (
	RangeDefLen      RangeControlFlags = 0x01
	RangeStartOffset RangeControlFlags = 0x02
	RangeWide        RangeControlFlags = 0x10
)

// TransferRole is this node's role in the data flow.
type TransferRole int

const (
	// RoleSender sends the file data.
	RoleSender TransferRole = iota + 1
	// RoleReceiver receives the file data.
	RoleReceiver
)

// String returns the role name.
func (r TransferRole) String() string {
	switch r {
	case RoleSender:
		return "Sender"
	case RoleReceiver:
		return "Receiver"
	default:
		return "Unknown"
	}
}
