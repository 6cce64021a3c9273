package bdx

import (
	"fmt"

	"github.com/backkem/matter-bdx/pkg/message"
)

// OutputEventType identifies what a TransferSession is asking of its owner.
type OutputEventType int

// Output event types.
const (
	EventNone OutputEventType = iota
	EventMsgToSend
	EventInitReceived
	EventAcceptReceived
	EventBlockReceived
	EventQueryReceived
	EventQueryWithSkipReceived
	EventAckReceived
	EventAckEOFReceived
	EventStatusReceived
	EventInternalError
	EventTransferTimeout
)

// String returns the event type name.
func (t OutputEventType) String() string {
	switch t {
	case EventNone:
		return "None"
	case EventMsgToSend:
		return "MsgToSend"
	case EventInitReceived:
		return "InitReceived"
	case EventAcceptReceived:
		return "AcceptReceived"
	case EventBlockReceived:
		return "BlockReceived"
	case EventQueryReceived:
		return "QueryReceived"
	case EventQueryWithSkipReceived:
		return "QueryWithSkipReceived"
	case EventAckReceived:
		return "AckReceived"
	case EventAckEOFReceived:
		return "AckEOFReceived"
	case EventStatusReceived:
		return "StatusReceived"
	case EventInternalError:
		return "InternalError"
	case EventTransferTimeout:
		return "TransferTimeout"
	default:
		return fmt.Sprintf("OutputEventType(%d)", int(t))
	}
}

// TransferInitData describes a transfer proposal: what this node proposes
// in InitiateTransfer, or what the peer proposed in EventInitReceived.
type TransferInitData struct {
	TransferCtlFlags TransferControlFlags
	MaxBlockSize     uint16
	StartOffset      uint64
	Length           uint64
	FileDesignator   []byte
	Metadata         []byte
}

// TransferAcceptData describes the accepted parameters: what this node
// accepts in AcceptTransfer, or what the peer accepted in EventAcceptReceived.
type TransferAcceptData struct {
	ControlMode  TransferControlFlags
	MaxBlockSize uint16
	StartOffset  uint64
	Length       uint64
	Metadata     []byte
}

// BlockData is one block of file data.
type BlockData struct {
	Data         []byte
	IsEOF        bool
	BlockCounter uint32
}

// StatusReportData is the status carried by EventStatusReceived and
// EventInternalError.
type StatusReportData struct {
	StatusCode StatusCode
}

// OutputEvent is one unit of output from a TransferSession. Which payload
// fields are meaningful depends on Type.
type OutputEvent struct {
	Type        OutputEventType
	MsgTypeData message.MessageType
	MsgData     []byte
	StatusData  StatusReportData
	InitData    TransferInitData
	AcceptData  TransferAcceptData
	BlockData   BlockData
	BytesToSkip uint64
}

// IsStatusReport reports whether a MsgToSend event carries a StatusReport.
func (e OutputEvent) IsStatusReport() bool {
	return e.Type == EventMsgToSend && IsStatusReport(e.MsgTypeData)
}

// String returns a compact description for logs.
func (e OutputEvent) String() string {
	switch e.Type {
	case EventMsgToSend:
		if e.IsStatusReport() {
			return "MsgToSend(StatusReport)"
		}
		return fmt.Sprintf("MsgToSend(%s)", OpcodeName(e.MsgTypeData.Opcode))
	case EventStatusReceived, EventInternalError:
		return fmt.Sprintf("%s(%s)", e.Type, e.StatusData.StatusCode)
	case EventQueryWithSkipReceived:
		return fmt.Sprintf("%s(skip=%d)", e.Type, e.BytesToSkip)
	default:
		return e.Type.String()
	}
}
