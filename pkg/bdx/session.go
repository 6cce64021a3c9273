package bdx

import (
	"fmt"
	"time"

	"github.com/backkem/matter-bdx/pkg/message"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateAwaitingInit
	stateAwaitingAccept
	stateNegotiate
	stateInProgress
	stateAwaitingEOFAck
	stateReceivedEOF
	stateDone
	stateError
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateAwaitingInit:
		return "AwaitingInit"
	case stateAwaitingAccept:
		return "AwaitingAccept"
	case stateNegotiate:
		return "Negotiate"
	case stateInProgress:
		return "InProgress"
	case stateAwaitingEOFAck:
		return "AwaitingEOFAck"
	case stateReceivedEOF:
		return "ReceivedEOF"
	case stateDone:
		return "Done"
	case stateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// TransferSession is the BDX protocol engine for one transfer.
//
// It is not safe for concurrent use; the owner serializes every call.
type TransferSession struct {
	state     sessionState
	role      TransferRole
	initiator bool

	// supportedModes are the drive modes this node proposed or will accept;
	// peerModes are the ones the peer proposed in its init.
	supportedModes TransferControlFlags
	peerModes      TransferControlFlags
	controlMode    TransferControlFlags

	localMaxBlockSize uint16
	blockSize         uint16
	startOffset       uint64
	length            uint64
	fileDesignator    []byte

	timeout          time.Duration
	timeoutStart     time.Time
	awaitingResponse bool

	// nextBlockNum is the counter of the next Block this node sends
	// (sender) or expects (receiver). lastBlockNum is the counter of the
	// most recent Block sent or received.
	nextBlockNum  uint32
	lastBlockNum  uint32
	queryPending  bool
	bytesReceived uint64

	events []OutputEvent
}

// NewTransferSession returns an idle session.
func NewTransferSession() *TransferSession {
	return &TransferSession{}
}

// InitiateTransfer starts a transfer as initiator. A Sender sends SendInit,
// a Receiver sends ReceiveInit. The init message is queued as EventMsgToSend.
func (s *TransferSession) InitiateTransfer(role TransferRole, init TransferInitData, timeout time.Duration, now time.Time) error {
	if s.state != stateIdle {
		return ErrIncorrectState
	}
	if n := len(init.FileDesignator); n == 0 || n > MaxFileDesignatorLength {
		return ErrFileDesignatorLength
	}
	if init.MaxBlockSize == 0 || init.TransferCtlFlags.Modes() == 0 {
		return ErrInvalidArgument
	}
	op := OpcodeSendInit
	switch role {
	case RoleSender:
	case RoleReceiver:
		op = OpcodeReceiveInit
	default:
		return ErrInvalidArgument
	}

	s.role = role
	s.initiator = true
	s.supportedModes = init.TransferCtlFlags.Modes()
	s.localMaxBlockSize = init.MaxBlockSize
	s.startOffset = init.StartOffset
	s.length = init.Length
	s.fileDesignator = append([]byte(nil), init.FileDesignator...)
	s.timeout = timeout

	msg := TransferInit{
		TransferCtlFlags: s.supportedModes | TransferControlFlags(Version),
		MaxBlockSize:     init.MaxBlockSize,
		StartOffset:      init.StartOffset,
		MaxLength:        init.Length,
		FileDesignator:   s.fileDesignator,
		Metadata:         init.Metadata,
	}
	s.queueMessage(op, msg.Encode())
	s.timeoutStart = now
	s.state = stateAwaitingAccept
	s.awaitingResponse = true
	return nil
}

// WaitForTransfer arms the session as responder for an inbound init. modes
// are the drive modes this node accepts. No timeout applies until the init
// arrives.
func (s *TransferSession) WaitForTransfer(role TransferRole, modes TransferControlFlags, maxBlockSize uint16, timeout time.Duration, now time.Time) error {
	if s.state != stateIdle {
		return ErrIncorrectState
	}
	if role != RoleSender && role != RoleReceiver {
		return ErrInvalidArgument
	}
	if maxBlockSize == 0 || modes.Modes() == 0 {
		return ErrInvalidArgument
	}
	s.role = role
	s.initiator = false
	s.supportedModes = modes.Modes()
	s.localMaxBlockSize = maxBlockSize
	s.timeout = timeout
	s.timeoutStart = now
	s.state = stateAwaitingInit
	return nil
}

// HandleMessageReceived processes one inbound BDX message or StatusReport.
// Protocol violations queue a StatusReport for the peer followed by
// EventInternalError, and return a *ProtocolError.
func (s *TransferSession) HandleMessageReceived(msgType message.MessageType, payload []byte, now time.Time) error {
	if s.state == stateIdle {
		return ErrIncorrectState
	}

	if IsStatusReport(msgType) {
		report, err := DecodeStatusReport(payload)
		if err != nil {
			return err
		}
		s.state = stateError
		s.awaitingResponse = false
		s.events = append(s.events, OutputEvent{
			Type:       EventStatusReceived,
			StatusData: StatusReportData{StatusCode: report.StatusCode()},
		})
		return nil
	}
	if msgType.ProtocolID != message.ProtocolBDX {
		return ErrInvalidMessageType
	}
	if s.state == stateDone || s.state == stateError {
		return ErrIncorrectState
	}

	s.timeoutStart = now
	switch msgType.Opcode {
	case OpcodeSendInit, OpcodeReceiveInit:
		return s.handleInit(msgType.Opcode, payload)
	case OpcodeSendAccept:
		return s.handleSendAccept(payload)
	case OpcodeReceiveAccept:
		return s.handleReceiveAccept(payload)
	case OpcodeBlockQuery:
		return s.handleBlockQuery(payload, false)
	case OpcodeBlockQueryWithSkip:
		return s.handleBlockQuery(payload, true)
	case OpcodeBlock, OpcodeBlockEOF:
		return s.handleBlock(msgType.Opcode, payload)
	case OpcodeBlockAck:
		return s.handleBlockAck(payload)
	case OpcodeBlockAckEOF:
		return s.handleBlockAckEOF(payload)
	default:
		return s.fail(StatusUnexpectedMessage, fmt.Sprintf("unknown opcode %s", OpcodeName(msgType.Opcode)))
	}
}

func (s *TransferSession) handleInit(op message.Opcode, payload []byte) error {
	if s.state != stateAwaitingInit {
		return s.fail(StatusUnexpectedMessage, "init while "+s.state.String())
	}
	// A sender answers ReceiveInit, a receiver answers SendInit.
	if (s.role == RoleSender) != (op == OpcodeReceiveInit) {
		return s.fail(StatusUnexpectedMessage, OpcodeName(op)+" for role "+s.role.String())
	}
	init, err := DecodeTransferInit(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if len(init.FileDesignator) == 0 {
		return s.fail(StatusBadMessageContents, "empty file designator")
	}
	if init.MaxBlockSize == 0 {
		return s.fail(StatusBadMessageContents, "zero max block size")
	}
	common := init.TransferCtlFlags.Modes() & s.supportedModes &^ ControlAsync
	if common == 0 {
		return s.fail(StatusTransferMethodNotSupported, "no common drive mode")
	}

	s.peerModes = common
	s.blockSize = min(init.MaxBlockSize, s.localMaxBlockSize)
	s.startOffset = init.StartOffset
	s.length = init.MaxLength
	s.fileDesignator = init.FileDesignator
	s.state = stateNegotiate
	s.awaitingResponse = false

	s.events = append(s.events, OutputEvent{
		Type: EventInitReceived,
		InitData: TransferInitData{
			TransferCtlFlags: init.TransferCtlFlags,
			MaxBlockSize:     init.MaxBlockSize,
			StartOffset:      init.StartOffset,
			Length:           init.MaxLength,
			FileDesignator:   init.FileDesignator,
			Metadata:         init.Metadata,
		},
	})
	return nil
}

// AcceptTransfer answers a received init. The chosen ControlMode must be one
// of the modes both sides support.
func (s *TransferSession) AcceptTransfer(accept TransferAcceptData) error {
	if s.state != stateNegotiate {
		return ErrIncorrectState
	}
	mode := accept.ControlMode.Modes()
	if mode != ControlSenderDrive && mode != ControlReceiverDrive {
		return ErrInvalidArgument
	}
	if mode&s.peerModes == 0 {
		return ErrInvalidArgument
	}
	if accept.MaxBlockSize > 0 && accept.MaxBlockSize < s.blockSize {
		s.blockSize = accept.MaxBlockSize
	}
	s.controlMode = mode
	flags := mode | TransferControlFlags(Version)

	if s.role == RoleSender {
		if accept.Length > 0 {
			s.length = accept.Length
		}
		msg := ReceiveAccept{TransferCtlFlags: flags, MaxBlockSize: s.blockSize, Length: s.length, Metadata: accept.Metadata}
		s.queueMessage(OpcodeReceiveAccept, msg.Encode())
		// Sender waits for the first query, or must send the first block.
		s.awaitingResponse = mode == ControlReceiverDrive
	} else {
		msg := SendAccept{TransferCtlFlags: flags, MaxBlockSize: s.blockSize, Metadata: accept.Metadata}
		s.queueMessage(OpcodeSendAccept, msg.Encode())
		s.awaitingResponse = mode == ControlSenderDrive
	}
	s.state = stateInProgress
	return nil
}

func (s *TransferSession) handleSendAccept(payload []byte) error {
	if s.state != stateAwaitingAccept || s.role != RoleSender {
		return s.fail(StatusUnexpectedMessage, "SendAccept while "+s.state.String())
	}
	accept, err := DecodeSendAccept(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if err := s.applyAccept(accept.TransferCtlFlags, accept.MaxBlockSize); err != nil {
		return err
	}
	s.awaitingResponse = s.controlMode == ControlReceiverDrive
	s.emitAccept(accept.Metadata)
	return nil
}

func (s *TransferSession) handleReceiveAccept(payload []byte) error {
	if s.state != stateAwaitingAccept || s.role != RoleReceiver {
		return s.fail(StatusUnexpectedMessage, "ReceiveAccept while "+s.state.String())
	}
	accept, err := DecodeReceiveAccept(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if err := s.applyAccept(accept.TransferCtlFlags, accept.MaxBlockSize); err != nil {
		return err
	}
	if accept.Length > 0 {
		s.length = accept.Length
	}
	s.awaitingResponse = s.controlMode == ControlSenderDrive
	s.emitAccept(accept.Metadata)
	return nil
}

func (s *TransferSession) applyAccept(flags TransferControlFlags, maxBlockSize uint16) error {
	mode := flags.Modes()
	if mode == ControlAsync {
		return s.fail(StatusTransferMethodNotSupported, "async mode")
	}
	if (mode != ControlSenderDrive && mode != ControlReceiverDrive) || mode&s.supportedModes == 0 {
		return s.fail(StatusBadMessageContents, "accepted mode "+mode.String()+" was not proposed")
	}
	if flags.Version() > Version {
		return s.fail(StatusVersionNotSupported, "accepted version above proposed")
	}
	if maxBlockSize == 0 || maxBlockSize > s.localMaxBlockSize {
		return s.fail(StatusBadMessageContents, "accepted block size out of range")
	}
	s.controlMode = mode
	s.blockSize = maxBlockSize
	s.state = stateInProgress
	return nil
}

func (s *TransferSession) emitAccept(metadata []byte) {
	s.events = append(s.events, OutputEvent{
		Type: EventAcceptReceived,
		AcceptData: TransferAcceptData{
			ControlMode:  s.controlMode,
			MaxBlockSize: s.blockSize,
			StartOffset:  s.startOffset,
			Length:       s.length,
			Metadata:     metadata,
		},
	})
}

func (s *TransferSession) handleBlockQuery(payload []byte, withSkip bool) error {
	if s.role != RoleSender || s.state != stateInProgress || s.controlMode != ControlReceiverDrive || s.queryPending {
		return s.fail(StatusUnexpectedMessage, "unexpected block query")
	}

	var counter uint32
	var skip uint64
	if withSkip {
		q, err := DecodeBlockQueryWithSkip(payload)
		if err != nil {
			return s.fail(StatusBadMessageContents, err.Error())
		}
		counter, skip = q.BlockCounter, q.BytesToSkip
	} else {
		q, err := DecodeCounterMessage(payload)
		if err != nil {
			return s.fail(StatusBadMessageContents, err.Error())
		}
		counter = q.BlockCounter
	}
	if counter != s.nextBlockNum {
		return s.fail(StatusBadBlockCounter, fmt.Sprintf("query for block %d, expected %d", counter, s.nextBlockNum))
	}

	s.queryPending = true
	s.awaitingResponse = false
	ev := OutputEvent{Type: EventQueryReceived, BlockData: BlockData{BlockCounter: counter}}
	if withSkip {
		ev.Type = EventQueryWithSkipReceived
		ev.BytesToSkip = skip
	}
	s.events = append(s.events, ev)
	return nil
}

// PrepareBlock queues the next Block (or BlockEOF) for sending.
func (s *TransferSession) PrepareBlock(block BlockData) error {
	if s.role != RoleSender || s.state != stateInProgress {
		return ErrIncorrectState
	}
	if s.controlMode == ControlReceiverDrive && !s.queryPending {
		return ErrIncorrectState
	}
	if s.controlMode == ControlSenderDrive && s.awaitingResponse {
		return ErrIncorrectState
	}
	if len(block.Data) > int(s.blockSize) {
		return ErrBlockTooLarge
	}
	if len(block.Data) == 0 && !block.IsEOF {
		return ErrInvalidArgument
	}

	op := OpcodeBlock
	if block.IsEOF {
		op = OpcodeBlockEOF
	}
	msg := DataBlock{BlockCounter: s.nextBlockNum, Data: block.Data}
	s.queueMessage(op, msg.Encode())
	s.lastBlockNum = s.nextBlockNum
	s.nextBlockNum++
	s.queryPending = false
	s.awaitingResponse = true
	if block.IsEOF {
		s.state = stateAwaitingEOFAck
	}
	return nil
}

func (s *TransferSession) handleBlockAck(payload []byte) error {
	if s.role != RoleSender || s.state != stateInProgress || s.controlMode != ControlSenderDrive || !s.awaitingResponse {
		return s.fail(StatusUnexpectedMessage, "unexpected BlockAck")
	}
	ack, err := DecodeCounterMessage(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if ack.BlockCounter != s.lastBlockNum {
		return s.fail(StatusBadBlockCounter, fmt.Sprintf("ack for block %d, expected %d", ack.BlockCounter, s.lastBlockNum))
	}
	s.awaitingResponse = false
	s.events = append(s.events, OutputEvent{Type: EventAckReceived, BlockData: BlockData{BlockCounter: ack.BlockCounter}})
	return nil
}

func (s *TransferSession) handleBlockAckEOF(payload []byte) error {
	if s.role != RoleSender || s.state != stateAwaitingEOFAck {
		return s.fail(StatusUnexpectedMessage, "unexpected BlockAckEOF")
	}
	ack, err := DecodeCounterMessage(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if ack.BlockCounter != s.lastBlockNum {
		return s.fail(StatusBadBlockCounter, fmt.Sprintf("EOF ack for block %d, expected %d", ack.BlockCounter, s.lastBlockNum))
	}
	s.state = stateDone
	s.awaitingResponse = false
	s.events = append(s.events, OutputEvent{Type: EventAckEOFReceived, BlockData: BlockData{BlockCounter: ack.BlockCounter}})
	return nil
}

func (s *TransferSession) handleBlock(op message.Opcode, payload []byte) error {
	if s.role != RoleReceiver || s.state != stateInProgress {
		return s.fail(StatusUnexpectedMessage, "unexpected "+OpcodeName(op))
	}
	if s.controlMode == ControlReceiverDrive && !s.queryPending {
		return s.fail(StatusUnexpectedMessage, "block without query")
	}
	if s.controlMode == ControlSenderDrive && !s.awaitingResponse {
		return s.fail(StatusUnexpectedMessage, "block before ack")
	}
	block, err := DecodeDataBlock(payload)
	if err != nil {
		return s.fail(StatusBadMessageContents, err.Error())
	}
	if block.BlockCounter != s.nextBlockNum {
		return s.fail(StatusBadBlockCounter, fmt.Sprintf("block %d, expected %d", block.BlockCounter, s.nextBlockNum))
	}
	eof := op == OpcodeBlockEOF
	if len(block.Data) > int(s.blockSize) || (len(block.Data) == 0 && !eof) {
		return s.fail(StatusBadMessageContents, fmt.Sprintf("block length %d", len(block.Data)))
	}

	s.bytesReceived += uint64(len(block.Data))
	if s.length > 0 && s.bytesReceived > s.length {
		return s.fail(StatusLengthTooLarge, "received more than the announced length")
	}
	if eof && s.length > 0 && s.bytesReceived < s.length {
		return s.fail(StatusLengthTooShort, "EOF before the announced length")
	}

	s.lastBlockNum = block.BlockCounter
	s.nextBlockNum++
	s.queryPending = false
	s.awaitingResponse = false
	if eof {
		s.state = stateReceivedEOF
	}
	s.events = append(s.events, OutputEvent{
		Type:      EventBlockReceived,
		BlockData: BlockData{Data: block.Data, IsEOF: eof, BlockCounter: block.BlockCounter},
	})
	return nil
}

// PrepareBlockQuery queues a BlockQuery for the next block (receiver drive).
func (s *TransferSession) PrepareBlockQuery() error {
	return s.prepareQuery(false, 0)
}

// PrepareBlockQueryWithSkip queues a BlockQueryWithSkip (receiver drive).
func (s *TransferSession) PrepareBlockQueryWithSkip(bytesToSkip uint64) error {
	return s.prepareQuery(true, bytesToSkip)
}

func (s *TransferSession) prepareQuery(withSkip bool, skip uint64) error {
	if s.role != RoleReceiver || s.state != stateInProgress || s.controlMode != ControlReceiverDrive || s.queryPending {
		return ErrIncorrectState
	}
	if withSkip {
		msg := BlockQueryWithSkip{BlockCounter: s.nextBlockNum, BytesToSkip: skip}
		s.queueMessage(OpcodeBlockQueryWithSkip, msg.Encode())
	} else {
		msg := CounterMessage{BlockCounter: s.nextBlockNum}
		s.queueMessage(OpcodeBlockQuery, msg.Encode())
	}
	s.queryPending = true
	s.awaitingResponse = true
	return nil
}

// PrepareBlockAck acknowledges the last received block. After BlockEOF it
// sends BlockAckEOF and completes the transfer.
func (s *TransferSession) PrepareBlockAck() error {
	if s.role != RoleReceiver {
		return ErrIncorrectState
	}
	msg := CounterMessage{BlockCounter: s.lastBlockNum}
	switch {
	case s.state == stateReceivedEOF:
		s.queueMessage(OpcodeBlockAckEOF, msg.Encode())
		s.state = stateDone
		s.awaitingResponse = false
	case s.state == stateInProgress && s.controlMode == ControlSenderDrive && !s.awaitingResponse:
		s.queueMessage(OpcodeBlockAck, msg.Encode())
		s.awaitingResponse = true
	default:
		return ErrIncorrectState
	}
	return nil
}

// AbortTransfer queues a StatusReport carrying code and moves the session to
// its error state.
func (s *TransferSession) AbortTransfer(code StatusCode) error {
	if s.state == stateIdle || s.state == stateError || s.state == stateDone {
		return ErrIncorrectState
	}
	s.events = append(s.events, OutputEvent{
		Type:        EventMsgToSend,
		MsgTypeData: StatusReportMessageType,
		MsgData:     NewStatusReport(code).Encode(),
		StatusData:  StatusReportData{StatusCode: code},
	})
	s.state = stateError
	s.awaitingResponse = false
	return nil
}

// Reset returns the session to idle, dropping queued output.
func (s *TransferSession) Reset() {
	*s = TransferSession{}
}

// PollOutput returns the next queued event, EventTransferTimeout when the
// peer has not responded within the timeout, or EventNone.
func (s *TransferSession) PollOutput(now time.Time) OutputEvent {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events[0] = OutputEvent{}
		s.events = s.events[1:]
		if ev.Type == EventMsgToSend {
			// The response timeout runs from the moment the owner sends.
			s.timeoutStart = now
		}
		return ev
	}
	if s.awaitingResponse && s.timeout > 0 && now.Sub(s.timeoutStart) >= s.timeout {
		s.state = stateError
		s.awaitingResponse = false
		return OutputEvent{Type: EventTransferTimeout}
	}
	return OutputEvent{Type: EventNone}
}

// fail aborts on a peer protocol violation.
func (s *TransferSession) fail(code StatusCode, reason string) error {
	if s.state != stateError && s.state != stateIdle {
		s.AbortTransfer(code)
		s.events = append(s.events, OutputEvent{
			Type:       EventInternalError,
			StatusData: StatusReportData{StatusCode: code},
		})
	}
	return &ProtocolError{Code: code, Reason: reason}
}

func (s *TransferSession) queueMessage(op message.Opcode, payload []byte) {
	s.events = append(s.events, OutputEvent{
		Type:        EventMsgToSend,
		MsgTypeData: MessageType(op),
		MsgData:     payload,
	})
}

// Role returns this node's role.
func (s *TransferSession) Role() TransferRole { return s.role }

// ControlMode returns the negotiated drive mode, or 0 before acceptance.
func (s *TransferSession) ControlMode() TransferControlFlags { return s.controlMode }

// TransferBlockSize returns the negotiated block size.
func (s *TransferSession) TransferBlockSize() uint16 { return s.blockSize }

// StartOffset returns the requested start offset.
func (s *TransferSession) StartOffset() uint64 { return s.startOffset }

// TransferLength returns the definite length, or 0 if indefinite.
func (s *TransferSession) TransferLength() uint64 { return s.length }

// FileDesignator returns the transfer's file designator.
func (s *TransferSession) FileDesignator() []byte { return s.fileDesignator }

// NextBlockCounter returns the counter of the next Block to be sent or
// received. While a query is pending it is the counter being queried.
func (s *TransferSession) NextBlockCounter() uint32 { return s.nextBlockNum }

// BytesReceived returns the number of data bytes received so far.
func (s *TransferSession) BytesReceived() uint64 { return s.bytesReceived }

// IsIdle reports whether the session has no transfer.
func (s *TransferSession) IsIdle() bool { return s.state == stateIdle }

// IsDone reports whether the transfer completed successfully.
func (s *TransferSession) IsDone() bool { return s.state == stateDone }
