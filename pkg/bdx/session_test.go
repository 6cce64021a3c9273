package bdx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/matter-bdx/pkg/message"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// pump delivers every queued message from one session to the other and
// returns the non-message events the sender produced.
func pump(t *testing.T, from, to *TransferSession, now time.Time) []OutputEvent {
	t.Helper()
	var events []OutputEvent
	for {
		ev := from.PollOutput(now)
		switch ev.Type {
		case EventNone:
			return events
		case EventMsgToSend:
			if err := to.HandleMessageReceived(ev.MsgTypeData, ev.MsgData, now); err != nil {
				t.Fatalf("HandleMessageReceived(%s) error = %v", ev, err)
			}
		default:
			events = append(events, ev)
		}
	}
}

func onlyEvent(t *testing.T, s *TransferSession, want OutputEventType) OutputEvent {
	t.Helper()
	ev := s.PollOutput(t0)
	if ev.Type != want {
		t.Fatalf("event = %s, want %s", ev, want)
	}
	return ev
}

func TestSenderDriveTransfer(t *testing.T) {
	sender := NewTransferSession()
	receiver := NewTransferSession()

	if err := receiver.WaitForTransfer(RoleReceiver, ControlSenderDrive, 1024, time.Minute, t0); err != nil {
		t.Fatalf("WaitForTransfer() error = %v", err)
	}
	err := sender.InitiateTransfer(RoleSender, TransferInitData{
		TransferCtlFlags: ControlSenderDrive,
		MaxBlockSize:     1024,
		FileDesignator:   []byte("log.txt"),
	}, 5*time.Minute, t0)
	if err != nil {
		t.Fatalf("InitiateTransfer() error = %v", err)
	}

	pump(t, sender, receiver, t0)
	init := onlyEvent(t, receiver, EventInitReceived)
	if string(init.InitData.FileDesignator) != "log.txt" {
		t.Errorf("designator = %q", init.InitData.FileDesignator)
	}

	if err := receiver.AcceptTransfer(TransferAcceptData{ControlMode: ControlSenderDrive, MaxBlockSize: 512}); err != nil {
		t.Fatalf("AcceptTransfer() error = %v", err)
	}
	pump(t, receiver, sender, t0)
	accept := onlyEvent(t, sender, EventAcceptReceived)
	if accept.AcceptData.MaxBlockSize != 512 || sender.TransferBlockSize() != 512 {
		t.Errorf("negotiated block size = %d/%d, want 512", accept.AcceptData.MaxBlockSize, sender.TransferBlockSize())
	}

	data := bytes.Repeat([]byte{0xAB}, 1000)
	var got []byte
	for off, counter := 0, uint32(0); off < len(data); counter++ {
		end := min(off+512, len(data))
		eof := end == len(data)
		if err := sender.PrepareBlock(BlockData{Data: data[off:end], IsEOF: eof}); err != nil {
			t.Fatalf("PrepareBlock(%d) error = %v", counter, err)
		}
		pump(t, sender, receiver, t0)
		blk := onlyEvent(t, receiver, EventBlockReceived)
		if blk.BlockData.BlockCounter != counter || blk.BlockData.IsEOF != eof {
			t.Fatalf("block = %+v", blk.BlockData)
		}
		got = append(got, blk.BlockData.Data...)

		if err := receiver.PrepareBlockAck(); err != nil {
			t.Fatalf("PrepareBlockAck() error = %v", err)
		}
		pump(t, receiver, sender, t0)
		if eof {
			onlyEvent(t, sender, EventAckEOFReceived)
		} else {
			onlyEvent(t, sender, EventAckReceived)
		}
		off = end
	}

	if !bytes.Equal(got, data) {
		t.Error("received data mismatch")
	}
	if !sender.IsDone() || !receiver.IsDone() {
		t.Errorf("done = %v/%v", sender.IsDone(), receiver.IsDone())
	}
}

func TestReceiverDriveTransferWithSkip(t *testing.T) {
	sender := NewTransferSession()
	receiver := NewTransferSession()

	sender.WaitForTransfer(RoleSender, ControlReceiverDrive, 1024, time.Minute, t0)
	receiver.InitiateTransfer(RoleReceiver, TransferInitData{
		TransferCtlFlags: ControlReceiverDrive,
		MaxBlockSize:     4,
		StartOffset:      2,
		FileDesignator:   []byte("image.ota"),
	}, time.Minute, t0)

	pump(t, receiver, sender, t0)
	init := onlyEvent(t, sender, EventInitReceived)
	if init.InitData.StartOffset != 2 || sender.StartOffset() != 2 {
		t.Errorf("start offset = %d", init.InitData.StartOffset)
	}
	if sender.TransferBlockSize() != 4 {
		t.Errorf("block size = %d, want 4", sender.TransferBlockSize())
	}
	if err := sender.AcceptTransfer(TransferAcceptData{ControlMode: ControlReceiverDrive, Length: 6}); err != nil {
		t.Fatalf("AcceptTransfer() error = %v", err)
	}
	pump(t, sender, receiver, t0)
	accept := onlyEvent(t, receiver, EventAcceptReceived)
	if accept.AcceptData.Length != 6 {
		t.Errorf("accepted length = %d", accept.AcceptData.Length)
	}

	if err := receiver.PrepareBlockQuery(); err != nil {
		t.Fatalf("PrepareBlockQuery() error = %v", err)
	}
	pump(t, receiver, sender, t0)
	q := onlyEvent(t, sender, EventQueryReceived)
	if q.BlockData.BlockCounter != 0 || sender.NextBlockCounter() != 0 {
		t.Errorf("query counter = %d", q.BlockData.BlockCounter)
	}
	sender.PrepareBlock(BlockData{Data: []byte("abcd")})
	pump(t, sender, receiver, t0)
	onlyEvent(t, receiver, EventBlockReceived)

	if err := receiver.PrepareBlockQueryWithSkip(10); err != nil {
		t.Fatalf("PrepareBlockQueryWithSkip() error = %v", err)
	}
	pump(t, receiver, sender, t0)
	qs := onlyEvent(t, sender, EventQueryWithSkipReceived)
	if qs.BytesToSkip != 10 || qs.BlockData.BlockCounter != 1 {
		t.Errorf("skip query = %+v skip=%d", qs.BlockData, qs.BytesToSkip)
	}
	sender.PrepareBlock(BlockData{Data: []byte("ef"), IsEOF: true})
	pump(t, sender, receiver, t0)
	last := onlyEvent(t, receiver, EventBlockReceived)
	if !last.BlockData.IsEOF {
		t.Error("last block not EOF")
	}

	if err := receiver.PrepareBlockAck(); err != nil {
		t.Fatalf("PrepareBlockAck() error = %v", err)
	}
	pump(t, receiver, sender, t0)
	onlyEvent(t, sender, EventAckEOFReceived)
	if receiver.BytesReceived() != 6 {
		t.Errorf("BytesReceived() = %d", receiver.BytesReceived())
	}
}

func TestBadBlockCounterAborts(t *testing.T) {
	sender := NewTransferSession()
	sender.WaitForTransfer(RoleSender, ControlReceiverDrive, 1024, time.Minute, t0)

	init := TransferInit{TransferCtlFlags: ControlReceiverDrive, MaxBlockSize: 1024, FileDesignator: []byte("x")}
	sender.HandleMessageReceived(MessageType(OpcodeReceiveInit), init.Encode(), t0)
	onlyEvent(t, sender, EventInitReceived)
	sender.AcceptTransfer(TransferAcceptData{ControlMode: ControlReceiverDrive})
	onlyEvent(t, sender, EventMsgToSend)

	query := CounterMessage{BlockCounter: 5}
	err := sender.HandleMessageReceived(MessageType(OpcodeBlockQuery), query.Encode(), t0)
	code, ok := StatusCodeOf(err)
	if !ok || code != StatusBadBlockCounter {
		t.Fatalf("HandleMessageReceived() error = %v", err)
	}

	msg := onlyEvent(t, sender, EventMsgToSend)
	if !msg.IsStatusReport() {
		t.Fatalf("queued message = %s, want StatusReport", msg)
	}
	report, _ := DecodeStatusReport(msg.MsgData)
	if report.StatusCode() != StatusBadBlockCounter {
		t.Errorf("report code = %v", report.StatusCode())
	}
	ie := onlyEvent(t, sender, EventInternalError)
	if ie.StatusData.StatusCode != StatusBadBlockCounter {
		t.Errorf("internal error code = %v", ie.StatusData.StatusCode)
	}
}

func TestUnexpectedMessages(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s *TransferSession)
		op      message.Opcode
		payload []byte
	}{
		{
			name: "SendInit to sender",
			setup: func(s *TransferSession) {
				s.WaitForTransfer(RoleSender, ControlReceiverDrive, 1024, time.Minute, t0)
			},
			op:      OpcodeSendInit,
			payload: (&TransferInit{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}).Encode(),
		},
		{
			name: "block to sender",
			setup: func(s *TransferSession) {
				s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}, time.Minute, t0)
			},
			op:      OpcodeBlock,
			payload: (&DataBlock{Data: []byte{1}}).Encode(),
		},
		{
			name: "ack before accept",
			setup: func(s *TransferSession) {
				s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}, time.Minute, t0)
			},
			op:      OpcodeBlockAck,
			payload: (&CounterMessage{}).Encode(),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewTransferSession()
			tc.setup(s)
			for s.PollOutput(t0).Type != EventNone {
			}
			err := s.HandleMessageReceived(MessageType(tc.op), tc.payload, t0)
			if code, ok := StatusCodeOf(err); !ok || code != StatusUnexpectedMessage {
				t.Errorf("error = %v, want UnexpectedMessage", err)
			}
		})
	}
}

func TestNoCommonModeRejected(t *testing.T) {
	s := NewTransferSession()
	s.WaitForTransfer(RoleSender, ControlReceiverDrive, 1024, time.Minute, t0)
	init := TransferInit{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 1024, FileDesignator: []byte("f")}
	err := s.HandleMessageReceived(MessageType(OpcodeReceiveInit), init.Encode(), t0)
	if code, _ := StatusCodeOf(err); code != StatusTransferMethodNotSupported {
		t.Errorf("error = %v, want TransferMethodNotSupported", err)
	}
}

func TestStatusReceived(t *testing.T) {
	s := NewTransferSession()
	s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}, time.Minute, t0)
	onlyEvent(t, s, EventMsgToSend)

	report := NewStatusReport(StatusResponderBusy)
	if err := s.HandleMessageReceived(StatusReportMessageType, report.Encode(), t0); err != nil {
		t.Fatalf("HandleMessageReceived() error = %v", err)
	}
	ev := onlyEvent(t, s, EventStatusReceived)
	if ev.StatusData.StatusCode != StatusResponderBusy {
		t.Errorf("status = %v", ev.StatusData.StatusCode)
	}
	if err := s.PrepareBlock(BlockData{Data: []byte{1}}); !errors.Is(err, ErrIncorrectState) {
		t.Errorf("PrepareBlock after status error = %v", err)
	}
}

func TestTransferTimeout(t *testing.T) {
	s := NewTransferSession()
	s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}, time.Minute, t0)

	sendAt := t0.Add(10 * time.Second)
	if ev := s.PollOutput(sendAt); ev.Type != EventMsgToSend {
		t.Fatalf("first event = %s", ev)
	}
	if ev := s.PollOutput(sendAt.Add(59 * time.Second)); ev.Type != EventNone {
		t.Fatalf("event before timeout = %s", ev)
	}
	if ev := s.PollOutput(sendAt.Add(time.Minute)); ev.Type != EventTransferTimeout {
		t.Fatalf("event at timeout = %s", ev)
	}
	if ev := s.PollOutput(sendAt.Add(2 * time.Minute)); ev.Type != EventNone {
		t.Errorf("timeout reported twice: %s", ev)
	}
}

func TestWaitForTransferHasNoTimeout(t *testing.T) {
	s := NewTransferSession()
	s.WaitForTransfer(RoleSender, ControlReceiverDrive, 1024, time.Minute, t0)
	if ev := s.PollOutput(t0.Add(time.Hour)); ev.Type != EventNone {
		t.Errorf("event while awaiting init = %s", ev)
	}
}

func TestAbortAndReset(t *testing.T) {
	s := NewTransferSession()
	if err := s.AbortTransfer(StatusUnknown); !errors.Is(err, ErrIncorrectState) {
		t.Errorf("AbortTransfer on idle error = %v", err)
	}

	s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: []byte("f")}, time.Minute, t0)
	if err := s.AbortTransfer(StatusTransferFailedUnknownError); err != nil {
		t.Fatalf("AbortTransfer() error = %v", err)
	}
	onlyEvent(t, s, EventMsgToSend)
	abort := onlyEvent(t, s, EventMsgToSend)
	if !abort.IsStatusReport() || abort.StatusData.StatusCode != StatusTransferFailedUnknownError {
		t.Errorf("abort event = %s", abort)
	}

	s.Reset()
	if !s.IsIdle() || s.PollOutput(t0).Type != EventNone {
		t.Error("session not idle after Reset")
	}
}

func TestInitiateValidation(t *testing.T) {
	tests := []struct {
		name string
		init TransferInitData
		want error
	}{
		{"empty designator", TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8}, ErrFileDesignatorLength},
		{"long designator", TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 8, FileDesignator: make([]byte, 256)}, ErrFileDesignatorLength},
		{"zero block", TransferInitData{TransferCtlFlags: ControlSenderDrive, FileDesignator: []byte("f")}, ErrInvalidArgument},
		{"no mode", TransferInitData{MaxBlockSize: 8, FileDesignator: []byte("f")}, ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewTransferSession()
			if err := s.InitiateTransfer(RoleSender, tc.init, time.Minute, t0); !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPrepareBlockTooLarge(t *testing.T) {
	s := NewTransferSession()
	s.InitiateTransfer(RoleSender, TransferInitData{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 4, FileDesignator: []byte("f")}, time.Minute, t0)
	s.PollOutput(t0)
	accept := SendAccept{TransferCtlFlags: ControlSenderDrive, MaxBlockSize: 4}
	s.HandleMessageReceived(MessageType(OpcodeSendAccept), accept.Encode(), t0)
	onlyEvent(t, s, EventAcceptReceived)

	if err := s.PrepareBlock(BlockData{Data: []byte("12345")}); !errors.Is(err, ErrBlockTooLarge) {
		t.Errorf("PrepareBlock error = %v", err)
	}
	if err := s.PrepareBlock(BlockData{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty non-EOF block error = %v", err)
	}
	if err := s.PrepareBlock(BlockData{IsEOF: true}); err != nil {
		t.Errorf("empty EOF block error = %v", err)
	}
}
