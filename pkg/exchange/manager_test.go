package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
)

type recordedMessage struct {
	ctx     *ExchangeContext
	header  message.ProtocolHeader
	payload []byte
}

type recordingDelegate struct {
	messages chan recordedMessage
	closed   chan *ExchangeContext
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		messages: make(chan recordedMessage, 16),
		closed:   make(chan *ExchangeContext, 16),
	}
}

func (d *recordingDelegate) OnMessage(ctx *ExchangeContext, header *message.ProtocolHeader, payload []byte) error {
	d.messages <- recordedMessage{ctx: ctx, header: *header, payload: payload}
	return nil
}

func (d *recordingDelegate) OnClose(ctx *ExchangeContext) {
	d.closed <- ctx
}

type claimingHandler struct {
	delegate *recordingDelegate
	reject   error
}

func (h *claimingHandler) OnUnsolicited(ctx *ExchangeContext, header *message.ProtocolHeader, payload []byte) (ExchangeDelegate, error) {
	if h.reject != nil {
		return nil, h.reject
	}
	return h.delegate, nil
}

func waitMessage(t *testing.T, d *recordingDelegate) recordedMessage {
	t.Helper()
	select {
	case m := <-d.messages:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return recordedMessage{}
}

func TestExchangeRoundTrip(t *testing.T) {
	pair, err := NewTestManagerPair(TestManagerPairConfig{})
	if err != nil {
		t.Fatalf("NewTestManagerPair() error = %v", err)
	}
	defer pair.Close()

	responder := newRecordingDelegate()
	if err := pair.Manager(1).RegisterProtocol(message.ProtocolBDX, &claimingHandler{delegate: responder}); err != nil {
		t.Fatalf("RegisterProtocol() error = %v", err)
	}

	initiator := newRecordingDelegate()
	ex, err := pair.Manager(0).NewExchange(pair.Peer(1), message.ProtocolBDX, initiator)
	if err != nil {
		t.Fatalf("NewExchange() error = %v", err)
	}
	if !ex.IsInitiator() || ex.Peer() != pair.Peer(1) {
		t.Fatalf("exchange role/peer = %v/%v", ex.Role, ex.Peer())
	}

	req := message.MessageType{ProtocolID: message.ProtocolBDX, Opcode: 0x01}
	if err := ex.SendMessage(req, []byte("init"), true); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !ex.AwaitingResponse() {
		t.Error("AwaitingResponse() = false after expecting a response")
	}

	got := waitMessage(t, responder)
	if got.ctx.Role != ExchangeRoleResponder {
		t.Errorf("responder role = %v", got.ctx.Role)
	}
	if got.ctx.Peer() != pair.Peer(0) {
		t.Errorf("responder sees peer %v, want %v", got.ctx.Peer(), pair.Peer(0))
	}
	if got.ctx.ID != ex.ID || !got.header.Initiator || got.header.ProtocolOpcode != 0x01 {
		t.Errorf("header = %+v", got.header)
	}
	if string(got.payload) != "init" {
		t.Errorf("payload = %q", got.payload)
	}

	status := message.MessageType{ProtocolID: message.ProtocolSecureChannel, Opcode: 0x40}
	if err := got.ctx.SendMessage(status, []byte{1}, false); err != nil {
		t.Fatalf("responder SendMessage() error = %v", err)
	}
	reply := waitMessage(t, initiator)
	if reply.header.ProtocolID != message.ProtocolSecureChannel || reply.header.Initiator {
		t.Errorf("reply header = %+v", reply.header)
	}
	if ex.AwaitingResponse() {
		t.Error("AwaitingResponse() still set after reply")
	}
}

func TestExchangeCloseNotifiesOnce(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.AddSession(nopSession{peer: TestPeer1})

	d := newRecordingDelegate()
	ex, err := m.NewExchange(TestPeer1, message.ProtocolBDX, d)
	if err != nil {
		t.Fatalf("NewExchange() error = %v", err)
	}
	if m.ExchangeCount() != 1 {
		t.Fatalf("ExchangeCount() = %d", m.ExchangeCount())
	}

	ex.Close()
	ex.Close()
	if len(d.closed) != 1 {
		t.Errorf("OnClose called %d times, want 1", len(d.closed))
	}
	if m.ExchangeCount() != 0 {
		t.Errorf("ExchangeCount() = %d after close", m.ExchangeCount())
	}
	if err := ex.SendMessage(message.MessageType{}, nil, false); !errors.Is(err, ErrExchangeClosed) {
		t.Errorf("SendMessage after close error = %v", err)
	}
}

func TestRemoveSessionClosesExchanges(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.AddSession(nopSession{peer: TestPeer1})

	d := newRecordingDelegate()
	ex, _ := m.NewExchange(TestPeer1, message.ProtocolBDX, d)
	m.RemoveSession(TestPeer1)

	if !ex.IsClosed() {
		t.Error("exchange not closed after session removal")
	}
	if len(d.closed) != 1 {
		t.Errorf("OnClose called %d times", len(d.closed))
	}
	if _, err := m.NewExchange(TestPeer1, message.ProtocolBDX, d); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("NewExchange without session error = %v", err)
	}
}

func TestUnsolicitedRejected(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.AddSession(nopSession{peer: TestPeer0})

	frame := message.Frame{
		Protocol: message.ProtocolHeader{ProtocolID: message.ProtocolBDX, ProtocolOpcode: 1, ExchangeID: 9, Initiator: true},
	}
	data, _ := frame.Encode()

	if err := m.receive(TestPeer0, data); !errors.Is(err, ErrNoHandler) {
		t.Errorf("receive without handler error = %v", err)
	}

	reject := errors.New("busy")
	m.RegisterProtocol(message.ProtocolBDX, &claimingHandler{reject: reject})
	if err := m.receive(TestPeer0, data); !errors.Is(err, reject) {
		t.Errorf("receive with rejecting handler error = %v", err)
	}
	if m.ExchangeCount() != 0 {
		t.Errorf("rejected exchange left open")
	}

	frame.Protocol.Initiator = false
	data, _ = frame.Encode()
	if err := m.receive(TestPeer0, data); !errors.Is(err, ErrUnsolicitedNotInitiator) {
		t.Errorf("receive without I flag error = %v", err)
	}
}

func TestRegisterProtocolTwice(t *testing.T) {
	m := NewManager(ManagerConfig{})
	h := &claimingHandler{}
	if err := m.RegisterProtocol(message.ProtocolBDX, h); err != nil {
		t.Fatalf("first RegisterProtocol() error = %v", err)
	}
	if err := m.RegisterProtocol(message.ProtocolBDX, h); !errors.Is(err, ErrHandlerExists) {
		t.Errorf("second RegisterProtocol() error = %v", err)
	}
	m.UnregisterProtocol(message.ProtocolBDX)
	if err := m.RegisterProtocol(message.ProtocolBDX, h); err != nil {
		t.Errorf("RegisterProtocol after unregister error = %v", err)
	}
}

func TestManagerCloseClosesExchanges(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.AddSession(nopSession{peer: TestPeer1})
	d := newRecordingDelegate()
	ex, _ := m.NewExchange(TestPeer1, message.ProtocolBDX, d)

	m.Close()
	if !ex.IsClosed() || len(d.closed) != 1 {
		t.Errorf("exchange closed=%v, OnClose calls=%d", ex.IsClosed(), len(d.closed))
	}
	if _, err := m.NewExchange(TestPeer1, message.ProtocolBDX, d); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("NewExchange after Close error = %v", err)
	}
}

type nopSession struct {
	peer fabric.PeerID
}

func (s nopSession) Peer() fabric.PeerID { return s.peer }
func (s nopSession) Send([]byte) error   { return nil }
