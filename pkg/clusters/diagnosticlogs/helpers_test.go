package diagnosticlogs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/clusters"
	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/backkem/matter-bdx/pkg/transfer"
)

var (
	testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testNode  = fabric.NodeID(0x42)
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 13)
	}
	return b
}

// memDelegate serves logs from memory and counts every call.
type memDelegate struct {
	mu         sync.Mutex
	logs       map[Intent][]byte
	stamp      time.Time
	startErr   error
	collectErr error
	stall      bool // CollectLog returns nothing without ending the log

	next     LogSessionHandle
	cursors  map[LogSessionHandle]*memCursor
	starts   int
	collects int
	sizes    int
	ends     []LogSessionHandle
}

type memCursor struct {
	data []byte
	pos  int
}

func newMemDelegate(logs map[Intent][]byte) *memDelegate {
	return &memDelegate{logs: logs, stamp: testEpoch, cursors: make(map[LogSessionHandle]*memCursor)}
}

func (m *memDelegate) StartLogCollection(intent Intent) (LogSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return LogSession{}, m.startErr
	}
	data, ok := m.logs[intent]
	if !ok {
		return LogSession{}, ErrNoLogs
	}
	m.next++
	m.cursors[m.next] = &memCursor{data: data}
	uptime := 90 * time.Second
	return LogSession{Handle: m.next, UTCTimestamp: m.stamp, TimeSinceBoot: &uptime}, nil
}

func (m *memDelegate) CollectLog(handle LogSessionHandle, buf []byte) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collects++
	if m.collectErr != nil {
		return 0, false, m.collectErr
	}
	c, ok := m.cursors[handle]
	if !ok {
		return 0, false, ErrUnknownSession
	}
	if m.stall {
		return 0, false, nil
	}
	n := copy(buf, c.data[c.pos:])
	c.pos += n
	return n, c.pos == len(c.data), nil
}

func (m *memDelegate) EndLogCollection(handle LogSessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[handle]; !ok {
		return ErrUnknownSession
	}
	delete(m.cursors, handle)
	m.ends = append(m.ends, handle)
	return nil
}

func (m *memDelegate) GetSizeForIntent(intent Intent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes++
	data, ok := m.logs[intent]
	if !ok {
		return 0, ErrNoLogs
	}
	return len(data), nil
}

func (m *memDelegate) counts() (starts, collects, ends, open int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.collects, len(m.ends), len(m.cursors)
}

func (m *memDelegate) sizeQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizes
}

type sentMessage struct {
	msgType message.MessageType
	payload []byte
}

type fakeExchange struct {
	peer   fabric.PeerID
	sent   []sentMessage
	closed int
}

func (e *fakeExchange) Peer() fabric.PeerID { return e.peer }

func (e *fakeExchange) SendMessage(msgType message.MessageType, payload []byte, expectResponse bool) error {
	e.sent = append(e.sent, sentMessage{msgType, payload})
	return nil
}

func (e *fakeExchange) Close() error {
	e.closed++
	return nil
}

type fakeExchanges struct {
	opened []*fakeExchange
}

func (f *fakeExchanges) OpenExchange(peer fabric.PeerID, delegate exchange.ExchangeDelegate) (transfer.Exchange, error) {
	ex := &fakeExchange{peer: peer}
	f.opened = append(f.opened, ex)
	return ex, nil
}

func (f *fakeExchanges) Listen(handler exchange.ProtocolHandler) error { return nil }

func (f *fakeExchanges) StopListening() {}

// rig is a diagnostic logs cluster backed by a BDX provider on a manual
// executor and fake clock.
type rig struct {
	t          *testing.T
	exec       *transfer.ManualExecutor
	clock      *transfer.FakeClock
	exchanges  *fakeExchanges
	delegate   *memDelegate
	provider   *BDXProvider
	cluster    *Cluster
	dispatcher *clusters.Dispatcher
}

func newRig(t *testing.T, delegate *memDelegate) *rig {
	t.Helper()
	return newRigGo(t, delegate, func(fn func()) { fn() })
}

// newRigGo builds a rig whose CollectLog calls are run by spawn.
func newRigGo(t *testing.T, delegate *memDelegate, spawn func(fn func())) *rig {
	t.Helper()
	r := &rig{
		t:         t,
		exec:      transfer.NewManualExecutor(),
		clock:     transfer.NewFakeClock(testEpoch),
		exchanges: &fakeExchanges{},
		delegate:  delegate,
	}
	p, err := NewBDXProvider(ProviderConfig{
		Transfer: transfer.Config{
			Exchanges: r.exchanges,
			Executor:  r.exec,
			Clock:     r.clock,
		},
		Go: spawn,
	})
	if err != nil {
		t.Fatalf("NewBDXProvider() error = %v", err)
	}
	r.provider = p

	var d LogDelegate
	if delegate != nil {
		d = delegate
	}
	r.cluster = New(Config{Delegate: d, Provider: p})
	r.dispatcher = clusters.NewDispatcher(clusters.DispatcherConfig{})
	if err := r.dispatcher.Register(r.cluster); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func retrieveLogsPath() datamodel.ConcreteCommandPath {
	return datamodel.ConcreteCommandPath{Endpoint: 0, Cluster: ClusterID, Command: CmdRetrieveLogsRequest}
}

func caseSubject() *datamodel.SubjectDescriptor {
	return &datamodel.SubjectDescriptor{FabricIndex: 1, NodeID: testNode, AuthMode: datamodel.AuthModeCASE}
}

// invoke sends a RetrieveLogsRequest and drains the executor.
func (r *rig) invoke(req *RetrieveLogsRequest, subject *datamodel.SubjectDescriptor) *clusters.ResponseRecorder {
	r.t.Helper()
	payload, err := clusters.EncodeResponse(req)
	if err != nil {
		r.t.Fatalf("encode request: %v", err)
	}
	rec := clusters.NewResponseRecorder()
	r.dispatcher.Invoke(context.Background(), datamodel.InvokeRequest{Path: retrieveLogsPath(), Subject: subject}, payload, rec)
	r.exec.Drain()
	return rec
}

func bdxRequest(intent Intent, designator string) *RetrieveLogsRequest {
	return &RetrieveLogsRequest{Intent: intent, RequestedProtocol: ProtocolBDX, TransferFileDesignator: &designator}
}

// onlyResponse returns the single decoded RetrieveLogsResponse recorded by rec.
func onlyResponse(t *testing.T, rec *clusters.ResponseRecorder) RetrieveLogsResponse {
	t.Helper()
	answers := rec.Answers()
	if len(answers) != 1 {
		t.Fatalf("got %d answers, want 1: %+v", len(answers), answers)
	}
	a := answers[0]
	if !a.IsResponse {
		t.Fatalf("answer is status %s, want a response", a.Status)
	}
	if a.Path.Command != CmdRetrieveLogsResponse {
		t.Errorf("response command = 0x%02x", a.Path.Command)
	}
	var resp RetrieveLogsResponse
	if err := clusters.DecodeRequest(a.Data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// receiver is the requesting node's end of a log transfer.
type receiver struct {
	session   *bdx.TransferSession
	delivered int
	received  []byte
	blocks    int
	events    []bdx.OutputEventType
}

func newReceiver(now time.Time) *receiver {
	s := bdx.NewTransferSession()
	s.WaitForTransfer(bdx.RoleReceiver, bdx.ControlSenderDrive, transfer.DefaultMaxBlockSize, transfer.DefaultSessionTimeout, now)
	return &receiver{session: s}
}

// run shuttles messages between the provider's driver and rcv until both
// sides go quiet.
func (r *rig) run(rcv *receiver, ex *fakeExchange) {
	r.t.Helper()
	for i := 0; i < 10000; i++ {
		progressed := r.exec.Drain() > 0

		for rcv.delivered < len(ex.sent) {
			m := ex.sent[rcv.delivered]
			rcv.delivered++
			rcv.session.HandleMessageReceived(m.msgType, m.payload, r.clock.Now())
			progressed = true
		}

		for {
			ev := rcv.session.PollOutput(r.clock.Now())
			if ev.Type == bdx.EventNone {
				break
			}
			progressed = true
			rcv.events = append(rcv.events, ev.Type)
			switch ev.Type {
			case bdx.EventMsgToSend:
				r.provider.Driver().HandleMessage(ex, ev.MsgTypeData, ev.MsgData)
			case bdx.EventInitReceived:
				rcv.session.AcceptTransfer(bdx.TransferAcceptData{ControlMode: bdx.ControlSenderDrive, MaxBlockSize: transfer.DefaultMaxBlockSize})
			case bdx.EventBlockReceived:
				rcv.received = append(rcv.received, ev.BlockData.Data...)
				rcv.blocks++
				rcv.session.PrepareBlockAck()
			}
		}

		if !progressed {
			return
		}
	}
	r.t.Fatal("transfer did not settle")
}

func (rcv *receiver) saw(typ bdx.OutputEventType) bool {
	for _, t := range rcv.events {
		if t == typ {
			return true
		}
	}
	return false
}
