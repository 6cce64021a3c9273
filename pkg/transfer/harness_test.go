package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	testPeer  = fabric.NewPeerID(1, 42)
	otherPeer = fabric.NewPeerID(1, 43)
	epoch     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type sentMessage struct {
	msgType        message.MessageType
	payload        []byte
	expectResponse bool
}

type fakeExchange struct {
	peer    fabric.PeerID
	sent    []sentMessage
	closed  int
	sendErr error
}

func (e *fakeExchange) Peer() fabric.PeerID { return e.peer }

func (e *fakeExchange) SendMessage(msgType message.MessageType, payload []byte, expectResponse bool) error {
	if e.sendErr != nil {
		return e.sendErr
	}
	e.sent = append(e.sent, sentMessage{msgType, payload, expectResponse})
	return nil
}

func (e *fakeExchange) Close() error {
	e.closed++
	return nil
}

func (e *fakeExchange) statusReports() []bdx.StatusCode {
	var codes []bdx.StatusCode
	for _, m := range e.sent {
		if bdx.IsStatusReport(m.msgType) {
			r, _ := bdx.DecodeStatusReport(m.payload)
			codes = append(codes, r.StatusCode())
		}
	}
	return codes
}

type fakeExchanges struct {
	opened    []*fakeExchange
	openErr   error
	listenErr error
	listening bool
	listens   int
	sendErr   error
}

func (f *fakeExchanges) OpenExchange(peer fabric.PeerID, delegate exchange.ExchangeDelegate) (Exchange, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	ex := &fakeExchange{peer: peer, sendErr: f.sendErr}
	f.opened = append(f.opened, ex)
	return ex, nil
}

func (f *fakeExchanges) Listen(handler exchange.ProtocolHandler) error {
	if f.listenErr != nil {
		return f.listenErr
	}
	if f.listening {
		return exchange.ErrHandlerExists
	}
	f.listening = true
	f.listens++
	return nil
}

func (f *fakeExchanges) StopListening() { f.listening = false }

func (f *fakeExchanges) last() *fakeExchange {
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// sourceStrategy serves blocks from an in-memory buffer. With hold set,
// replies are parked until the test releases them.
type sourceStrategy struct {
	data   []byte
	cursor int
	hold   bool

	initErr    error
	acceptMode bdx.TransferControlFlags
	noData     bool

	inits     []InitInfo
	requests  []BlockRequest
	replies   []BlockReply
	accepts   int
	completes int
	ends      []error
}

func (s *sourceStrategy) OnInitReceived(info InitInfo) (bdx.TransferAcceptData, error) {
	s.inits = append(s.inits, info)
	if s.initErr != nil {
		return bdx.TransferAcceptData{}, s.initErr
	}
	s.cursor = int(info.StartOffset)
	return bdx.TransferAcceptData{ControlMode: s.acceptMode, Length: uint64(len(s.data)) - info.StartOffset}, nil
}

func (s *sourceStrategy) OnAcceptReceived() { s.accepts++ }

func (s *sourceStrategy) ProduceBlock(req BlockRequest, reply BlockReply) {
	s.requests = append(s.requests, req)
	if s.hold {
		s.replies = append(s.replies, reply)
		return
	}
	s.serve(req, reply)
}

func (s *sourceStrategy) serve(req BlockRequest, reply BlockReply) {
	if s.noData {
		reply(nil, false, nil)
		return
	}
	s.cursor = min(s.cursor+int(req.BytesToSkip), len(s.data))
	end := min(s.cursor+int(req.BlockSize), len(s.data))
	block := s.data[s.cursor:end]
	s.cursor = end
	reply(block, end == len(s.data), nil)
}

func (s *sourceStrategy) OnTransferComplete() { s.completes++ }

func (s *sourceStrategy) OnSessionEnd(err error) { s.ends = append(s.ends, err) }

type harness struct {
	t         *testing.T
	exec      *ManualExecutor
	clock     *FakeClock
	exchanges *fakeExchanges
	strategy  *sourceStrategy
	metrics   *Metrics
	driver    *Driver
}

func newHarness(t *testing.T, name string, strategy *sourceStrategy) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		exec:      NewManualExecutor(),
		clock:     NewFakeClock(epoch),
		exchanges: &fakeExchanges{},
		strategy:  strategy,
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	d, err := NewDriver(Config{
		Name:      name,
		Exchanges: h.exchanges,
		Executor:  h.exec,
		Clock:     h.clock,
		Strategy:  strategy,
		Metrics:   h.metrics,
	})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	h.driver = d
	return h
}

// peerEnd is the remote end of a transfer, run on a real TransferSession.
type peerEnd struct {
	session   *bdx.TransferSession
	delivered int
	received  []byte
	events    []bdx.OutputEvent
	autoReply bool
}

func newPeerEnd() *peerEnd {
	return &peerEnd{session: bdx.NewTransferSession(), autoReply: true}
}

func (p *peerEnd) sawEvent(typ bdx.OutputEventType) bool {
	for _, ev := range p.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

// run shuttles messages between the driver and the peer over ex until both
// sides go quiet.
func (h *harness) run(p *peerEnd, ex *fakeExchange) {
	h.t.Helper()
	for i := 0; i < 10000; i++ {
		progressed := h.exec.Drain() > 0

		for p.delivered < len(ex.sent) {
			m := ex.sent[p.delivered]
			p.delivered++
			p.session.HandleMessageReceived(m.msgType, m.payload, h.clock.Now())
			progressed = true
		}

		for {
			ev := p.session.PollOutput(h.clock.Now())
			if ev.Type == bdx.EventNone {
				break
			}
			progressed = true
			switch ev.Type {
			case bdx.EventMsgToSend:
				h.driver.HandleMessage(ex, ev.MsgTypeData, ev.MsgData)
				continue
			case bdx.EventInitReceived:
				if p.autoReply {
					p.session.AcceptTransfer(bdx.TransferAcceptData{ControlMode: bdx.ControlSenderDrive, MaxBlockSize: DefaultMaxBlockSize})
				}
			case bdx.EventAcceptReceived:
				if p.autoReply && ev.AcceptData.ControlMode == bdx.ControlReceiverDrive {
					p.session.PrepareBlockQuery()
				}
			case bdx.EventBlockReceived:
				p.received = append(p.received, ev.BlockData.Data...)
				if !p.autoReply {
					break
				}
				if ev.BlockData.IsEOF || p.session.ControlMode() == bdx.ControlSenderDrive {
					p.session.PrepareBlockAck()
				} else {
					p.session.PrepareBlockQuery()
				}
			}
			p.events = append(p.events, ev)
		}

		if !progressed {
			return
		}
	}
	h.t.Fatal("transfer did not settle")
}

func errorsIs(err, target error) bool {
	if target == nil {
		return err == nil
	}
	return errors.Is(err, target)
}
