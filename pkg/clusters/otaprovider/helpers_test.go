package otaprovider

import (
	"context"
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
	testEpoch    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	providerNode = fabric.NodeID(0x00000000DEADBEEF)
	requestorA   = fabric.NewPeerID(1, 0x1111)
	requestorB   = fabric.NewPeerID(1, 0x2222)
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

type sessionEnd struct {
	err    error
	nodeID fabric.NodeID
}

type sessionBegin struct {
	nodeID     fabric.NodeID
	designator string
	offset     uint64
}

// imageDelegate serves images from memory. With hold set, block queries
// are parked until the test answers them.
type imageDelegate struct {
	files    map[string][]byte
	beginErr error
	hold     bool
	noData   bool

	data   []byte
	cursor int

	begins  []sessionBegin
	queries []BlockQuery
	replies []transfer.BlockReply
	ends    []sessionEnd
}

func newImageDelegate(files map[string][]byte) *imageDelegate {
	return &imageDelegate{files: files}
}

func (d *imageDelegate) OnTransferSessionBegin(nodeID fabric.NodeID, designator string, offset uint64) error {
	d.begins = append(d.begins, sessionBegin{nodeID, designator, offset})
	if d.beginErr != nil {
		return d.beginErr
	}
	data, ok := d.files[designator]
	if !ok {
		return ErrUnknownFile
	}
	d.data = data
	d.cursor = int(min(offset, uint64(len(data))))
	return nil
}

func (d *imageDelegate) OnBlockQuery(q BlockQuery, reply transfer.BlockReply) {
	d.queries = append(d.queries, q)
	if d.hold {
		d.replies = append(d.replies, reply)
		return
	}
	d.serve(q, reply)
}

func (d *imageDelegate) serve(q BlockQuery, reply transfer.BlockReply) {
	if d.noData {
		reply(nil, false, nil)
		return
	}
	d.cursor = min(d.cursor+int(q.BytesToSkip), len(d.data))
	end := min(d.cursor+int(q.BlockSize), len(d.data))
	block := d.data[d.cursor:end]
	d.cursor = end
	reply(block, end == len(d.data), nil)
}

func (d *imageDelegate) OnTransferSessionEnd(err error, nodeID fabric.NodeID) {
	d.ends = append(d.ends, sessionEnd{err, nodeID})
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
	listening bool
	listens   int
}

func (f *fakeExchanges) OpenExchange(peer fabric.PeerID, delegate exchange.ExchangeDelegate) (transfer.Exchange, error) {
	return &fakeExchange{peer: peer}, nil
}

func (f *fakeExchanges) Listen(handler exchange.ProtocolHandler) error {
	if f.listening {
		return exchange.ErrHandlerExists
	}
	f.listening = true
	f.listens++
	return nil
}

func (f *fakeExchanges) StopListening() { f.listening = false }

// fakeImages offers a fixed catalog.
type fakeImages struct {
	images  []Image
	lookups []ImageQuery
}

func (f *fakeImages) LookupImage(q ImageQuery) (Image, error) {
	f.lookups = append(f.lookups, q)
	var best *Image
	for i := range f.images {
		img := &f.images[i]
		if img.SoftwareVersion > q.SoftwareVersion && (best == nil || img.SoftwareVersion > best.SoftwareVersion) {
			best = img
		}
	}
	if best == nil {
		return Image{}, ErrNoImage
	}
	return *best, nil
}

// rig is an OTA provider cluster with its sender on a manual executor and
// fake clock.
type rig struct {
	t          *testing.T
	exec       *transfer.ManualExecutor
	clock      *transfer.FakeClock
	exchanges  *fakeExchanges
	delegate   *imageDelegate
	images     *fakeImages
	sender     *BDXSender
	cluster    *Cluster
	dispatcher *clusters.Dispatcher
}

func newRig(t *testing.T, config Config) *rig {
	t.Helper()
	r := &rig{
		t:         t,
		exec:      transfer.NewManualExecutor(),
		clock:     transfer.NewFakeClock(testEpoch),
		exchanges: &fakeExchanges{},
		delegate:  newImageDelegate(map[string][]byte{"light-v2.ota": pattern(3000)}),
		images: &fakeImages{images: []Image{
			{FileDesignator: "light-v2.ota", SoftwareVersion: 2, SoftwareVersionString: "2.0.0", Size: 3000},
		}},
	}
	s, err := NewBDXSender(SenderConfig{
		Transfer: transfer.Config{
			Exchanges: r.exchanges,
			Executor:  r.exec,
			Clock:     r.clock,
		},
		Delegate: r.delegate,
	})
	if err != nil {
		t.Fatalf("NewBDXSender() error = %v", err)
	}
	r.sender = s

	config.NodeID = providerNode
	config.Sender = s
	if config.Images == nil {
		config.Images = r.images
	}
	r.cluster = New(config)
	r.dispatcher = clusters.NewDispatcher(clusters.DispatcherConfig{})
	if err := r.dispatcher.Register(r.cluster); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func subjectOf(peer fabric.PeerID) *datamodel.SubjectDescriptor {
	return &datamodel.SubjectDescriptor{FabricIndex: peer.FabricIndex, NodeID: peer.NodeID, AuthMode: datamodel.AuthModeCASE}
}

func commandPath(cmd datamodel.CommandID) datamodel.ConcreteCommandPath {
	return datamodel.ConcreteCommandPath{Endpoint: 0, Cluster: ClusterID, Command: cmd}
}

// invoke sends one command from peer and drains the executor.
func (r *rig) invoke(req clusters.Response, peer fabric.PeerID) []clusters.Answer {
	r.t.Helper()
	payload, err := clusters.EncodeResponse(req)
	if err != nil {
		r.t.Fatalf("encode request: %v", err)
	}
	rec := clusters.NewResponseRecorder()
	r.dispatcher.Invoke(context.Background(), datamodel.InvokeRequest{
		Path:    commandPath(req.CommandID()),
		Subject: subjectOf(peer),
	}, payload, rec)
	r.exec.Drain()
	return rec.Answers()
}

func queryFrom(version uint32) *QueryImageRequest {
	return &QueryImageRequest{
		VendorID:           0xFFF1,
		ProductID:          0x8000,
		SoftwareVersion:    version,
		ProtocolsSupported: []DownloadProtocol{ProtocolBDXSynchronous},
	}
}

// query sends QueryImage from peer and decodes the single response.
func (r *rig) query(q *QueryImageRequest, peer fabric.PeerID) QueryImageResponse {
	r.t.Helper()
	answers := r.invoke(q, peer)
	if len(answers) != 1 || !answers[0].IsResponse {
		r.t.Fatalf("answers = %+v, want one response", answers)
	}
	if answers[0].Path.Command != CmdQueryImageResponse {
		r.t.Errorf("response command = 0x%02x", answers[0].Path.Command)
	}
	var resp QueryImageResponse
	if err := clusters.DecodeRequest(answers[0].Data, &resp); err != nil {
		r.t.Fatalf("decode response: %v", err)
	}
	return resp
}

// requestor is the downloading end of an image transfer.
type requestor struct {
	session   *bdx.TransferSession
	ex        *fakeExchange
	delivered int
	received  []byte
	blocks    int
	skip      uint64 // skip hint sent with the next query
	events    []bdx.OutputEventType
}

func newRequestor(t *testing.T, peer fabric.PeerID, designator string, offset uint64, now time.Time) *requestor {
	t.Helper()
	s := bdx.NewTransferSession()
	err := s.InitiateTransfer(bdx.RoleReceiver, bdx.TransferInitData{
		TransferCtlFlags: bdx.ControlReceiverDrive,
		MaxBlockSize:     transfer.DefaultMaxBlockSize,
		StartOffset:      offset,
		FileDesignator:   []byte(designator),
	}, transfer.DefaultSessionTimeout, now)
	if err != nil {
		t.Fatalf("InitiateTransfer() error = %v", err)
	}
	return &requestor{session: s, ex: &fakeExchange{peer: peer}}
}

func (q *requestor) saw(typ bdx.OutputEventType) bool {
	for _, t := range q.events {
		if t == typ {
			return true
		}
	}
	return false
}

// run shuttles messages between the sender's driver and q until both sides
// go quiet.
func (r *rig) run(q *requestor) {
	r.t.Helper()
	d := r.sender.Driver()
	for i := 0; i < 10000; i++ {
		progressed := r.exec.Drain() > 0

		for q.delivered < len(q.ex.sent) {
			m := q.ex.sent[q.delivered]
			q.delivered++
			q.session.HandleMessageReceived(m.msgType, m.payload, r.clock.Now())
			progressed = true
		}

		for {
			ev := q.session.PollOutput(r.clock.Now())
			if ev.Type == bdx.EventNone {
				break
			}
			progressed = true
			q.events = append(q.events, ev.Type)
			switch ev.Type {
			case bdx.EventMsgToSend:
				d.HandleMessage(q.ex, ev.MsgTypeData, ev.MsgData)
			case bdx.EventAcceptReceived:
				q.query()
			case bdx.EventBlockReceived:
				q.received = append(q.received, ev.BlockData.Data...)
				q.blocks++
				if ev.BlockData.IsEOF {
					q.session.PrepareBlockAck()
				} else {
					q.query()
				}
			}
		}

		if !progressed {
			return
		}
	}
	r.t.Fatal("transfer did not settle")
}

func (q *requestor) query() {
	if q.skip > 0 {
		q.session.PrepareBlockQueryWithSkip(q.skip)
		q.skip = 0
		return
	}
	q.session.PrepareBlockQuery()
}
