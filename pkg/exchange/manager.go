package exchange

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/pion/logging"
)

// Session is an established channel to one authenticated peer.
// transport.Link implements it.
type Session interface {
	Peer() fabric.PeerID
	Send(data []byte) error
}

// ProtocolHandler handles the first message of exchanges opened by a peer.
type ProtocolHandler interface {
	// OnUnsolicited is offered the first message of a new exchange. Returning
	// a delegate claims the exchange and the message is then delivered to it
	// through OnMessage. Returning a nil delegate or an error closes the
	// exchange.
	OnUnsolicited(ctx *ExchangeContext, header *message.ProtocolHeader, payload []byte) (ExchangeDelegate, error)
}

// ManagerConfig configures the exchange Manager.
type ManagerConfig struct {
	// LocalNodeID is written as the source node of outbound frames.
	LocalNodeID fabric.NodeID

	// LoggerFactory for exchange logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// exchangeKey uniquely identifies an exchange.
type exchangeKey struct {
	peer       fabric.PeerID
	exchangeID uint16
	role       ExchangeRole
}

// Manager multiplexes exchanges over sessions.
type Manager struct {
	localNodeID fabric.NodeID
	log         logging.LeveledLogger

	mu             sync.Mutex
	sessions       map[fabric.PeerID]Session
	exchanges      map[exchangeKey]*ExchangeContext
	handlers       map[message.ProtocolID]ProtocolHandler
	nextExchangeID uint16
	messageCounter uint32
	closed         bool
}

// NewManager creates a new exchange manager.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		localNodeID:    config.LocalNodeID,
		sessions:       make(map[fabric.PeerID]Session),
		exchanges:      make(map[exchangeKey]*ExchangeContext),
		handlers:       make(map[message.ProtocolID]ProtocolHandler),
		nextExchangeID: uint16(rand.Uint32()),
		messageCounter: rand.Uint32()>>4 + 1,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("exchange")
	}
	return m
}

// AddSession makes a peer reachable. A previous session for the same peer is replaced.
func (m *Manager) AddSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Peer()] = s
}

// RemoveSession drops a peer's session and closes every exchange bound to it.
func (m *Manager) RemoveSession(peer fabric.PeerID) {
	m.mu.Lock()
	delete(m.sessions, peer)
	var orphaned []*ExchangeContext
	for key, ctx := range m.exchanges {
		if key.peer == peer {
			orphaned = append(orphaned, ctx)
			delete(m.exchanges, key)
		}
	}
	m.mu.Unlock()

	for _, ctx := range orphaned {
		if ctx.markClosed() {
			ctx.notifyClose()
		}
	}
}

// RegisterProtocol installs the unsolicited-message handler for a protocol.
func (m *Manager) RegisterProtocol(protocolID message.ProtocolID, handler ProtocolHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[protocolID]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, protocolID)
	}
	m.handlers[protocolID] = handler
	return nil
}

// UnregisterProtocol removes the handler for a protocol, if any.
func (m *Manager) UnregisterProtocol(protocolID message.ProtocolID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, protocolID)
}

// NewExchange opens an initiator exchange to a peer.
func (m *Manager) NewExchange(peer fabric.PeerID, protocolID message.ProtocolID, delegate ExchangeDelegate) (*ExchangeContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, ok := m.sessions[peer]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}

	var ctx *ExchangeContext
	for {
		id := m.nextExchangeID
		m.nextExchangeID++
		key := exchangeKey{peer: peer, exchangeID: id, role: ExchangeRoleInitiator}
		if _, taken := m.exchanges[key]; !taken {
			ctx = newExchangeContext(m, id, ExchangeRoleInitiator, protocolID, peer, delegate)
			m.exchanges[key] = ctx
			break
		}
	}

	if m.log != nil {
		m.log.Debugf("opened exchange %d to %s for %s", ctx.ID, peer, protocolID)
	}
	return ctx, nil
}

// OnPacket processes one inbound frame from a session. It is the
// transport.PacketHandler for every link.
func (m *Manager) OnPacket(peer fabric.PeerID, data []byte) {
	if err := m.receive(peer, data); err != nil && m.log != nil {
		m.log.Debugf("dropped frame from %s: %v", peer, err)
	}
}

func (m *Manager) receive(peer fabric.PeerID, data []byte) error {
	frame, err := message.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	proto := &frame.Protocol

	// The sender's I flag tells us which role we hold on this exchange.
	role := ExchangeRoleInitiator
	if proto.Initiator {
		role = ExchangeRoleResponder
	}
	key := exchangeKey{peer: peer, exchangeID: proto.ExchangeID, role: role}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	ctx, ok := m.exchanges[key]
	m.mu.Unlock()

	if ok {
		return ctx.handleMessage(proto, frame.Payload)
	}
	return m.handleUnsolicited(key, proto, frame.Payload)
}

func (m *Manager) handleUnsolicited(key exchangeKey, proto *message.ProtocolHeader, payload []byte) error {
	if !proto.Initiator {
		return ErrUnsolicitedNotInitiator
	}

	m.mu.Lock()
	handler, ok := m.handlers[proto.ProtocolID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoHandler, proto.ProtocolID)
	}
	ctx := newExchangeContext(m, key.exchangeID, ExchangeRoleResponder, proto.ProtocolID, key.peer, nil)
	m.exchanges[key] = ctx
	m.mu.Unlock()

	delegate, err := handler.OnUnsolicited(ctx, proto, payload)
	if err != nil || delegate == nil {
		ctx.Close()
		return err
	}
	ctx.SetDelegate(delegate)
	return ctx.handleMessage(proto, payload)
}

func (m *Manager) send(peer fabric.PeerID, proto message.ProtocolHeader, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	s, ok := m.sessions[peer]
	m.messageCounter++
	counter := m.messageCounter
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}

	frame := message.Frame{
		Header: message.MessageHeader{
			MessageCounter:     counter,
			SourceNodeID:       uint64(m.localNodeID),
			SourcePresent:      m.localNodeID != fabric.NodeIDUnspecified,
			DestinationNodeID:  uint64(peer.NodeID),
			DestinationPresent: true,
		},
		Protocol: proto,
		Payload:  payload,
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return s.Send(data)
}

func (m *Manager) removeExchange(ctx *ExchangeContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ctx.key()
	if m.exchanges[key] == ctx {
		delete(m.exchanges, key)
	}
}

// ExchangeCount returns the number of open exchanges.
func (m *Manager) ExchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// Close closes every exchange and rejects further traffic.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	open := make([]*ExchangeContext, 0, len(m.exchanges))
	for _, ctx := range m.exchanges {
		open = append(open, ctx)
	}
	m.exchanges = make(map[exchangeKey]*ExchangeContext)
	m.mu.Unlock()

	for _, ctx := range open {
		if ctx.markClosed() {
			ctx.notifyClose()
		}
	}
}
