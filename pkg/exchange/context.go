package exchange

import (
	"sync"

	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
)

// ExchangeDelegate receives messages for an exchange from upper layers.
type ExchangeDelegate interface {
	// OnMessage is called when a message is received on this exchange.
	OnMessage(ctx *ExchangeContext, header *message.ProtocolHeader, payload []byte) error

	// OnClose is called once when the exchange is closed, whether by its
	// owner, by session removal or by manager shutdown.
	OnClose(ctx *ExchangeContext)
}

// ExchangeContext represents a single conversation (exchange) between nodes.
// Per Spec Section 4.10.3, an exchange context tracks its Exchange ID, its
// role and the session (here: the peer) it is bound to.
type ExchangeContext struct {
	// ID is the Exchange ID, assigned by the initiator.
	ID uint16

	// Role indicates if we are initiator or responder.
	Role ExchangeRole

	// ProtocolID is the protocol of the message that opened the exchange.
	ProtocolID message.ProtocolID

	peer    fabric.PeerID
	manager *Manager

	mu               sync.Mutex
	state            ExchangeState
	delegate         ExchangeDelegate
	awaitingResponse bool
}

func newExchangeContext(m *Manager, id uint16, role ExchangeRole, protocol message.ProtocolID, peer fabric.PeerID, delegate ExchangeDelegate) *ExchangeContext {
	return &ExchangeContext{
		ID:         id,
		Role:       role,
		ProtocolID: protocol,
		peer:       peer,
		manager:    m,
		state:      ExchangeStateActive,
		delegate:   delegate,
	}
}

func (c *ExchangeContext) key() exchangeKey {
	return exchangeKey{peer: c.peer, exchangeID: c.ID, role: c.Role}
}

// Peer returns the fabric-scoped identity of the node at the other end.
func (c *ExchangeContext) Peer() fabric.PeerID {
	return c.peer
}

// IsInitiator returns true if we are the exchange initiator.
func (c *ExchangeContext) IsInitiator() bool {
	return c.Role == ExchangeRoleInitiator
}

// IsClosed returns true if the exchange is closed.
func (c *ExchangeContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ExchangeStateClosed
}

// SetDelegate sets the message delegate.
func (c *ExchangeContext) SetDelegate(delegate ExchangeDelegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = delegate
}

// AwaitingResponse reports whether the last message sent asked for a response.
func (c *ExchangeContext) AwaitingResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingResponse
}

// SendMessage sends a message on this exchange. The message type carries its
// own protocol ID so that a StatusReport (Secure Channel) can be sent on an
// exchange opened for another protocol. expectResponse marks the exchange as
// waiting for the peer's next message.
func (c *ExchangeContext) SendMessage(msgType message.MessageType, payload []byte, expectResponse bool) error {
	c.mu.Lock()
	if c.state == ExchangeStateClosed {
		c.mu.Unlock()
		return ErrExchangeClosed
	}
	c.awaitingResponse = expectResponse
	c.mu.Unlock()

	proto := message.ProtocolHeader{
		ProtocolID:     msgType.ProtocolID,
		ProtocolOpcode: msgType.Opcode,
		ExchangeID:     c.ID,
		Initiator:      c.Role == ExchangeRoleInitiator,
	}
	return c.manager.send(c.peer, proto, payload)
}

// Close closes the exchange and notifies the delegate. Safe to call more than once.
func (c *ExchangeContext) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.manager.removeExchange(c)
	c.notifyClose()
	return nil
}

// markClosed transitions to Closed and reports whether this call did so.
func (c *ExchangeContext) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ExchangeStateClosed {
		return false
	}
	c.state = ExchangeStateClosed
	return true
}

func (c *ExchangeContext) notifyClose() {
	c.mu.Lock()
	delegate := c.delegate
	c.mu.Unlock()
	if delegate != nil {
		delegate.OnClose(c)
	}
}

func (c *ExchangeContext) handleMessage(proto *message.ProtocolHeader, payload []byte) error {
	c.mu.Lock()
	if c.state == ExchangeStateClosed {
		c.mu.Unlock()
		return ErrExchangeClosed
	}
	c.awaitingResponse = false
	delegate := c.delegate
	c.mu.Unlock()

	if delegate == nil {
		return nil
	}
	return delegate.OnMessage(c, proto, payload)
}
