package transfer

import (
	"bytes"

	"github.com/backkem/matter-bdx/pkg/exchange"
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
)

// Exchange is the slice of an exchange context a driver uses.
// *exchange.ExchangeContext implements it.
type Exchange interface {
	Peer() fabric.PeerID
	SendMessage(msgType message.MessageType, payload []byte, expectResponse bool) error
	Close() error
}

// ExchangeManager opens BDX exchanges and routes unsolicited BDX traffic.
type ExchangeManager interface {
	// OpenExchange opens a new exchange to peer as initiator.
	OpenExchange(peer fabric.PeerID, delegate exchange.ExchangeDelegate) (Exchange, error)

	// Listen registers handler for exchanges peers open.
	Listen(handler exchange.ProtocolHandler) error

	// StopListening unregisters the handler installed by Listen.
	StopListening()
}

// BDXExchanges adapts an exchange.Manager to ExchangeManager, scoped to the
// BDX protocol.
func BDXExchanges(m *exchange.Manager) ExchangeManager {
	return bdxExchanges{m: m}
}

type bdxExchanges struct {
	m *exchange.Manager
}

func (b bdxExchanges) OpenExchange(peer fabric.PeerID, delegate exchange.ExchangeDelegate) (Exchange, error) {
	ctx, err := b.m.NewExchange(peer, message.ProtocolBDX, delegate)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

func (b bdxExchanges) Listen(handler exchange.ProtocolHandler) error {
	return b.m.RegisterProtocol(message.ProtocolBDX, handler)
}

func (b bdxExchanges) StopListening() {
	b.m.UnregisterProtocol(message.ProtocolBDX)
}

// binding connects a driver to the exchange layer. Callbacks arrive on
// network goroutines and are posted to the driver's executor.
type binding struct {
	d *Driver
}

func (b *binding) OnMessage(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) error {
	msgType := header.MessageType()
	data := bytes.Clone(payload)
	return b.d.exec.Post(func() {
		b.d.HandleMessage(ctx, msgType, data)
	})
}

func (b *binding) OnClose(ctx *exchange.ExchangeContext) {
	b.d.exec.Post(func() {
		b.d.OnExchangeClosing(ctx)
	})
}

// OnUnsolicited claims every inbound BDX exchange; the driver decides on
// its executor whether to adopt or refuse it.
func (b *binding) OnUnsolicited(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) (exchange.ExchangeDelegate, error) {
	return b, nil
}
