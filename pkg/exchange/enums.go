// Package exchange implements Matter message exchanges over established
// sessions.
//
// An Exchange represents a single conversation between two nodes, identified
// by the tuple {peer, Exchange ID, Exchange Role}. The Manager multiplexes
// exchanges over sessions and dispatches the first message of a new exchange
// to the ProtocolHandler registered for its protocol ID, which may claim the
// exchange by returning a delegate.
//
// Spec References:
//   - Section 4.10: Message Exchanges
package exchange

// ExchangeRole indicates whether a node is the initiator or responder for an exchange.
// See Spec Section 4.10.1.
type ExchangeRole int

const (
	// ExchangeRoleUnknown indicates an uninitialized or invalid role.
	ExchangeRoleUnknown ExchangeRole = iota

	// ExchangeRoleInitiator is the node that sent the first message and
	// allocated the Exchange ID. It sets the I flag on every message.
	ExchangeRoleInitiator

	// ExchangeRoleResponder is the node that received an unsolicited message.
	ExchangeRoleResponder
)

// String returns a human-readable name for the exchange role.
func (r ExchangeRole) String() string {
	switch r {
	case ExchangeRoleInitiator:
		return "Initiator"
	case ExchangeRoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// ExchangeState tracks the lifecycle of an exchange.
type ExchangeState int

const (
	// ExchangeStateActive indicates normal operation.
	ExchangeStateActive ExchangeState = iota + 1

	// ExchangeStateClosed indicates the exchange is terminated.
	ExchangeStateClosed
)

// String returns a human-readable name for the exchange state.
func (s ExchangeState) String() string {
	switch s {
	case ExchangeStateActive:
		return "Active"
	case ExchangeStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
