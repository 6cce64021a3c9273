package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrExchangeClosed is returned when attempting operations on a closed exchange.
	ErrExchangeClosed = errors.New("exchange: exchange is closed")

	// ErrNoHandler is returned when no protocol handler is registered for a message.
	ErrNoHandler = errors.New("exchange: no handler registered for protocol")

	// ErrHandlerExists is returned when a protocol already has a handler.
	ErrHandlerExists = errors.New("exchange: protocol handler already registered")

	// ErrSessionNotFound is returned when no session exists for a peer.
	ErrSessionNotFound = errors.New("exchange: session not found")

	// ErrInvalidMessage is returned for malformed or invalid messages.
	ErrInvalidMessage = errors.New("exchange: invalid message")

	// ErrUnsolicitedNotInitiator is returned for unsolicited messages without I flag.
	ErrUnsolicitedNotInitiator = errors.New("exchange: unsolicited message must have I flag set")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("exchange: manager closed")
)
