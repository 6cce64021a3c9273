package transport

import "errors"

// Transport errors.
var (
	ErrNilConn    = errors.New("transport: nil connection")
	ErrNilHandler = errors.New("transport: nil packet handler")
	ErrClosed     = errors.New("transport: link closed")
)
