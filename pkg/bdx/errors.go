package bdx

import (
	"errors"
	"fmt"
)

// Errors returned by the bdx package.
var (
	ErrStatusReportTooShort = errors.New("bdx: status report too short")
	ErrMessageTooShort      = errors.New("bdx: message too short")
	ErrInvalidMessageType   = errors.New("bdx: not a BDX message")
	ErrIncorrectState       = errors.New("bdx: operation not valid in current state")
	ErrInvalidArgument      = errors.New("bdx: invalid argument")
	ErrFileDesignatorLength = errors.New("bdx: file designator length out of range")
	ErrBlockTooLarge        = errors.New("bdx: block exceeds negotiated block size")
)

// ProtocolError is returned by HandleMessageReceived when an inbound message
// violates the protocol. The session has already queued the matching
// StatusReport for the peer.
type ProtocolError struct {
	Code   StatusCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bdx: %s: %s", e.Code, e.Reason)
}

// StatusCodeOf extracts the BDX status code carried by err, if any.
func StatusCodeOf(err error) (StatusCode, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	var sr *StatusReport
	if errors.As(err, &sr) {
		return sr.StatusCode(), true
	}
	return 0, false
}
