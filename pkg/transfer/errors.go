package transfer

import "errors"

var (
	// ErrBusy is returned when a driver already has a session in flight.
	ErrBusy = errors.New("transfer: busy")

	// ErrInvalidArgument is returned for malformed session parameters.
	ErrInvalidArgument = errors.New("transfer: invalid argument")

	// ErrTransferTimeout ends a session whose peer stopped responding.
	ErrTransferTimeout = errors.New("transfer: timed out")

	// ErrInitTimeout ends an armed session whose peer never sent an init.
	ErrInitTimeout = errors.New("transfer: init not received")

	// ErrStatusReceived ends a session the peer aborted with a StatusReport.
	ErrStatusReceived = errors.New("transfer: status report received")

	// ErrInternal ends a session on a local failure: a protocol violation,
	// a send error or a data source error.
	ErrInternal = errors.New("transfer: internal error")

	// ErrExchangeClosed ends a session whose exchange closed under it.
	ErrExchangeClosed = errors.New("transfer: exchange closed")

	// ErrSuperseded ends an armed session replaced by a new one for the
	// same peer.
	ErrSuperseded = errors.New("transfer: superseded")

	// ErrShutdown ends sessions still in flight at registry shutdown.
	ErrShutdown = errors.New("transfer: shutdown")

	// ErrResponseConsumed is returned when a PendingResponse is used twice.
	ErrResponseConsumed = errors.New("transfer: response already sent")

	// ErrExecutorClosed is returned when work is posted to a stopped loop.
	ErrExecutorClosed = errors.New("transfer: executor closed")
)
