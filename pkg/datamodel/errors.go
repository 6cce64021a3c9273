package datamodel

import "errors"

// Errors returned by command handlers. ErrorToStatus maps them onto the
// status sent back to the invoking client.
var (
	// ErrEndpointNotFound indicates the requested endpoint does not exist.
	ErrEndpointNotFound = errors.New("datamodel: endpoint not found")

	// ErrClusterNotFound indicates the requested cluster does not exist.
	ErrClusterNotFound = errors.New("datamodel: cluster not found")

	// ErrClusterExists indicates a cluster with the same path is already registered.
	ErrClusterExists = errors.New("datamodel: cluster already exists")

	// ErrUnsupportedCommand indicates the command is not supported by the cluster.
	ErrUnsupportedCommand = errors.New("datamodel: unsupported command")

	// ErrInvalidCommand indicates a malformed or semantically invalid command.
	ErrInvalidCommand = errors.New("datamodel: invalid command")

	// ErrConstraintError indicates a field value is out of its allowed range.
	ErrConstraintError = errors.New("datamodel: constraint error")

	// ErrAccessDenied indicates the request carries no usable subject.
	ErrAccessDenied = errors.New("datamodel: access denied")

	// ErrNotFound indicates a referenced item (such as an update token) is unknown.
	ErrNotFound = errors.New("datamodel: not found")

	// ErrInvalidInState indicates the operation is invalid in the current state.
	ErrInvalidInState = errors.New("datamodel: invalid in current state")

	// ErrResourceExhausted indicates insufficient resources.
	ErrResourceExhausted = errors.New("datamodel: resource exhausted")

	// ErrBusy indicates the resource is busy with another operation.
	ErrBusy = errors.New("datamodel: resource busy")

	// ErrTimedRequired indicates a timed interaction is required.
	ErrTimedRequired = errors.New("datamodel: timed interaction required")
)

// ErrorToStatus maps an error to an IM status code. Unrecognized errors
// map to Failure.
func ErrorToStatus(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	switch {
	case errors.Is(err, ErrEndpointNotFound):
		return StatusUnsupportedEndpoint
	case errors.Is(err, ErrClusterNotFound):
		return StatusUnsupportedCluster
	case errors.Is(err, ErrUnsupportedCommand):
		return StatusUnsupportedCommand
	case errors.Is(err, ErrInvalidCommand):
		return StatusInvalidCommand
	case errors.Is(err, ErrConstraintError):
		return StatusConstraintError
	case errors.Is(err, ErrAccessDenied):
		return StatusUnsupportedAccess
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrInvalidInState):
		return StatusInvalidInState
	case errors.Is(err, ErrResourceExhausted):
		return StatusResourceExhausted
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrTimedRequired):
		return StatusNeedsTimedInteraction
	default:
		return StatusFailure
	}
}
