package datamodel

// Status represents an Interaction Model status code.
// Spec: Section 8.10, Table 8-36
type Status uint8

const (
	StatusSuccess               Status = 0x00
	StatusFailure               Status = 0x01
	StatusUnsupportedAccess     Status = 0x7e
	StatusUnsupportedEndpoint   Status = 0x7f
	StatusUnsupportedCommand    Status = 0x81
	StatusInvalidCommand        Status = 0x85
	StatusConstraintError       Status = 0x87
	StatusResourceExhausted     Status = 0x89
	StatusNotFound              Status = 0x8b
	StatusTimeout               Status = 0x94
	StatusBusy                  Status = 0x9c
	StatusUnsupportedCluster    Status = 0xc3
	StatusNeedsTimedInteraction Status = 0xc6
	StatusInvalidInState        Status = 0xcb
)

// String returns the name of the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusUnsupportedAccess:
		return "UnsupportedAccess"
	case StatusUnsupportedEndpoint:
		return "UnsupportedEndpoint"
	case StatusUnsupportedCommand:
		return "UnsupportedCommand"
	case StatusInvalidCommand:
		return "InvalidCommand"
	case StatusConstraintError:
		return "ConstraintError"
	case StatusResourceExhausted:
		return "ResourceExhausted"
	case StatusNotFound:
		return "NotFound"
	case StatusTimeout:
		return "Timeout"
	case StatusBusy:
		return "Busy"
	case StatusUnsupportedCluster:
		return "UnsupportedCluster"
	case StatusNeedsTimedInteraction:
		return "NeedsTimedInteraction"
	case StatusInvalidInState:
		return "InvalidInState"
	default:
		return "Unknown"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
