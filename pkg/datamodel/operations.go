package datamodel

import "github.com/backkem/matter-bdx/pkg/fabric"

// AuthMode indicates how the subject of a request was authenticated.
type AuthMode uint8

const (
	AuthModeNone  AuthMode = 0
	AuthModePASE  AuthMode = 1
	AuthModeCASE  AuthMode = 2
	AuthModeGroup AuthMode = 3
)

// String returns the name of the auth mode.
func (a AuthMode) String() string {
	switch a {
	case AuthModeNone:
		return "None"
	case AuthModePASE:
		return "PASE"
	case AuthModeCASE:
		return "CASE"
	case AuthModeGroup:
		return "Group"
	default:
		return "Unknown"
	}
}

// SubjectDescriptor contains authentication information about the request source.
type SubjectDescriptor struct {
	// FabricIndex identifies the fabric the subject belongs to.
	FabricIndex fabric.FabricIndex

	// NodeID is the operational node ID of the subject.
	NodeID fabric.NodeID

	// AuthMode indicates how the subject was authenticated.
	AuthMode AuthMode
}

// InvokeFlags contains flags specific to invoke operations.
type InvokeFlags uint32

const (
	// InvokeFlagTimed indicates the invoke is part of a timed interaction.
	InvokeFlagTimed InvokeFlags = 1 << iota
)

// Has returns true if the flags contain the specified flag(s).
func (f InvokeFlags) Has(flag InvokeFlags) bool {
	return f&flag != 0
}

// InvokeRequest contains parameters for invoking a command.
type InvokeRequest struct {
	// Path identifies the command to invoke.
	Path ConcreteCommandPath

	// InvokeFlags contains invoke-specific flags.
	InvokeFlags InvokeFlags

	// Subject contains authentication info for the request source.
	// nil for internal operations.
	Subject *SubjectDescriptor
}

// FabricIndex returns the accessing fabric index, or 0 if none.
func (r *InvokeRequest) FabricIndex() fabric.FabricIndex {
	if r.Subject == nil {
		return 0
	}
	return r.Subject.FabricIndex
}

// Peer returns the fabric-scoped identity of the invoking node. ok is false
// for internal and group requests, which have no single peer to talk back to.
func (r *InvokeRequest) Peer() (peer fabric.PeerID, ok bool) {
	if r.Subject == nil || r.Subject.AuthMode == AuthModeGroup || r.Subject.NodeID == 0 {
		return fabric.PeerID{}, false
	}
	return fabric.NewPeerID(r.Subject.FabricIndex, r.Subject.NodeID), true
}

// IsTimed returns true if this is a timed invoke.
func (r *InvokeRequest) IsTimed() bool {
	return r.InvokeFlags.Has(InvokeFlagTimed)
}
