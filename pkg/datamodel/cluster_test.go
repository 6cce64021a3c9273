package datamodel

import (
	"fmt"
	"testing"

	"github.com/backkem/matter-bdx/pkg/fabric"
)

func TestClusterBase_New(t *testing.T) {
	cb := NewClusterBase(0x0032, 1, 1)

	if cb.ID() != 0x0032 {
		t.Errorf("ID() = %v, want 0x0032", cb.ID())
	}
	if cb.EndpointID() != 1 {
		t.Errorf("EndpointID() = %v, want 1", cb.EndpointID())
	}
	if cb.ClusterRevision() != 1 {
		t.Errorf("ClusterRevision() = %v, want 1", cb.ClusterRevision())
	}
	if cb.FeatureMap() != 0 {
		t.Errorf("FeatureMap() = %v, want 0", cb.FeatureMap())
	}

	cb.SetFeatureMap(0x0001)
	if cb.FeatureMap() != 0x0001 {
		t.Errorf("FeatureMap() = 0x%04X, want 0x0001", cb.FeatureMap())
	}

	want := ConcreteClusterPath{Endpoint: 1, Cluster: 0x0032}
	if cb.Path() != want {
		t.Errorf("Path() = %v, want %v", cb.Path(), want)
	}
}

func TestCommandPath(t *testing.T) {
	p := ConcreteCommandPath{Endpoint: 0, Cluster: 0x0029, Command: 0x00}

	if got := p.ClusterPath(); got != (ConcreteClusterPath{Endpoint: 0, Cluster: 0x0029}) {
		t.Errorf("ClusterPath() = %v", got)
	}
	resp := p.WithCommand(0x01)
	if resp.Command != 0x01 || resp.Cluster != p.Cluster || resp.Endpoint != p.Endpoint {
		t.Errorf("WithCommand(1) = %v", resp)
	}
	if p.Command != 0x00 {
		t.Error("WithCommand modified the receiver")
	}
	if got := resp.String(); got != "0/0x0029/0x01" {
		t.Errorf("String() = %q", got)
	}
}

func TestErrorToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{ErrEndpointNotFound, StatusUnsupportedEndpoint},
		{ErrClusterNotFound, StatusUnsupportedCluster},
		{ErrUnsupportedCommand, StatusUnsupportedCommand},
		{ErrInvalidCommand, StatusInvalidCommand},
		{ErrConstraintError, StatusConstraintError},
		{ErrAccessDenied, StatusUnsupportedAccess},
		{ErrNotFound, StatusNotFound},
		{ErrInvalidInState, StatusInvalidInState},
		{ErrResourceExhausted, StatusResourceExhausted},
		{ErrBusy, StatusBusy},
		{ErrTimedRequired, StatusNeedsTimedInteraction},
		{fmt.Errorf("designator: %w", ErrConstraintError), StatusConstraintError},
		{fmt.Errorf("something else"), StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := ErrorToStatus(tt.err); got != tt.want {
				t.Errorf("ErrorToStatus(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusSuccess, "Success"},
		{StatusBusy, "Busy"},
		{StatusInvalidCommand, "InvalidCommand"},
		{Status(0x42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(0x%02x).String() = %q, want %q", uint8(tt.s), got, tt.want)
		}
	}
	if !StatusSuccess.IsSuccess() || StatusBusy.IsSuccess() {
		t.Error("IsSuccess mismatch")
	}
}

func TestInvokeRequest_Peer(t *testing.T) {
	tests := []struct {
		name    string
		subject *SubjectDescriptor
		want    fabric.PeerID
		ok      bool
	}{
		{"internal", nil, fabric.PeerID{}, false},
		{"case", &SubjectDescriptor{FabricIndex: 1, NodeID: 42, AuthMode: AuthModeCASE}, fabric.NewPeerID(1, 42), true},
		{"pase", &SubjectDescriptor{FabricIndex: 0, NodeID: 0x1000, AuthMode: AuthModePASE}, fabric.NewPeerID(0, 0x1000), true},
		{"group", &SubjectDescriptor{FabricIndex: 1, NodeID: 42, AuthMode: AuthModeGroup}, fabric.PeerID{}, false},
		{"no node", &SubjectDescriptor{FabricIndex: 1, AuthMode: AuthModeCASE}, fabric.PeerID{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := InvokeRequest{Subject: tt.subject}
			got, ok := req.Peer()
			if ok != tt.ok || got != tt.want {
				t.Errorf("Peer() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestInvokeRequest_Flags(t *testing.T) {
	req := InvokeRequest{}
	if req.IsTimed() {
		t.Error("IsTimed() = true for zero flags")
	}
	if req.FabricIndex() != 0 {
		t.Errorf("FabricIndex() = %v, want 0", req.FabricIndex())
	}

	req = InvokeRequest{
		InvokeFlags: InvokeFlagTimed,
		Subject:     &SubjectDescriptor{FabricIndex: 3},
	}
	if !req.IsTimed() {
		t.Error("IsTimed() = false")
	}
	if req.FabricIndex() != 3 {
		t.Errorf("FabricIndex() = %v, want 3", req.FabricIndex())
	}
}
