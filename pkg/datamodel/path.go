package datamodel

import "fmt"

// EndpointID is a 16-bit endpoint identifier.
type EndpointID uint16

// ClusterID is a 32-bit cluster identifier.
type ClusterID uint32

// CommandID is a 32-bit command identifier.
type CommandID uint32

// ConcreteClusterPath identifies a specific cluster instance on an endpoint.
// Used for routing invokes to the correct cluster.
type ConcreteClusterPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
}

// String returns the path as "endpoint/0xcluster".
func (p ConcreteClusterPath) String() string {
	return fmt.Sprintf("%d/0x%04x", p.Endpoint, uint32(p.Cluster))
}

// ConcreteCommandPath identifies a specific command within a cluster.
// Spec: Section 8.2.1.2
type ConcreteCommandPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
	Command  CommandID
}

// ClusterPath returns the cluster path portion.
func (p ConcreteCommandPath) ClusterPath() ConcreteClusterPath {
	return ConcreteClusterPath{
		Endpoint: p.Endpoint,
		Cluster:  p.Cluster,
	}
}

// WithCommand returns the path with the command replaced, as used to
// address a response command.
func (p ConcreteCommandPath) WithCommand(id CommandID) ConcreteCommandPath {
	p.Command = id
	return p
}

// String returns the path as "endpoint/0xcluster/0xcommand".
func (p ConcreteCommandPath) String() string {
	return fmt.Sprintf("%d/0x%04x/0x%02x", p.Endpoint, uint32(p.Cluster), uint32(p.Command))
}
