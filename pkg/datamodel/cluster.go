package datamodel

// ClusterBase provides the identity every server cluster carries.
// Embed it in a cluster implementation.
type ClusterBase struct {
	id         ClusterID
	endpointID EndpointID
	revision   uint16
	featureMap uint32
}

// NewClusterBase creates a new cluster base with the given parameters.
func NewClusterBase(id ClusterID, endpointID EndpointID, revision uint16) *ClusterBase {
	return &ClusterBase{
		id:         id,
		endpointID: endpointID,
		revision:   revision,
	}
}

// ID returns the cluster ID.
func (c *ClusterBase) ID() ClusterID {
	return c.id
}

// EndpointID returns the endpoint this cluster belongs to.
func (c *ClusterBase) EndpointID() EndpointID {
	return c.endpointID
}

// Path returns the cluster's concrete path.
func (c *ClusterBase) Path() ConcreteClusterPath {
	return ConcreteClusterPath{Endpoint: c.endpointID, Cluster: c.id}
}

// ClusterRevision returns the cluster revision.
func (c *ClusterBase) ClusterRevision() uint16 {
	return c.revision
}

// FeatureMap returns the feature map.
func (c *ClusterBase) FeatureMap() uint32 {
	return c.featureMap
}

// SetFeatureMap sets the feature map bits.
func (c *ClusterBase) SetFeatureMap(features uint32) {
	c.featureMap = features
}
