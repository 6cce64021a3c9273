package clusters

import (
	"context"
	"fmt"
	"sync"

	"github.com/backkem/matter-bdx/pkg/datamodel"
	"github.com/backkem/matter-bdx/pkg/tlv"
	"github.com/pion/logging"
)

// CommandCluster is a server cluster that accepts invokes.
type CommandCluster interface {
	// Path returns the endpoint and cluster the cluster serves.
	Path() datamodel.ConcreteClusterPath

	// InvokeCommand handles one command. r is positioned before the command
	// fields and is only valid until InvokeCommand returns. The cluster
	// answers through h, now or later. A returned error with h still held
	// is answered with datamodel.ErrorToStatus(err).
	InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader, h *CommandHandle) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// LoggerFactory for dispatch logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Dispatcher routes invokes to clusters by endpoint and cluster ID.
type Dispatcher struct {
	log logging.LeveledLogger

	mu        sync.RWMutex
	clusters  map[datamodel.ConcreteClusterPath]CommandCluster
	endpoints map[datamodel.EndpointID]int
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		clusters:  make(map[datamodel.ConcreteClusterPath]CommandCluster),
		endpoints: make(map[datamodel.EndpointID]int),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("clusters")
	}
	return d
}

// Register installs a cluster at its path.
func (d *Dispatcher) Register(c CommandCluster) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := c.Path()
	if _, ok := d.clusters[path]; ok {
		return fmt.Errorf("%w: %s", datamodel.ErrClusterExists, path)
	}
	d.clusters[path] = c
	d.endpoints[path.Endpoint]++
	return nil
}

// Unregister removes the cluster at path, if any.
func (d *Dispatcher) Unregister(path datamodel.ConcreteClusterPath) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.clusters[path]; !ok {
		return
	}
	delete(d.clusters, path)
	if d.endpoints[path.Endpoint]--; d.endpoints[path.Endpoint] == 0 {
		delete(d.endpoints, path.Endpoint)
	}
}

// Lookup returns the cluster at path.
func (d *Dispatcher) Lookup(path datamodel.ConcreteClusterPath) (CommandCluster, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.endpoints[path.Endpoint]; !ok {
		return nil, datamodel.ErrEndpointNotFound
	}
	c, ok := d.clusters[path]
	if !ok {
		return nil, datamodel.ErrClusterNotFound
	}
	return c, nil
}

// Invoke routes one command to its cluster. Every outcome, including an
// unknown path or a handler error, is answered through sink exactly once;
// deferred answers arrive after Invoke returns. The returned handle lets
// the caller observe whether the answer is still outstanding.
func (d *Dispatcher) Invoke(ctx context.Context, req datamodel.InvokeRequest, payload []byte, sink ResponseSink) *CommandHandle {
	h := NewCommandHandle(req.Path, sink)

	c, err := d.Lookup(req.Path.ClusterPath())
	if err == nil {
		err = c.InvokeCommand(ctx, req, tlv.NewReader(payload), h)
	}
	if err == nil {
		return h
	}

	if d.log != nil {
		d.log.Debugf("invoke %s: %v", req.Path, err)
	}
	if h.Held() {
		h.AddStatus(req.Path, datamodel.ErrorToStatus(err))
	} else if d.log != nil {
		d.log.Warnf("invoke %s failed after answering: %v", req.Path, err)
	}
	return h
}
