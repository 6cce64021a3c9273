package transfer

import (
	"errors"
	"fmt"
	"sync"
)

// Subsystem names a transfer slot. Each subsystem runs at most one session.
type Subsystem int

const (
	SubsystemDiagnostics Subsystem = iota
	SubsystemOTA
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemDiagnostics:
		return "diagnostics"
	case SubsystemOTA:
		return "ota"
	default:
		return fmt.Sprintf("Subsystem(%d)", int(s))
	}
}

// ErrAlreadyRegistered is returned when a subsystem already has a driver.
var ErrAlreadyRegistered = errors.New("transfer: subsystem already registered")

// Registry owns the long-lived driver of each subsystem. Drivers are created
// once at startup and handed to cluster handlers; only their session-scoped
// state is ever reset.
type Registry struct {
	mu      sync.Mutex
	drivers map[Subsystem]*Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Subsystem]*Driver)}
}

// Register installs d as the driver for sub.
func (r *Registry) Register(sub Subsystem, d *Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[sub]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, sub)
	}
	r.drivers[sub] = d
	return nil
}

// Driver returns the driver for sub, or nil.
func (r *Registry) Driver(sub Subsystem) *Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drivers[sub]
}

// IsBusy reports whether sub has a session in flight. Like the driver's own
// IsBusy it must be called on the driver's executor.
func (r *Registry) IsBusy(sub Subsystem) bool {
	d := r.Driver(sub)
	return d != nil && d.IsBusy()
}

// Shutdown ends every session in flight with ErrShutdown. Each reset is
// posted to its driver's executor.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	drivers := make([]*Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		drivers = append(drivers, d)
	}
	r.mu.Unlock()

	for _, d := range drivers {
		d.exec.Post(func() { d.Reset(ErrShutdown) })
	}
}
