// Package transport carries encoded Matter frames between two nodes.
//
// A Link binds one packet connection to the fabric-scoped identity of the
// node at the other end, the way an established secure session does. The
// Pipe provides an in-memory pair of packet connections built on pion's
// test.Bridge for deterministic end-to-end tests.
package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures packet loss simulation on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic packet delivery in a background goroutine.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor ticks the bridge.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory packet communication between two
// endpoints. It wraps pion's test.Bridge.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.Mutex
	condition       NetworkCondition
	rng             *rand.Rand
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = time.Millisecond
	}
	if p.autoProcess {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pipe) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// SetCondition configures network condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Conn returns the packet connection for endpoint 0 or 1.
func (p *Pipe) Conn(side int) net.Conn {
	var conn net.Conn
	if side == 0 {
		conn = p.bridge.GetConn0()
	} else {
		conn = p.bridge.GetConn1()
	}
	return &lossyConn{Conn: conn, pipe: p}
}

// Tick delivers one packet in each direction, if queued.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets and returns how many were delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close stops auto-processing and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

func (p *Pipe) shouldDrop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.condition.DropRate > 0 && p.rng.Float64() < p.condition.DropRate
}

// lossyConn applies the pipe's network condition on write.
type lossyConn struct {
	net.Conn
	pipe *Pipe
}

func (c *lossyConn) Write(b []byte) (int, error) {
	if c.pipe.shouldDrop() {
		return len(b), nil
	}
	return c.Conn.Write(b)
}
