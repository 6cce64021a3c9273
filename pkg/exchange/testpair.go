package exchange

import (
	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/transport"
	"github.com/pion/logging"
)

// Identities used by TestManagerPair.
var (
	TestPeer0 = fabric.NewPeerID(1, 0x1000)
	TestPeer1 = fabric.NewPeerID(1, 0x2000)
)

// TestManagerPair provides two exchange managers connected through an
// in-memory pipe, for end-to-end tests of protocols built on exchanges.
//
// Side 0 runs as TestPeer0 and sees side 1 as TestPeer1, and vice versa.
//
//	pair, _ := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{})
//	defer pair.Close()
//	pair.Manager(1).RegisterProtocol(message.ProtocolBDX, handler)
//	ex, _ := pair.Manager(0).NewExchange(pair.Peer(1), message.ProtocolBDX, delegate)
type TestManagerPair struct {
	pipe     *transport.Pipe
	managers [2]*Manager
	links    [2]*transport.Link
	peers    [2]fabric.PeerID
}

// TestManagerPairConfig configures the test manager pair.
type TestManagerPairConfig struct {
	// LoggerFactory is shared by both managers. Optional.
	LoggerFactory logging.LoggerFactory

	// Pipe overrides the default auto-processing pipe. Optional.
	Pipe *transport.Pipe

	// Peers overrides the identities of both sides. Defaults to
	// TestPeer0 and TestPeer1.
	Peers [2]fabric.PeerID
}

// NewTestManagerPair creates two exchange managers connected via a virtual pipe.
func NewTestManagerPair(config TestManagerPairConfig) (*TestManagerPair, error) {
	pipe := config.Pipe
	if pipe == nil {
		pipe = transport.NewPipe()
	}

	pair := &TestManagerPair{
		pipe:  pipe,
		peers: [2]fabric.PeerID{TestPeer0, TestPeer1},
	}
	if config.Peers != ([2]fabric.PeerID{}) {
		pair.peers = config.Peers
	}

	for i := 0; i < 2; i++ {
		pair.managers[i] = NewManager(ManagerConfig{
			LocalNodeID:   pair.peers[i].NodeID,
			LoggerFactory: config.LoggerFactory,
		})
	}

	for i := 0; i < 2; i++ {
		link, err := transport.NewLink(transport.LinkConfig{
			Conn:          pipe.Conn(i),
			Peer:          pair.peers[1-i],
			Handler:       pair.managers[i].OnPacket,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			pair.Close()
			return nil, err
		}
		pair.links[i] = link
		pair.managers[i].AddSession(link)
	}

	return pair, nil
}

// Manager returns the manager for side 0 or 1.
func (p *TestManagerPair) Manager(side int) *Manager {
	return p.managers[side]
}

// Peer returns the identity of side 0 or 1 as seen by the other side.
func (p *TestManagerPair) Peer(side int) fabric.PeerID {
	return p.peers[side]
}

// Pipe returns the underlying pipe.
func (p *TestManagerPair) Pipe() *transport.Pipe {
	return p.pipe
}

// Close shuts down both managers, the pipe and the links.
func (p *TestManagerPair) Close() {
	for _, m := range p.managers {
		if m != nil {
			m.Close()
		}
	}
	p.pipe.Close()
	for _, l := range p.links {
		if l != nil {
			l.Close()
		}
	}
}
