package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/backkem/matter-bdx/pkg/fabric"
	"github.com/backkem/matter-bdx/pkg/message"
	"github.com/pion/logging"
)

// PacketHandler receives one inbound packet from a link's peer.
type PacketHandler func(peer fabric.PeerID, data []byte)

// LinkConfig configures a Link.
type LinkConfig struct {
	// Conn is the packet connection to the peer. Each Write is one frame.
	Conn net.Conn

	// Peer is the authenticated identity of the node at the other end.
	Peer fabric.PeerID

	// Handler receives inbound packets. Required.
	Handler PacketHandler

	// LoggerFactory for transport logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Link is a packet connection bound to a single peer identity.
type Link struct {
	conn    net.Conn
	peer    fabric.PeerID
	handler PacketHandler
	log     logging.LeveledLogger

	closeOnce sync.Once
	done      chan struct{}
}

// NewLink creates a link and starts its read loop.
func NewLink(config LinkConfig) (*Link, error) {
	if config.Conn == nil {
		return nil, ErrNilConn
	}
	if config.Handler == nil {
		return nil, ErrNilHandler
	}

	l := &Link{
		conn:    config.Conn,
		peer:    config.Peer,
		handler: config.Handler,
		done:    make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport")
	}

	go l.readLoop()
	return l, nil
}

// Peer returns the identity of the remote node.
func (l *Link) Peer() fabric.PeerID {
	return l.peer
}

// Send writes one frame to the peer.
func (l *Link) Send(data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if len(data) > message.MaxMessageSize {
		return message.ErrMessageTooLong
	}
	_, err := l.conn.Write(data)
	return err
}

// Close stops the read loop and closes the connection.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *Link) readLoop() {
	buf := make([]byte, message.MaxMessageSize)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			select {
			case <-l.done:
			default:
				if !errors.Is(err, net.ErrClosed) && l.log != nil {
					l.log.Debugf("link %s read ended: %v", l.peer, err)
				}
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		l.handler(l.peer, pkt)
	}
}
