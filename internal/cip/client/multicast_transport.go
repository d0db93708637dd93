package client

// T->O reception for implicit messaging. Point-to-point T->O data arrives on
// the originator port; multicast T->O data additionally needs a group join.

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// ListenerConfig configures a DatagramListener.
type ListenerConfig struct {
	// Port is the local UDP port, 2222 by default. Zero in tests picks any port
	// only when Ephemeral is set.
	Port      int
	Ephemeral bool
	// Group is the multicast group to join, nil for unicast.
	Group net.IP
	// Interface names the interface for the join, empty for the default.
	Interface string
	// Source restricts accepted datagrams to one sender address, nil for any.
	Source net.IP
}

func (c *ListenerConfig) applyDefaults() {
	if c.Port == 0 && !c.Ephemeral {
		c.Port = 2222
	}
}

// DatagramListener binds the local T->O port and yields datagrams.
type DatagramListener struct {
	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	ifi    *net.Interface
	config ListenerConfig
	connMu sync.RWMutex
}

var _ Transport = (*DatagramListener)(nil)

// NewDatagramListener creates a listener with the given config.
func NewDatagramListener(cfg ListenerConfig) *DatagramListener {
	cfg.applyDefaults()
	return &DatagramListener{config: cfg}
}

// Listen binds the port and joins the group when one is configured.
func (l *DatagramListener) Listen() error {
	return l.Connect(context.Background(), "")
}

// Connect binds the port. addr is ignored; the listener is configured up front.
func (l *DatagramListener) Connect(_ context.Context, _ string) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.config.Port})
	if err != nil {
		return fmt.Errorf("listen UDP :%d: %w", l.config.Port, err)
	}

	if l.config.Group != nil {
		p := ipv4.NewPacketConn(conn)
		var ifi *net.Interface
		if l.config.Interface != "" {
			ifi, err = net.InterfaceByName(l.config.Interface)
			if err != nil {
				_ = conn.Close()
				return fmt.Errorf("interface %q: %w", l.config.Interface, err)
			}
		}
		if err := p.JoinGroup(ifi, &net.UDPAddr{IP: l.config.Group}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("join multicast group %s: %w", l.config.Group, err)
		}
		if err := p.SetMulticastLoopback(true); err != nil {
			_ = p.LeaveGroup(ifi, &net.UDPAddr{IP: l.config.Group})
			_ = conn.Close()
			return fmt.Errorf("set multicast loopback: %w", err)
		}
		l.pconn = p
		l.ifi = ifi
	}

	l.conn = conn
	return nil
}

// Disconnect leaves the group and closes the socket.
func (l *DatagramListener) Disconnect() error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return nil
	}
	if l.pconn != nil {
		_ = l.pconn.LeaveGroup(l.ifi, &net.UDPAddr{IP: l.config.Group})
	}
	err := l.conn.Close()
	l.conn = nil
	l.pconn = nil
	return err
}

func (l *DatagramListener) current() *net.UDPConn {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Send is not supported; T->O traffic is receive-only.
func (l *DatagramListener) Send(context.Context, []byte) error {
	return fmt.Errorf("datagram listener is receive-only")
}

// Receive returns the next datagram, skipping senders other than Source.
func (l *DatagramListener) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	conn := l.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Nanosecond
		}
		b, from, err := readDatagram(ctx, conn, remaining)
		if err != nil {
			return nil, err
		}
		if l.config.Source == nil || from.IP.Equal(l.config.Source) {
			return b, nil
		}
	}
}

// IsConnected returns whether the socket is open.
func (l *DatagramListener) IsConnected() bool {
	return l.current() != nil
}

// LocalAddr returns the bound address, or nil when closed.
func (l *DatagramListener) LocalAddr() *net.UDPAddr {
	conn := l.current()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr().(*net.UDPAddr)
}
