package client

// Transport abstraction for TCP/UDP connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tonylturner/eipscan/internal/enip"
)

// ErrNotConnected is returned by a transport that has no open socket.
var ErrNotConnected = errors.New("not connected")

// Transport represents a network transport connection
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Disconnect() error
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	IsConnected() bool
}

// dialTimeout bounds a TCP connect when the context has no deadline.
const dialTimeout = 5 * time.Second

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// TCPTransport carries encapsulation frames over a TCP session.
type TCPTransport struct {
	conn   *net.TCPConn
	addr   string
	connMu sync.RWMutex
}

var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport creates a new TCP transport
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Connect establishes a TCP connection
func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("already connected")
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial TCP %s: %w", addr, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return fmt.Errorf("not a TCP connection")
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		tcpConn.Close()
		return fmt.Errorf("set keep-alive: %w", err)
	}

	t.conn = tcpConn
	t.addr = addr
	return nil
}

// Disconnect closes the TCP connection
func (t *TCPTransport) Disconnect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.addr = ""
	return err
}

func (t *TCPTransport) current() *net.TCPConn {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn
}

// Send writes one frame
func (t *TCPTransport) Send(ctx context.Context, data []byte) error {
	conn := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads exactly one frame: the 24-byte header, then the declared length.
func (t *TCPTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	header := make([]byte, enip.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	length, err := enip.PayloadLength(header)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, enip.HeaderSize+length)
	copy(frame, header)
	if _, err := io.ReadFull(conn, frame[enip.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("read data (%d bytes): %w", length, err)
	}
	return frame, nil
}

// IsConnected returns whether the transport is connected
func (t *TCPTransport) IsConnected() bool {
	return t.current() != nil
}

// RemoteIP returns the peer address of an open connection, or nil.
func (t *TCPTransport) RemoteIP() net.IP {
	conn := t.current()
	if conn == nil {
		return nil
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// UDPTransport sends datagrams to one remote address from an ephemeral port.
type UDPTransport struct {
	conn   *net.UDPConn
	addr   *net.UDPAddr
	connMu sync.RWMutex
}

var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport creates a new UDP transport
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// Connect binds an ephemeral local port and records the remote address.
func (t *UDPTransport) Connect(ctx context.Context, addr string) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("already connected")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	t.conn = conn
	t.addr = udpAddr
	return nil
}

// Disconnect closes the UDP connection
func (t *UDPTransport) Disconnect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.addr = nil
	return err
}

func (t *UDPTransport) current() (*net.UDPConn, *net.UDPAddr) {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn, t.addr
}

// Send sends data over UDP
func (t *UDPTransport) Send(ctx context.Context, data []byte) error {
	conn, addr := t.current()
	if conn == nil || addr == nil {
		return ErrNotConnected
	}
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	_, err := conn.WriteToUDP(data, addr)
	return err
}

// Receive reads one datagram from any sender.
func (t *UDPTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	conn, _ := t.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	b, _, err := readDatagram(ctx, conn, timeout)
	return b, err
}

// IsConnected returns whether the transport is connected
func (t *UDPTransport) IsConnected() bool {
	conn, _ := t.current()
	return conn != nil
}

// LocalAddr returns the bound address, or nil when disconnected.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	conn, _ := t.current()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr().(*net.UDPAddr)
}

func readDatagram(ctx context.Context, conn *net.UDPConn, timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}
	buf := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("read UDP: %w", err)
	}
	return buf[:n], from, nil
}
