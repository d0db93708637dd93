package client

// Explicit messaging session with one target device.

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/cip/ioengine"
	"github.com/tonylturner/eipscan/internal/cip/path"
	"github.com/tonylturner/eipscan/internal/cip/protocol"
	"github.com/tonylturner/eipscan/internal/enip"
	"github.com/tonylturner/eipscan/internal/logging"
	"github.com/tonylturner/eipscan/internal/metrics"
)

// DefaultTimeout bounds each request/reply exchange.
const DefaultTimeout = 5 * time.Second

// ErrNoTarget is returned when no target address is configured or discovered.
var ErrNoTarget = errors.New("no target address")

// IOFactory opens the datagram transports for a connection. Either return
// value is nil when its direction is Null.
type IOFactory func(req *connection.ForwardOpenRequest, ep ioengine.Endpoints) (ioengine.Sender, ioengine.Receiver, error)

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the TCP session transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithPort sets the session port, 44818 by default.
func WithPort(port int) Option {
	return func(c *Client) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithTimeout sets the reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithVendorID sets the originator vendor used in Forward Open.
func WithVendorID(id uint16) Option {
	return func(c *Client) { c.originator.VendorID = id }
}

// WithSerialNumber sets the originator serial used in Forward Open.
func WithSerialNumber(sn uint32) Option {
	return func(c *Client) { c.originator.SerialNumber = sn }
}

// WithCompatibilityMode selects the sleep-based producer for new connections.
func WithCompatibilityMode(enabled bool) Option {
	return func(c *Client) { c.compat = enabled }
}

// WithRecorder captures the datagrams of every connection this client opens.
func WithRecorder(r ioengine.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithIOFactory replaces the UDP transports used for implicit I/O.
func WithIOFactory(f IOFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.ioFactory = f
		}
	}
}

// WithDiscoveryAddress sets where ListIdentity is sent, the limited
// broadcast address on port 44818 by default.
func WithDiscoveryAddress(addr string) Option {
	return func(c *Client) {
		if addr != "" {
			c.discoveryAddr = addr
		}
	}
}

// Client is a registered EtherNet/IP session plus the I/O connections opened
// through it. Requests on the session are serialized.
type Client struct {
	port          int
	timeout       time.Duration
	logger        *logging.Logger
	metrics       metrics.Recorder
	originator    connection.Originator
	compat        bool
	recorder      ioengine.Recorder
	ioFactory     IOFactory
	discoveryAddr string

	// mu serializes the session: one request on the wire at a time.
	mu            sync.Mutex
	target        string
	transport     Transport
	session       uint32
	senderContext [8]byte

	ioMu        sync.Mutex
	connections map[*ioengine.Context]*ioengine.StateMachine
}

// NewClient creates a client for target, an IP address or host name. The
// target may be empty when it will be found with Discover.
func NewClient(target string, opts ...Option) *Client {
	c := &Client{
		port:          enip.DefaultPort,
		timeout:       DefaultTimeout,
		logger:        logging.Nop(),
		metrics:       metrics.Discard,
		originator:    connection.DefaultOriginator,
		ioFactory:     defaultIOFactory,
		discoveryAddr: net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(enip.DefaultPort)),
		target:        target,
		transport:     NewTCPTransport(),
		connections:   make(map[*ioengine.Context]*ioengine.StateMachine),
	}
	_, _ = rand.Read(c.senderContext[:])
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the configured target address.
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetTarget changes the target. It takes effect on the next registration.
func (c *Client) SetTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
}

// Port returns the session port.
func (c *Client) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Originator returns the vendor and serial used in Forward Open.
func (c *Client) Originator() connection.Originator { return c.originator }

// SessionHandle returns the registered session handle, 0 when unregistered.
func (c *Client) SessionHandle() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// RegisterSession opens the TCP session and registers it. It is a no-op
// while a session is registered.
func (c *Client) RegisterSession(ctx context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerLocked(ctx)
}

func (c *Client) registerLocked(ctx context.Context) (uint32, error) {
	if c.session != 0 {
		return c.session, nil
	}
	if c.target == "" {
		return 0, ErrNoTarget
	}

	start := time.Now()
	if !c.transport.IsConnected() {
		addr := net.JoinHostPort(c.target, strconv.Itoa(c.port))
		if err := c.transport.Connect(ctx, addr); err != nil {
			c.record(metrics.OperationRegister, c.target, "", start, fmt.Errorf("connect: %w", err))
			return 0, err
		}
	}
	reply, err := c.callLocked(ctx, enip.BuildRegisterSession())
	if err == nil && reply.SessionID == 0 {
		err = errors.New("register session: device returned handle 0")
	}
	c.record(metrics.OperationRegister, c.target, "", start, err)
	if err != nil {
		_ = c.transport.Disconnect()
		return 0, err
	}
	c.session = reply.SessionID
	c.logger.Verbose("registered session 0x%08X with %s", c.session, c.target)
	return c.session, nil
}

// UnRegisterSession ends the session and closes the transport. Failures are
// logged and otherwise ignored; the device sends no reply.
func (c *Client) UnRegisterSession(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == 0 {
		_ = c.transport.Disconnect()
		return
	}
	start := time.Now()
	frame := enip.BuildUnRegisterSession(c.session)
	frame.SenderContext = c.senderContext
	data, err := frame.Encode()
	if err == nil {
		err = c.transport.Send(ctx, data)
	}
	c.record(metrics.OperationUnregister, c.target, "", start, err)
	if err != nil {
		c.logger.Verbose("unregister session 0x%08X: %v", c.session, err)
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Verbose("close session transport: %v", err)
	}
	c.session = 0
}

// Call sends one encapsulation frame on the session and returns the reply.
// The session handle and sender context are stamped on the frame. A nonzero
// encapsulation status is returned as *enip.StatusError along with the reply.
func (c *Client) Call(ctx context.Context, frame enip.Encapsulation) (enip.Encapsulation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, frame)
}

func (c *Client) callLocked(ctx context.Context, frame enip.Encapsulation) (enip.Encapsulation, error) {
	frame.SessionID = c.session
	frame.SenderContext = c.senderContext

	data, err := frame.Encode()
	if err != nil {
		return enip.Encapsulation{}, fmt.Errorf("encode %#04x: %w", frame.Command, err)
	}
	c.logger.LogHex("request", data)
	if err := c.transport.Send(ctx, data); err != nil {
		return enip.Encapsulation{}, fmt.Errorf("send %#04x: %w", frame.Command, err)
	}
	raw, err := c.transport.Receive(ctx, c.timeout)
	if err != nil {
		return enip.Encapsulation{}, fmt.Errorf("receive reply to %#04x: %w", frame.Command, err)
	}
	c.logger.LogHex("reply", raw)

	reply, err := enip.Decode(raw)
	if err != nil {
		return enip.Encapsulation{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Command != frame.Command {
		return reply, fmt.Errorf("reply command %#04x does not match request %#04x", reply.Command, frame.Command)
	}
	return reply, reply.StatusErr()
}

// Invoke sends a message router request to the UCMM, registering a session
// first when needed. A non-success reply status is returned as
// *protocol.StatusError along with the decoded reply.
func (c *Client) Invoke(ctx context.Context, mr protocol.MessageRouterRequest, extra ...enip.Item) (enip.UnconnectedReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.registerLocked(ctx); err != nil {
		return enip.UnconnectedReply{}, fmt.Errorf("register session: %w", err)
	}
	frame, err := enip.NewUnconnectedRequest(mr, extra...)
	if err != nil {
		return enip.UnconnectedReply{}, err
	}
	reply, err := c.callLocked(ctx, frame)
	if err != nil {
		return enip.UnconnectedReply{}, err
	}
	out, err := enip.DecodeUnconnectedReply(reply)
	if err != nil {
		return enip.UnconnectedReply{}, err
	}
	if err := protocol.ErrorFrom(out.Response, protocol.ResolverFor(mr.Service)); err != nil {
		return out, err
	}
	return out, nil
}

// invokeRecorded wraps Invoke with a metric for op.
func (c *Client) invokeRecorded(ctx context.Context, op metrics.OperationType, mr protocol.MessageRouterRequest, extra ...enip.Item) (enip.UnconnectedReply, error) {
	start := time.Now()
	reply, err := c.Invoke(ctx, mr, extra...)
	c.record(op, c.Target(), mr.Service.String(), start, err)
	return reply, err
}

// GetAttributeSingle reads the attribute at p.
func (c *Client) GetAttributeSingle(ctx context.Context, p path.EPath) ([]byte, error) {
	reply, err := c.invokeRecorded(ctx, metrics.OperationGetAttribute, protocol.NewRequest(protocol.GetAttributeSingle, p, nil))
	if err != nil {
		return nil, err
	}
	return reply.Response.Data, nil
}

// SetAttributeSingle writes value to the attribute at p.
func (c *Client) SetAttributeSingle(ctx context.Context, p path.EPath, value []byte) error {
	_, err := c.invokeRecorded(ctx, metrics.OperationSetAttribute, protocol.NewRequest(protocol.SetAttributeSingle, p, value))
	return err
}

// GetAttributesAll reads every gettable attribute of the object at p.
func (c *Client) GetAttributesAll(ctx context.Context, p path.EPath) ([]byte, error) {
	reply, err := c.invokeRecorded(ctx, metrics.OperationGetAll, protocol.NewRequest(protocol.GetAttributesAll, p, nil))
	if err != nil {
		return nil, err
	}
	return reply.Response.Data, nil
}

// DataSize returns the length of the attribute at p, or 0 for an empty path.
func (c *Client) DataSize(ctx context.Context, p path.EPath) (uint16, error) {
	if p.IsEmpty() {
		return 0, nil
	}
	data, err := c.GetAttributeSingle(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(data) > 0xFFFF {
		return 0, fmt.Errorf("attribute length %d exceeds a connection size", len(data))
	}
	return uint16(len(data)), nil
}

func (c *Client) record(op metrics.OperationType, target, service string, start time.Time, err error) {
	m := metrics.Metric{
		Timestamp:   time.Now(),
		Operation:   op,
		Target:      target,
		ServiceCode: service,
		Success:     err == nil,
		RTTMs:       float64(time.Since(start).Microseconds()) / 1000,
	}
	var status *protocol.StatusError
	if errors.As(err, &status) {
		m.Status = status.Status
	}
	if err != nil {
		m.Error = err.Error()
	}
	c.metrics.Record(m)
	c.logger.LogOperation(string(op), target, service, m.Success, m.RTTMs, m.Status, err)
}
