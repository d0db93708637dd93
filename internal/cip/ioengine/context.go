package ioengine

// Real-time runtime of one open class 1 connection: a cyclic O->T producer
// and a T->O receive loop, both owned by a Context.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/logging"
	"github.com/tonylturner/eipscan/internal/metrics"
)

var (
	// ErrNullConnection is returned when sending on a Null O->T connection.
	ErrNullConnection = errors.New("send on a null O->T connection")
	ErrNoSender       = errors.New("no O->T sender configured")
	ErrNoReceiver     = errors.New("no T->O receiver configured")
	ErrStarted        = errors.New("I/O context already started")
	ErrClosed         = errors.New("I/O context closed")
)

const (
	defaultReceiveTimeout = 500 * time.Millisecond
	receiveBackoff        = 50 * time.Millisecond
)

// Endpoints are the addresses a context sends to and listens on.
type Endpoints struct {
	// Target receives O->T datagrams.
	Target *net.UDPAddr
	// LocalPort is where T->O datagrams arrive.
	LocalPort uint16
	// Group is the T->O multicast group, nil for unicast.
	Group net.IP
}

// ResolveEndpoints derives the endpoints for a connection opened on target.
// tToO is the T->O sockaddr item of the reply and may be nil; when present
// its port replaces the default target port.
func ResolveEndpoints(req *connection.ForwardOpenRequest, target net.IP, tToO *net.UDPAddr) Endpoints {
	port := connection.DefaultPort
	ep := Endpoints{LocalPort: req.TToO.Port}
	if tToO != nil {
		if tToO.Port != 0 {
			port = tToO.Port
		}
		if req.TToO.Type == connection.TypeMulticast && tToO.IP.IsMulticast() {
			ep.Group = tToO.IP
		}
	}
	ep.Target = &net.UDPAddr{IP: target, Port: port}
	return ep
}

// Stats are the traffic counters of a context.
type Stats struct {
	Sent          uint64
	Received      uint64
	Dropped       uint64
	Errors        uint64
	Sequence      uint32
	SequenceCount uint16
}

// Snapshot is a consistent view of a context for display.
type Snapshot struct {
	State        State
	Stats        Stats
	Input        []byte
	Output       []byte
	LastSent     time.Time
	LastReceived time.Time
	OToTID       uint32
	TToOID       uint32
	OToTAPI      time.Duration
	TToOAPI      time.Duration
}

// Context runs implicit messaging for one Forward Open.
type Context struct {
	req       *connection.ForwardOpenRequest
	resp      connection.ForwardOpenResponse
	endpoints Endpoints
	tToOAddr  *net.UDPAddr

	compat      bool
	sender      Sender
	receiver    Receiver
	logger      *logging.Logger
	clock       Clock
	recorder    Recorder
	metrics     metrics.Recorder
	state       *StateMachine
	recvTimeout time.Duration

	obsMu     sync.RWMutex
	observers []Observer

	// sendMu serializes sends and guards sendStopped.
	sendMu      sync.Mutex
	sendStopped bool
	sending     atomic.Bool

	// recvMu serializes datagram handling and guards recvStopped.
	recvMu      sync.Mutex
	recvStopped bool

	// dataMu guards buffers, timestamps and sequence numbers.
	dataMu        sync.Mutex
	output        []byte
	input         []byte
	lastSent      time.Time
	lastReceived  time.Time
	sequence      uint32
	sequenceCount uint16

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
	errs     atomic.Uint64

	runMu   sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	stopped   atomic.Bool
}

// NewContext prepares the runtime for an accepted Forward Open. Buffers are
// sized from the negotiated data sizes; nothing runs until Start.
func NewContext(req *connection.ForwardOpenRequest, resp connection.ForwardOpenResponse, target net.IP, opts ...Option) (*Context, error) {
	if req == nil || req.OToT == nil || req.TToO == nil {
		return nil, errors.New("I/O context requires a forward open request with both connections")
	}
	c := &Context{
		req:         req,
		resp:        resp,
		logger:      logging.Nop(),
		clock:       systemClock{},
		metrics:     metrics.Discard,
		recvTimeout: defaultReceiveTimeout,
		runCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	outSize, err := bufferSize(req.OToT)
	if err != nil {
		return nil, err
	}
	inSize, err := bufferSize(req.TToO)
	if err != nil {
		return nil, err
	}
	c.output = make([]byte, outSize)
	c.input = make([]byte, inSize)
	c.endpoints = ResolveEndpoints(req, target, c.tToOAddr)
	return c, nil
}

func bufferSize(conn *connection.IOConnection) (int, error) {
	if conn.Type == connection.TypeNull {
		return 0, nil
	}
	if conn.DataSize == nil {
		return 0, fmt.Errorf("%s: %w", conn.Flow, connection.ErrDataSizeUnresolved)
	}
	return int(*conn.DataSize), nil
}

// Request returns the Forward Open request this context was opened with.
func (c *Context) Request() *connection.ForwardOpenRequest { return c.req }

// Response returns the accepted Forward Open reply.
func (c *Context) Response() connection.ForwardOpenResponse { return c.resp }

// Endpoints returns the resolved send and receive addresses.
func (c *Context) Endpoints() Endpoints { return c.endpoints }

// State reports the shared lifecycle state, or Open/Closed when none is shared.
func (c *Context) State() State {
	if c.state != nil {
		return c.state.Current()
	}
	if c.closed.Load() {
		return StateClosed
	}
	return StateOpen
}

// producing reports whether Start runs the cyclic producer.
func (c *Context) producing() bool {
	return c.req.OToT.Type != connection.TypeNull &&
		c.req.Trigger == connection.TriggerCyclic &&
		c.resp.OToTAPI > 0
}

// Start launches the receive loop for a non-null T->O connection and the
// producer for a cyclic non-null O->T connection with a positive API.
func (c *Context) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.closed.Load() || c.stopped.Load() {
		return ErrClosed
	}
	if c.started {
		return ErrStarted
	}
	receive := c.req.TToO.Type != connection.TypeNull
	produce := c.producing()
	if receive && c.receiver == nil {
		return ErrNoReceiver
	}
	if produce && c.sender == nil {
		return ErrNoSender
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	c.runCtx, c.cancel, c.group, c.started = gctx, cancel, g, true

	if receive {
		g.Go(func() error { return c.receiveLoop(gctx) })
	}
	if produce {
		if c.compat {
			g.Go(func() error { return c.produceLoop(gctx) })
		} else {
			g.Go(func() error { return c.produceTimed(gctx) })
		}
	}
	c.logger.Verbose("I/O started: O->T 0x%08X every %s, T->O 0x%08X every %s, target %s",
		c.resp.OToTConnectionID, c.resp.OToTAPI, c.resp.TToOConnectionID, c.resp.TToOAPI, c.endpoints.Target)
	return nil
}

func (c *Context) runContext() context.Context {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runCtx
}

func (c *Context) notify(fn func(Observer)) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

// Send transmits the O->T buffer once. It returns false when sending has
// been stopped. Observers must not call Stop or Send from a callback.
func (c *Context) Send() (bool, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendStopped {
		return false, nil
	}
	if c.req.OToT.Type == connection.TypeNull {
		return false, ErrNullConnection
	}
	if c.sender == nil {
		return false, ErrNoSender
	}

	c.sending.Store(true)
	defer c.sending.Store(false)
	c.notify(func(o Observer) { o.OnSending(c) })

	format := c.req.OToT.RealTimeFormat
	now := c.clock.Now()
	c.dataMu.Lock()
	c.sequence++
	if format != connection.FormatHeartbeat {
		c.sequenceCount++
	}
	frame := Frame{
		ConnectionID:  c.resp.OToTConnectionID,
		Sequence:      c.sequence,
		SequenceCount: c.sequenceCount,
		Format:        format,
		Data:          append([]byte(nil), c.output...),
	}
	prev := c.lastSent
	c.lastSent = now
	c.dataMu.Unlock()

	b, err := frame.Encode()
	if err != nil {
		c.errs.Add(1)
		return true, fmt.Errorf("encode O->T datagram: %w", err)
	}
	if err := c.sender.Send(c.runContext(), b); err != nil {
		c.errs.Add(1)
		c.metrics.Record(metrics.Metric{
			Timestamp: now,
			Operation: metrics.OperationOToTSend,
			Target:    c.endpoints.Target.String(),
			Error:     err.Error(),
		})
		return true, fmt.Errorf("send O->T datagram: %w", err)
	}

	c.sent.Add(1)
	if c.recorder != nil {
		c.recorder.Record(connection.FlowOToT, b)
	}
	c.metrics.Record(metrics.Metric{
		Timestamp: now,
		Operation: metrics.OperationOToTSend,
		Target:    c.endpoints.Target.String(),
		Success:   true,
		JitterMs:  jitterMs(prev, now, c.resp.OToTAPI),
	})
	c.logger.LogHex("O->T", b)
	c.notify(func(o Observer) { o.OnSent(c) })
	return true, nil
}

// HandleDatagram accepts one T->O datagram. Short or foreign datagrams are
// counted as dropped and reported as false.
func (c *Context) HandleDatagram(b []byte) bool {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.recvStopped {
		return false
	}
	data, ok := Payload(b, c.resp.TToOConnectionID, c.req.TToO.RealTimeFormat)
	now := c.clock.Now()
	if !ok {
		c.dropped.Add(1)
		c.metrics.Record(metrics.Metric{
			Timestamp: now,
			Operation: metrics.OperationTToODrop,
			Target:    c.endpoints.Target.String(),
			Error:     "short or foreign datagram",
		})
		c.logger.Debug("T->O dropped %d byte datagram", len(b))
		return false
	}

	c.dataMu.Lock()
	copy(c.input, data)
	prev := c.lastReceived
	c.lastReceived = now
	c.dataMu.Unlock()

	c.received.Add(1)
	if c.recorder != nil {
		c.recorder.Record(connection.FlowTToO, b)
	}
	c.metrics.Record(metrics.Metric{
		Timestamp: now,
		Operation: metrics.OperationTToORecv,
		Target:    c.endpoints.Target.String(),
		Success:   true,
		JitterMs:  jitterMs(prev, now, c.resp.TToOAPI),
	})
	c.logger.LogHex("T->O", b)
	c.notify(func(o Observer) { o.OnReceived(c) })
	return true
}

func jitterMs(prev, now time.Time, api time.Duration) float64 {
	if prev.IsZero() || api <= 0 {
		return 0
	}
	return math.Abs(float64(now.Sub(prev)-api)) / float64(time.Millisecond)
}

// produceOnce sends and reports whether the loop should end.
func (c *Context) produceOnce() (bool, error) {
	ok, err := c.Send()
	if errors.Is(err, ErrNullConnection) || errors.Is(err, ErrNoSender) {
		return true, err
	}
	if err != nil {
		c.logger.Error("O->T 0x%08X: %v", c.resp.OToTConnectionID, err)
	}
	return !ok, nil
}

// produceTimed ticks at the actual packet interval. A tick that finds a
// send in flight, or the last send too recent, re-arms for the remaining wait.
func (c *Context) produceTimed(ctx context.Context) error {
	api := c.resp.OToTAPI
	if done, err := c.produceOnce(); done || err != nil {
		return err
	}
	ticker := time.NewTicker(api)
	defer ticker.Stop()
	rearmed := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if rearmed {
			ticker.Reset(api)
			rearmed = false
		}

		last := c.LastSent()
		elapsed := c.clock.Now().Sub(last)
		if !c.sending.Load() && (last.IsZero() || elapsed >= api) {
			if done, err := c.produceOnce(); done || err != nil {
				return err
			}
			continue
		}
		wait := api - elapsed
		if wait <= 0 {
			wait = time.Millisecond
		}
		ticker.Reset(wait)
		rearmed = true
	}
}

// produceLoop sends, then sleeps for the actual packet interval.
func (c *Context) produceLoop(ctx context.Context) error {
	api := c.resp.OToTAPI
	timer := time.NewTimer(api)
	defer timer.Stop()
	for {
		if done, err := c.produceOnce(); done || err != nil {
			return err
		}
		timer.Reset(api)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (c *Context) receiveStopped() bool {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recvStopped
}

func (c *Context) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		b, err := c.receiver.Receive(ctx, c.recvTimeout)
		if err != nil {
			if ctx.Err() != nil || c.receiveStopped() {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			c.errs.Add(1)
			c.logger.Error("T->O 0x%08X receive: %v", c.resp.TToOConnectionID, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}
		c.HandleDatagram(b)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SetOutput replaces the O->T data. Data longer than the negotiated size is rejected.
func (c *Context) SetOutput(b []byte) error {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if len(b) > len(c.output) {
		return fmt.Errorf("output of %d bytes exceeds O->T size %d", len(b), len(c.output))
	}
	n := copy(c.output, b)
	clear(c.output[n:])
	return nil
}

// Output returns a copy of the O->T data.
func (c *Context) Output() []byte {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return append([]byte(nil), c.output...)
}

// Input returns a copy of the latest T->O data.
func (c *Context) Input() []byte {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return append([]byte(nil), c.input...)
}

func (c *Context) LastSent() time.Time {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.lastSent
}

func (c *Context) LastReceived() time.Time {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.lastReceived
}

func (c *Context) Stats() Stats {
	c.dataMu.Lock()
	seq, count := c.sequence, c.sequenceCount
	c.dataMu.Unlock()
	return Stats{
		Sent:          c.sent.Load(),
		Received:      c.received.Load(),
		Dropped:       c.dropped.Load(),
		Errors:        c.errs.Load(),
		Sequence:      seq,
		SequenceCount: count,
	}
}

// Snapshot returns state, counters and buffers in one call.
func (c *Context) Snapshot() Snapshot {
	stats := c.Stats()
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return Snapshot{
		State:        c.State(),
		Stats:        stats,
		Input:        append([]byte(nil), c.input...),
		Output:       append([]byte(nil), c.output...),
		LastSent:     c.lastSent,
		LastReceived: c.lastReceived,
		OToTID:       c.resp.OToTConnectionID,
		TToOID:       c.resp.TToOConnectionID,
		OToTAPI:      c.resp.OToTAPI,
		TToOAPI:      c.resp.TToOAPI,
	}
}

// Stop halts both directions. Stop flags are set under the send and receive
// locks first, so an in-flight send or datagram completes and no new one
// starts; then the goroutines are cancelled, the transports closed and the
// goroutines awaited. Later calls return the first result.
func (c *Context) Stop() error {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.sendMu.Lock()
		c.sendStopped = true
		c.sendMu.Unlock()

		c.recvMu.Lock()
		c.recvStopped = true
		c.recvMu.Unlock()

		c.runMu.Lock()
		cancel, group := c.cancel, c.group
		c.runMu.Unlock()
		if cancel != nil {
			cancel()
		}

		var errs []error
		if c.sender != nil {
			if err := c.sender.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("close O->T transport: %w", err))
			}
		}
		if c.receiver != nil {
			if err := c.receiver.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("close T->O transport: %w", err))
			}
		}
		if group != nil {
			if err := group.Wait(); err != nil {
				errs = append(errs, err)
			}
		}
		c.stopErr = errors.Join(errs...)
		c.logger.Verbose("I/O stopped: O->T 0x%08X, T->O 0x%08X", c.resp.OToTConnectionID, c.resp.TToOConnectionID)
	})
	return c.stopErr
}

// Close stops the context and detaches observers. It is safe to call more than once.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Stop()
		c.obsMu.Lock()
		c.observers = nil
		c.obsMu.Unlock()
		c.closed.Store(true)
	})
	return c.closeErr
}
