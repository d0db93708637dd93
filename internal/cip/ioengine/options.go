package ioengine

import (
	"context"
	"net"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/logging"
	"github.com/tonylturner/eipscan/internal/metrics"
)

// Sender transmits O->T datagrams.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Disconnect() error
}

// Receiver yields T->O datagrams. Receive returns an error on timeout.
type Receiver interface {
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Disconnect() error
}

// Recorder captures datagrams as they cross the wire.
type Recorder interface {
	Record(flow connection.Flow, payload []byte)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Context.
type Option func(*Context)

// WithCompatibilityMode produces with a send-then-sleep loop instead of the ticker.
func WithCompatibilityMode(enabled bool) Option {
	return func(c *Context) { c.compat = enabled }
}

// WithObserver attaches an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Context) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithSender sets the O->T transport.
func WithSender(s Sender) Option {
	return func(c *Context) { c.sender = s }
}

// WithReceiver sets the T->O transport.
func WithReceiver(r Receiver) Option {
	return func(c *Context) { c.receiver = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(clk Clock) Option {
	return func(c *Context) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRecorder captures every datagram sent and every datagram accepted.
func WithRecorder(r Recorder) Option {
	return func(c *Context) { c.recorder = r }
}

// WithMetrics reports sends, receives and drops.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Context) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithStateMachine shares the lifecycle owned by the caller. Without it the
// context reports StateOpen until closed.
func WithStateMachine(sm *StateMachine) Option {
	return func(c *Context) { c.state = sm }
}

// WithTToOSocketAddress passes the T->O sockaddr item from the Forward Open reply.
func WithTToOSocketAddress(addr *net.UDPAddr) Option {
	return func(c *Context) { c.tToOAddr = addr }
}

// WithReceiveTimeout bounds each receive call so a stop is noticed promptly.
func WithReceiveTimeout(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.recvTimeout = d
		}
	}
}
