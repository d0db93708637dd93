package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/cip/ioengine"
	"github.com/tonylturner/eipscan/internal/metrics"
)

// ErrUnknownConnection is returned by ForwardClose for a context this client did not open.
var ErrUnknownConnection = errors.New("connection not opened by this client")

// defaultIOFactory sends O->T from an ephemeral port and listens for T->O on
// the originator port, joining the group for multicast.
func defaultIOFactory(req *connection.ForwardOpenRequest, ep ioengine.Endpoints) (ioengine.Sender, ioengine.Receiver, error) {
	var (
		sender   ioengine.Sender
		receiver ioengine.Receiver
	)
	if req.OToT.Type != connection.TypeNull {
		udp := NewUDPTransport()
		if err := udp.Connect(context.Background(), ep.Target.String()); err != nil {
			return nil, nil, err
		}
		sender = udp
	}
	if req.TToO.Type != connection.TypeNull {
		l := NewDatagramListener(ListenerConfig{
			Port:  int(ep.LocalPort),
			Group: ep.Group,
		})
		if err := l.Listen(); err != nil {
			if sender != nil {
				_ = sender.Disconnect()
			}
			return nil, nil, err
		}
		receiver = l
	}
	return sender, receiver, nil
}

// resolveIP returns the target as an IPv4 address.
func (c *Client) resolveIP(ctx context.Context) (net.IP, error) {
	target := c.Target()
	if target == "" {
		return nil, ErrNoTarget
	}
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no IPv4 address", target)
	}
	return addrs[0], nil
}

// ensureDataSizes probes the attribute length of every connection whose
// data size is unset.
func (c *Client) ensureDataSizes(ctx context.Context, req *connection.ForwardOpenRequest) error {
	for _, conn := range []*connection.IOConnection{req.OToT, req.TToO} {
		if conn.DataSize != nil {
			continue
		}
		n, err := c.DataSize(ctx, conn.ProbePath())
		if err != nil {
			return fmt.Errorf("probe %s data size: %w", conn.Flow, err)
		}
		conn.SetDataSize(n)
		c.logger.Verbose("%s data size resolved to %d bytes", conn.Flow, n)
	}
	return nil
}

// ForwardOpen opens the connection pair described by req and starts its I/O
// engine. Unset data sizes are probed first. The returned context is owned
// by the client until ForwardClose.
func (c *Client) ForwardOpen(ctx context.Context, req *connection.ForwardOpenRequest, opts ...ioengine.Option) (*ioengine.Context, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := c.ensureDataSizes(ctx, req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("forward open: %w", err)
	}
	target, err := c.resolveIP(ctx)
	if err != nil {
		return nil, err
	}
	sockAddr, err := req.OriginatorSocketAddress(target)
	if err != nil {
		return nil, fmt.Errorf("forward open: %w", err)
	}
	mr, err := req.MessageRouterRequest()
	if err != nil {
		return nil, fmt.Errorf("forward open: %w", err)
	}

	serial := req.ConnectionSerial
	sm := ioengine.NewStateMachine(func(from, to ioengine.State) {
		c.logger.Debug("connection 0x%04X: %s -> %s", serial, from, to)
	})
	if err := sm.Transition(ioengine.StateOpening); err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := c.Invoke(ctx, mr, sockAddr)
	var resp connection.ForwardOpenResponse
	if err == nil {
		resp, err = connection.DecodeForwardOpenResponse(reply.Response.Data)
	}
	c.record(metrics.OperationForwardOpen, target.String(), mr.Service.String(), start, err)
	if err != nil {
		_ = sm.Transition(ioengine.StateClosed)
		return nil, fmt.Errorf("forward open: %w", err)
	}

	var tToOAddr *net.UDPAddr
	if item, ok := reply.Packet.SocketAddress(true); ok {
		tToOAddr = item.Addr.UDPAddr()
	}
	ep := ioengine.ResolveEndpoints(req, target, tToOAddr)

	ioctx, err := c.startIO(req, resp, target, tToOAddr, ep, sm, opts)
	if err != nil {
		c.closeRemote(ctx, req, resp)
		settle(sm)
		return nil, err
	}
	c.connections[ioctx] = sm
	c.logger.Info("opened connection 0x%04X: O->T 0x%08X every %s, T->O 0x%08X every %s",
		serial, resp.OToTConnectionID, resp.OToTAPI, resp.TToOConnectionID, resp.TToOAPI)
	return ioctx, nil
}

func (c *Client) startIO(
	req *connection.ForwardOpenRequest,
	resp connection.ForwardOpenResponse,
	target net.IP,
	tToOAddr *net.UDPAddr,
	ep ioengine.Endpoints,
	sm *ioengine.StateMachine,
	extra []ioengine.Option,
) (*ioengine.Context, error) {
	sender, receiver, err := c.ioFactory(req, ep)
	if err != nil {
		return nil, fmt.Errorf("open I/O transports: %w", err)
	}
	opts := []ioengine.Option{
		ioengine.WithLogger(c.logger),
		ioengine.WithMetrics(c.metrics),
		ioengine.WithCompatibilityMode(c.compat),
		ioengine.WithTToOSocketAddress(tToOAddr),
		ioengine.WithStateMachine(sm),
	}
	if sender != nil {
		opts = append(opts, ioengine.WithSender(sender))
	}
	if receiver != nil {
		opts = append(opts, ioengine.WithReceiver(receiver))
	}
	if c.recorder != nil {
		opts = append(opts, ioengine.WithRecorder(c.recorder))
	}
	opts = append(opts, extra...)

	release := func() {
		if sender != nil {
			_ = sender.Disconnect()
		}
		if receiver != nil {
			_ = receiver.Disconnect()
		}
	}
	ioctx, err := ioengine.NewContext(req, resp, target, opts...)
	if err != nil {
		release()
		return nil, err
	}
	if err := sm.Transition(ioengine.StateOpen); err != nil {
		release()
		return nil, err
	}
	// The engine outlives the request context.
	if err := ioctx.Start(context.Background()); err != nil {
		_ = ioctx.Close()
		return nil, err
	}
	return ioctx, nil
}

// closeRemote sends a Forward Close and logs a failure.
func (c *Client) closeRemote(ctx context.Context, req *connection.ForwardOpenRequest, resp connection.ForwardOpenResponse) {
	connPath, err := req.ConnectionPath()
	if err != nil {
		c.logger.Verbose("forward close: %v", err)
		return
	}
	fc := connection.NewForwardCloseRequest(resp, connPath, req.Timeout)
	mr := fc.MessageRouterRequest()
	start := time.Now()
	_, err = c.Invoke(ctx, mr)
	c.record(metrics.OperationForwardClose, c.Target(), mr.Service.String(), start, err)
	if err != nil {
		c.logger.Verbose("forward close 0x%04X: %v", resp.ConnectionSerial, err)
	}
}

// ForwardClose stops the engine of ioctx and closes the connection on the
// device. The close request is best effort: the connection always ends up
// Closed and untracked.
func (c *Client) ForwardClose(ctx context.Context, ioctx *ioengine.Context) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return c.forwardCloseLocked(ctx, ioctx)
}

func (c *Client) forwardCloseLocked(ctx context.Context, ioctx *ioengine.Context) error {
	sm, ok := c.connections[ioctx]
	if !ok {
		// Already closed here or by the engine: closing again is a no-op.
		if ioctx != nil && ioctx.State() == ioengine.StateClosed {
			_ = ioctx.Close()
			return nil
		}
		return ErrUnknownConnection
	}
	delete(c.connections, ioctx)

	if sm.Current() == ioengine.StateOpen {
		_ = sm.Transition(ioengine.StateClosing)
	}
	if err := ioctx.Stop(); err != nil {
		c.logger.Verbose("stop I/O: %v", err)
	}
	c.closeRemote(ctx, ioctx.Request(), ioctx.Response())
	if err := ioctx.Close(); err != nil {
		c.logger.Verbose("close I/O: %v", err)
	}
	settle(sm)
	c.logger.Info("closed connection 0x%04X", ioctx.Request().ConnectionSerial)
	return nil
}

// ForwardCloseAll closes every connection opened by this client.
func (c *Client) ForwardCloseAll(ctx context.Context) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	for ioctx := range c.connections {
		_ = c.forwardCloseLocked(ctx, ioctx)
	}
}

// Connections returns the number of open connections.
func (c *Client) Connections() int {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return len(c.connections)
}

// Close closes every connection, then unregisters the session.
func (c *Client) Close(ctx context.Context) {
	c.ForwardCloseAll(ctx)
	c.UnRegisterSession(ctx)
}

// settle walks sm to Closed from any state.
func settle(sm *ioengine.StateMachine) {
	if sm.Current() == ioengine.StateOpen {
		_ = sm.Transition(ioengine.StateClosing)
	}
	if sm.Current() != ioengine.StateClosed {
		_ = sm.Transition(ioengine.StateClosed)
	}
}
