package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tonylturner/eipscan/internal/enip"
	"github.com/tonylturner/eipscan/internal/metrics"
)

// DefaultDiscoveryWait is how long ListIdentity collects replies.
const DefaultDiscoveryWait = time.Second

// ErrNoDevice is returned by Discover when no reply matches.
var ErrNoDevice = errors.New("no matching device found")

// ListIdentity broadcasts a ListIdentity request from bind (host:port, empty
// for any address) and collects identity replies until wait expires or ctx
// is done. A reply whose sockaddr carries no IP takes the sender address.
func (c *Client) ListIdentity(ctx context.Context, bind string, wait time.Duration) ([]enip.IdentityItem, error) {
	if wait <= 0 {
		wait = DefaultDiscoveryWait
	}
	local := &net.UDPAddr{}
	if bind != "" {
		var err error
		if local, err = net.ResolveUDPAddr("udp4", bind); err != nil {
			return nil, fmt.Errorf("resolve bind address: %w", err)
		}
	}
	dst, err := net.ResolveUDPAddr("udp4", c.discoveryAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve discovery address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}
	defer conn.Close()

	request, err := enip.BuildListIdentity().Encode()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := conn.WriteToUDP(request, dst); err != nil {
		c.record(metrics.OperationListIdentity, dst.String(), "", start, err)
		return nil, fmt.Errorf("send list identity: %w", err)
	}
	c.logger.Verbose("list identity sent to %s from %s", dst, conn.LocalAddr())

	var found []enip.IdentityItem
	deadline := start.Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		b, from, err := readDatagram(ctx, conn, remaining)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return found, err
		}
		items, err := decodeIdentityReply(b)
		if err != nil {
			c.logger.Debug("ignoring reply from %s: %v", from, err)
			continue
		}
		for _, id := range items {
			if ip := id.Addr.IP(); ip == nil || ip.IsUnspecified() {
				id.Addr = enip.NewSocketAddress(from.IP, uint16(from.Port))
			}
			found = append(found, id)
		}
	}
	c.record(metrics.OperationListIdentity, dst.String(), "", start, nil)
	return found, nil
}

func decodeIdentityReply(b []byte) ([]enip.IdentityItem, error) {
	frame, err := enip.Decode(b)
	if err != nil {
		return nil, err
	}
	if frame.Command != enip.CommandListIdentity {
		return nil, fmt.Errorf("unexpected command 0x%04X", frame.Command)
	}
	packet, err := enip.DecodeListReply(frame)
	if err != nil {
		return nil, err
	}
	return packet.Identities(), nil
}

// Discover runs ListIdentity and adopts the first device accepted by filter
// (any device when filter is nil) as the target.
func (c *Client) Discover(ctx context.Context, filter func(enip.IdentityItem) bool) (enip.IdentityItem, error) {
	items, err := c.ListIdentity(ctx, "", DefaultDiscoveryWait)
	if err != nil {
		return enip.IdentityItem{}, err
	}
	for _, id := range items {
		if filter != nil && !filter(id) {
			continue
		}
		c.mu.Lock()
		c.target = id.Addr.IP().String()
		if id.Addr.Port != 0 {
			c.port = int(id.Addr.Port)
		}
		c.mu.Unlock()
		c.logger.Info("discovered %s (%s) at %s", id.ProductName, id.Revision, id.Addr)
		return id, nil
	}
	return enip.IdentityItem{}, ErrNoDevice
}

// ListServices asks the target which encapsulation services it supports.
// No session is required.
func (c *Client) ListServices(ctx context.Context) ([]enip.ServiceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.transport.IsConnected() {
		if c.target == "" {
			return nil, ErrNoTarget
		}
		if err := c.transport.Connect(ctx, net.JoinHostPort(c.target, strconv.Itoa(c.port))); err != nil {
			return nil, err
		}
	}
	reply, err := c.callLocked(ctx, enip.BuildListServices())
	if err != nil {
		return nil, err
	}
	packet, err := enip.DecodeListReply(reply)
	if err != nil {
		return nil, err
	}
	return packet.Services(), nil
}
