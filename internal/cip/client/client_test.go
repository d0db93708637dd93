package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/cip/ioengine"
	"github.com/tonylturner/eipscan/internal/cip/path"
	"github.com/tonylturner/eipscan/internal/cip/protocol"
	"github.com/tonylturner/eipscan/internal/enip"
	"github.com/tonylturner/eipscan/internal/logging"
	"github.com/tonylturner/eipscan/internal/metrics"
)

const testSession = 0x00C0FFEE

// fakeDevice is a loopback EtherNet/IP target serving explicit messaging.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu            sync.Mutex
	attrs         map[string][]byte
	registrations int
	unregistered  bool
	openStatus    uint8
	openExt       []uint16
	opens         []openRecord
	closes        int
	tToOAddr      enip.SocketAddress
}

type openRecord struct {
	serial   uint16
	vendor   uint16
	origSN   uint32
	sockAddr bool
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDevice{t: t, ln: ln, attrs: make(map[string][]byte)}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *fakeDevice) port() int { return d.ln.Addr().(*net.TCPAddr).Port }

func (d *fakeDevice) setAttr(p path.EPath, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[string(p.SegmentBytes())] = value
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, enip.HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		n, _ := enip.PayloadLength(header)
		frame := append(header, make([]byte, n)...)
		if _, err := io.ReadFull(conn, frame[enip.HeaderSize:]); err != nil {
			return
		}
		req, err := enip.Decode(frame)
		if err != nil {
			return
		}
		reply := enip.Encapsulation{Command: req.Command, SessionID: req.SessionID, SenderContext: req.SenderContext}
		switch req.Command {
		case enip.CommandRegisterSession:
			d.mu.Lock()
			d.registrations++
			d.mu.Unlock()
			reply.SessionID = testSession
			reply.Data = req.Data
		case enip.CommandUnRegisterSession:
			d.mu.Lock()
			d.unregistered = true
			d.mu.Unlock()
			return
		case enip.CommandListServices:
			reply.Data = codec.MustEncode(enip.NewCommonPacket(enip.ServiceItem{
				Version:    1,
				Capability: enip.CapabilityCIPTCP | enip.CapabilityCIPUDPClass,
				Name:       "Communications",
			}))
		case enip.CommandSendRRData:
			if req.SessionID != testSession {
				reply.Status = enip.StatusInvalidSessionHandle
				break
			}
			reply.Data = d.sendRRData(req.Data)
		default:
			reply.Status = enip.StatusInvalidCommand
		}
		b, err := reply.Encode()
		if err != nil {
			return
		}
		if _, err := conn.Write(b); err != nil {
			return
		}
	}
}

func (d *fakeDevice) sendRRData(data []byte) []byte {
	packet, err := enip.DecodeCommonPacket(data[6:])
	if err != nil {
		d.t.Errorf("device: decode request: %v", err)
		return nil
	}
	item, err := packet.DataItem()
	if err != nil {
		d.t.Errorf("device: %v", err)
		return nil
	}
	b := item.Data
	service := protocol.ServiceCode(b[0])
	words := int(b[1])
	key := string(b[2 : 2+2*words])
	body := b[2+2*words:]

	resp := protocol.MessageRouterResponse{Service: service | protocol.ReplyBit}
	var extra []enip.Item

	d.mu.Lock()
	switch service {
	case protocol.GetAttributeSingle, protocol.GetAttributesAll:
		value, ok := d.attrs[key]
		if !ok {
			resp.Status = 0x05
			break
		}
		resp.Data = value
	case protocol.SetAttributeSingle:
		d.attrs[key] = append([]byte(nil), body...)
	case protocol.ForwardOpen, protocol.LargeForwardOpen:
		if d.openStatus != 0 {
			resp.Status = d.openStatus
			resp.ExtStatuses = d.openExt
			break
		}
		r := codec.NewReader(body)
		_ = r.Skip(10, "timeout and connection ids")
		serial, _ := r.Uint16("serial")
		vendor, _ := r.Uint16("vendor")
		origSN, _ := r.Uint32("originator serial")
		_, hasSockAddr := packet.SocketAddress(false)
		d.opens = append(d.opens, openRecord{serial: serial, vendor: vendor, origSN: origSN, sockAddr: hasSockAddr})
		resp.Data = connection.ForwardOpenResponse{
			OToTConnectionID:   0x11110001,
			TToOConnectionID:   0x22220002,
			ConnectionSerial:   serial,
			OriginatorVendorID: vendor,
			OriginatorSerial:   origSN,
			OToTAPI:            5 * time.Millisecond,
			TToOAPI:            5 * time.Millisecond,
		}.Encode()
		if d.tToOAddr.Family != 0 {
			extra = append(extra, enip.SocketAddressItem{TToO: true, Addr: d.tToOAddr})
		}
	case protocol.ForwardClose:
		d.closes++
	default:
		resp.Status = 0x08
	}
	d.mu.Unlock()

	items := append([]enip.Item{enip.NullAddressItem{}, enip.DataItem{Data: resp.Encode()}}, extra...)
	return append(make([]byte, 6), codec.MustEncode(enip.NewCommonPacket(items...))...)
}

func (d *fakeDevice) snapshot() (registrations, closes int, unregistered bool, opens []openRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registrations, d.closes, d.unregistered, append([]openRecord(nil), d.opens...)
}

type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *captureSender) Send(_ context.Context, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), b...))
	return nil
}

func (s *captureSender) Disconnect() error { return nil }

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type idleReceiver struct {
	once sync.Once
	done chan struct{}
}

func newIdleReceiver() *idleReceiver { return &idleReceiver{done: make(chan struct{})} }

func (r *idleReceiver) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case <-r.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, os.ErrDeadlineExceeded
	}
}

func (r *idleReceiver) Disconnect() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

// fakeIO hands out in-memory transports and remembers the endpoints.
type fakeIO struct {
	mu       sync.Mutex
	sender   *captureSender
	endpoint ioengine.Endpoints
}

func (f *fakeIO) factory(req *connection.ForwardOpenRequest, ep ioengine.Endpoints) (ioengine.Sender, ioengine.Receiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = &captureSender{}
	f.endpoint = ep
	return f.sender, newIdleReceiver(), nil
}

func newTestClient(d *fakeDevice, opts ...Option) *Client {
	base := []Option{WithPort(d.port()), WithTimeout(2 * time.Second)}
	return NewClient("127.0.0.1", append(base, opts...)...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegisterSessionIdempotent(t *testing.T) {
	d := newFakeDevice(t)
	c := newTestClient(d)
	ctx := testContext(t)

	first, err := c.RegisterSession(ctx)
	if err != nil {
		t.Fatalf("RegisterSession() error = %v", err)
	}
	second, err := c.RegisterSession(ctx)
	if err != nil {
		t.Fatalf("second RegisterSession() error = %v", err)
	}
	if first != testSession || second != testSession {
		t.Errorf("handles = %#x, %#x, want %#x", first, second, testSession)
	}
	if regs, _, _, _ := d.snapshot(); regs != 1 {
		t.Errorf("device saw %d registrations, want 1", regs)
	}

	c.UnRegisterSession(ctx)
	if c.SessionHandle() != 0 {
		t.Errorf("SessionHandle() after unregister = %#x, want 0", c.SessionHandle())
	}
	waitUntil(t, func() bool { _, _, u, _ := d.snapshot(); return u })
}

func TestRegisterSessionWithoutTarget(t *testing.T) {
	c := NewClient("")
	if _, err := c.RegisterSession(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Errorf("RegisterSession() error = %v, want ErrNoTarget", err)
	}
}

func TestAttributeServices(t *testing.T) {
	d := newFakeDevice(t)
	sink := metrics.NewSink()
	c := newTestClient(d, WithMetrics(sink))
	ctx := testContext(t)

	name := path.ToObject(0x01, 1, 7)
	d.setAttr(name, []byte("\x07Adapter"))

	got, err := c.GetAttributeSingle(ctx, name)
	if err != nil {
		t.Fatalf("GetAttributeSingle() error = %v", err)
	}
	if string(got) != "\x07Adapter" {
		t.Errorf("GetAttributeSingle() = %q", got)
	}
	if c.SessionHandle() != testSession {
		t.Errorf("session was not registered lazily")
	}

	out := path.ToObject(0x04, 150, 3)
	if err := c.SetAttributeSingle(ctx, out, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetAttributeSingle() error = %v", err)
	}
	if got, _ := c.GetAttributeSingle(ctx, out); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("read back = % X, want 01 02 03", got)
	}

	d.setAttr(path.ToObject(0x01, 1), []byte{0xAA, 0xBB})
	if all, err := c.GetAttributesAll(ctx, path.ToObject(0x01, 1)); err != nil || len(all) != 2 {
		t.Errorf("GetAttributesAll() = % X, %v", all, err)
	}

	_, err = c.GetAttributeSingle(ctx, path.ToObject(0x64, 1, 1))
	var status *protocol.StatusError
	if !errors.As(err, &status) {
		t.Fatalf("missing attribute error = %v, want *protocol.StatusError", err)
	}
	if status.Status != 0x05 {
		t.Errorf("status = %#x, want 0x05", status.Status)
	}

	summary := sink.GetSummary()
	if summary.FailedOps != 1 {
		t.Errorf("failed metrics = %d, want 1", summary.FailedOps)
	}
	if stats := summary.ByOperation[metrics.OperationGetAttribute]; stats == nil || stats.Count != 3 {
		t.Errorf("get attribute metrics = %+v, want 3", stats)
	}
}

func TestCallReportsEncapsulationStatus(t *testing.T) {
	d := newFakeDevice(t)
	c := newTestClient(d)
	ctx := testContext(t)
	if _, err := c.RegisterSession(ctx); err != nil {
		t.Fatalf("RegisterSession() error = %v", err)
	}

	_, err := c.Call(ctx, enip.Encapsulation{Command: 0x0001})
	var status *enip.StatusError
	if !errors.As(err, &status) {
		t.Fatalf("Call() error = %v, want *enip.StatusError", err)
	}
	if status.Status != enip.StatusInvalidCommand {
		t.Errorf("status = %#x, want %#x", status.Status, enip.StatusInvalidCommand)
	}
}

func TestDataSize(t *testing.T) {
	c := NewClient("")
	n, err := c.DataSize(context.Background(), path.New())
	if err != nil || n != 0 {
		t.Errorf("DataSize(empty) = %d, %v, want 0, nil", n, err)
	}

	d := newFakeDevice(t)
	c = newTestClient(d)
	p := path.ToObject(0x04, 100, 3)
	d.setAttr(p, make([]byte, 12))
	if n, err := c.DataSize(testContext(t), p); err != nil || n != 12 {
		t.Errorf("DataSize() = %d, %v, want 12, nil", n, err)
	}
}

func newOpenRequest(c *Client) *connection.ForwardOpenRequest {
	return connection.NewForwardOpenRequest(
		connection.NewOToT(path.ToObject(0x04, 150)),
		connection.NewTToO(path.ToObject(0x04, 100)),
		c.Originator(),
	)
}

func TestForwardOpenAndClose(t *testing.T) {
	d := newFakeDevice(t)
	d.setAttr(path.ToObject(0x04, 150), make([]byte, 8))
	d.setAttr(path.ToObject(0x04, 100), make([]byte, 16))
	d.mu.Lock()
	d.tToOAddr = enip.NewSocketAddress(net.IPv4(239, 192, 1, 32), 2222)
	d.mu.Unlock()

	fio := &fakeIO{}
	c := newTestClient(d, WithIOFactory(fio.factory), WithVendorID(0x1234), WithSerialNumber(0xCAFE))
	ctx := testContext(t)

	req := newOpenRequest(c)
	ioctx, err := c.ForwardOpen(ctx, req)
	if err != nil {
		t.Fatalf("ForwardOpen() error = %v", err)
	}
	if *req.OToT.DataSize != 8 || *req.TToO.DataSize != 16 {
		t.Errorf("probed sizes = %d, %d, want 8, 16", *req.OToT.DataSize, *req.TToO.DataSize)
	}
	if ioctx.State() != ioengine.StateOpen {
		t.Errorf("State() = %s, want Open", ioctx.State())
	}
	if c.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", c.Connections())
	}
	if got := ioctx.Response().OToTConnectionID; got != 0x11110001 {
		t.Errorf("O->T connection id = %#x", got)
	}

	_, _, _, opens := d.snapshot()
	if len(opens) != 1 {
		t.Fatalf("device saw %d opens, want 1", len(opens))
	}
	if opens[0].vendor != 0x1234 || opens[0].origSN != 0xCAFE || opens[0].serial != req.ConnectionSerial {
		t.Errorf("open triad = %+v", opens[0])
	}
	if !opens[0].sockAddr {
		t.Errorf("Forward Open carried no O->T sockaddr item")
	}

	fio.mu.Lock()
	ep, sender := fio.endpoint, fio.sender
	fio.mu.Unlock()
	if !ep.Group.Equal(net.IPv4(239, 192, 1, 32)) {
		t.Errorf("group = %v, want 239.192.1.32", ep.Group)
	}
	if ep.Target.Port != 2222 || !ep.Target.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("target = %v, want 127.0.0.1:2222", ep.Target)
	}
	waitUntil(t, func() bool { return sender.count() >= 2 })

	if err := c.ForwardClose(ctx, ioctx); err != nil {
		t.Fatalf("ForwardClose() error = %v", err)
	}
	if ioctx.State() != ioengine.StateClosed {
		t.Errorf("State() after close = %s, want Closed", ioctx.State())
	}
	if _, closes, _, _ := d.snapshot(); closes != 1 {
		t.Errorf("device saw %d closes, want 1", closes)
	}
	if c.Connections() != 0 {
		t.Errorf("Connections() after close = %d, want 0", c.Connections())
	}
	if err := c.ForwardClose(ctx, ioctx); err != nil {
		t.Errorf("second ForwardClose() error = %v, want nil", err)
	}
	if _, closes, _, _ := d.snapshot(); closes != 1 {
		t.Errorf("device saw %d closes after a repeated close, want 1", closes)
	}
}

func TestForwardCloseForeignConnection(t *testing.T) {
	d := newFakeDevice(t)
	owner := newTestClient(d, WithIOFactory((&fakeIO{}).factory))
	other := newTestClient(d, WithIOFactory((&fakeIO{}).factory))
	ctx := testContext(t)

	req := newOpenRequest(owner)
	req.OToT.SetDataSize(2)
	req.TToO.SetDataSize(2)
	ioctx, err := owner.ForwardOpen(ctx, req)
	if err != nil {
		t.Fatalf("ForwardOpen() error = %v", err)
	}
	defer owner.Close(ctx)

	if err := other.ForwardClose(ctx, ioctx); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("ForwardClose() from another client error = %v, want ErrUnknownConnection", err)
	}
	if ioctx.State() != ioengine.StateOpen {
		t.Errorf("State() = %s, want open", ioctx.State())
	}
}

func TestForwardOpenRejected(t *testing.T) {
	d := newFakeDevice(t)
	d.mu.Lock()
	d.openStatus = 0x01
	d.openExt = []uint16{0x0100}
	d.mu.Unlock()

	var logs bytes.Buffer
	logger, err := logging.NewLoggerWithOptions(logging.LogLevelDebug, "", "text", 1)
	if err != nil {
		t.Fatal(err)
	}
	logger.SetOutput(&logs, io.Discard)

	fio := &fakeIO{}
	c := newTestClient(d, WithIOFactory(fio.factory), WithLogger(logger))
	req := newOpenRequest(c)
	req.OToT.SetDataSize(4)
	req.TToO.SetDataSize(4)

	_, err = c.ForwardOpen(testContext(t), req)
	var status *protocol.StatusError
	if !errors.As(err, &status) {
		t.Fatalf("ForwardOpen() error = %v, want *protocol.StatusError", err)
	}
	if !status.HasExtStatus(0x0100) {
		t.Errorf("ext statuses = %v, want 0x0100", status.ExtStatuses)
	}
	if c.Connections() != 0 {
		t.Errorf("Connections() = %d, want 0", c.Connections())
	}
	if fio.sender != nil {
		t.Errorf("I/O transports opened for a rejected connection")
	}
	for _, step := range []string{"closed -> opening", "opening -> closed"} {
		if !strings.Contains(logs.String(), step) {
			t.Errorf("state log missing %q:\n%s", step, logs.String())
		}
	}
}

func TestForwardOpenProbeFailure(t *testing.T) {
	d := newFakeDevice(t)
	c := newTestClient(d, WithIOFactory((&fakeIO{}).factory))

	_, err := c.ForwardOpen(testContext(t), newOpenRequest(c))
	if err == nil {
		t.Fatal("ForwardOpen() with an unreadable data path succeeded")
	}
	if _, _, _, opens := d.snapshot(); len(opens) != 0 {
		t.Errorf("device saw %d opens, want 0", len(opens))
	}
}

func TestCloseClosesConnectionsThenSession(t *testing.T) {
	d := newFakeDevice(t)
	fio := &fakeIO{}
	c := newTestClient(d, WithIOFactory(fio.factory))
	ctx := testContext(t)

	for i := 0; i < 2; i++ {
		req := newOpenRequest(c)
		req.OToT.SetDataSize(2)
		req.TToO.SetDataSize(2)
		if _, err := c.ForwardOpen(ctx, req); err != nil {
			t.Fatalf("ForwardOpen() error = %v", err)
		}
	}
	c.Close(ctx)

	if c.Connections() != 0 {
		t.Errorf("Connections() = %d, want 0", c.Connections())
	}
	if c.SessionHandle() != 0 {
		t.Errorf("SessionHandle() = %#x, want 0", c.SessionHandle())
	}
	waitUntil(t, func() bool {
		_, closes, unregistered, _ := d.snapshot()
		return closes == 2 && unregistered
	})
}

func TestListServices(t *testing.T) {
	d := newFakeDevice(t)
	c := newTestClient(d)

	services, err := c.ListServices(testContext(t))
	if err != nil {
		t.Fatalf("ListServices() error = %v", err)
	}
	if len(services) != 1 || services[0].Name != "Communications" {
		t.Fatalf("ListServices() = %+v", services)
	}
	if services[0].Capability&enip.CapabilityCIPUDPClass == 0 {
		t.Errorf("capability %#x lacks class 0/1 UDP", services[0].Capability)
	}
}

// identityResponder answers ListIdentity on a loopback UDP port.
func identityResponder(t *testing.T, items ...enip.IdentityItem) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	packet := make([]enip.Item, len(items))
	for i, it := range items {
		packet[i] = it
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := enip.Decode(buf[:n])
			if err != nil || req.Command != enip.CommandListIdentity {
				continue
			}
			reply := enip.Encapsulation{
				Command: enip.CommandListIdentity,
				Data:    codec.MustEncode(enip.NewCommonPacket(packet...)),
			}
			if b, err := reply.Encode(); err == nil {
				_, _ = conn.WriteToUDP(b, from)
			}
		}
	}()
	return conn.LocalAddr().String()
}

func TestListIdentity(t *testing.T) {
	addr := identityResponder(t,
		enip.IdentityItem{
			EncapsulationVersion: 1,
			VendorID:             1,
			DeviceType:           0x0C,
			ProductCode:          65,
			Revision:             enip.Revision{Major: 2, Minor: 3},
			SerialNumber:         0x01020304,
			ProductName:          "1756-EN2T",
			State:                3,
		},
	)
	c := NewClient("", WithDiscoveryAddress(addr))

	items, err := c.ListIdentity(testContext(t), "127.0.0.1:0", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("ListIdentity() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ListIdentity() returned %d items, want 1", len(items))
	}
	if items[0].ProductName != "1756-EN2T" || items[0].SerialNumber != 0x01020304 {
		t.Errorf("identity = %+v", items[0])
	}
	if !items[0].Addr.IP().Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("address = %v, want the responder address", items[0].Addr)
	}
}

func TestDiscover(t *testing.T) {
	addr := identityResponder(t,
		enip.IdentityItem{ProductName: "drive", VendorID: 2, Addr: enip.NewSocketAddress(net.IPv4(127, 0, 0, 1), 44818)},
	)

	c := NewClient("", WithDiscoveryAddress(addr))
	id, err := c.Discover(testContext(t), func(id enip.IdentityItem) bool { return id.VendorID == 2 })
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if id.ProductName != "drive" {
		t.Errorf("Discover() = %+v", id)
	}
	if c.Target() != "127.0.0.1" || c.Port() != 44818 {
		t.Errorf("target = %s:%d, want 127.0.0.1:44818", c.Target(), c.Port())
	}

	c = NewClient("", WithDiscoveryAddress(addr))
	if _, err := c.Discover(testContext(t), func(enip.IdentityItem) bool { return false }); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Discover() with no match error = %v, want ErrNoDevice", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
