package connection

// Forward Open / Forward Close for implicit I/O connections.

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
	"github.com/tonylturner/eipscan/internal/cip/protocol"
	"github.com/tonylturner/eipscan/internal/enip"
)

const (
	// MaxDataSizeLarge bounds a Large Forward Open connection size.
	MaxDataSizeLarge = 0xFFFF
	// MaxDataSizeSmall bounds a Forward Open connection size.
	MaxDataSizeSmall = 0x1FF
)

// ConnectionManagerPath addresses the Connection Manager instance.
var ConnectionManagerPath = path.ToObject(0x06, 1)

// Originator identifies the scanner opening the connection.
type Originator struct {
	VendorID     uint16
	SerialNumber uint32
}

// DefaultOriginator is used when no vendor or serial is configured.
var DefaultOriginator = Originator{VendorID: 0xFF, SerialNumber: 0xFFFF}

// ForwardOpenRequest opens one O->T / T->O connection pair.
type ForwardOpenRequest struct {
	OToT       *IOConnection
	TToO       *IOConnection
	Originator Originator
	// ConnectionSerial is chosen per request; it is independent of the originator serial.
	ConnectionSerial uint16
	Timeout          Timeout
	Multiplier       TimeoutMultiplier
	Direction        Direction
	Trigger          ProductionTrigger
	Class            TransportClass
	Large            bool
}

// NewForwardOpenRequest returns a request with default timing: 2 s
// processing timeout, x32 multiplier, cyclic class 1 client transport.
func NewForwardOpenRequest(oToT, tToO *IOConnection, orig Originator) *ForwardOpenRequest {
	oToT.Flow = FlowOToT
	tToO.Flow = FlowTToO
	return &ForwardOpenRequest{
		OToT:             oToT,
		TToO:             tToO,
		Originator:       orig,
		ConnectionSerial: uint16(rand.UintN(0xFFFF) + 1),
		Timeout:          DefaultTimeout,
		Multiplier:       MultiplierValue32,
		Direction:        DirectionClient,
		Trigger:          TriggerCyclic,
		Class:            TransportClass1,
	}
}

// Service returns 0x5B for a large request and 0x54 otherwise.
func (r *ForwardOpenRequest) Service() protocol.ServiceCode {
	if r.Large {
		return protocol.LargeForwardOpen
	}
	return protocol.ForwardOpen
}

// MaxDataSize returns the largest connection size the request form can carry.
func (r *ForwardOpenRequest) MaxDataSize() int {
	if r.Large {
		return MaxDataSizeLarge
	}
	return MaxDataSizeSmall
}

// TransportByte packs direction, trigger and class.
func (r *ForwardOpenRequest) TransportByte() uint8 {
	return uint8(r.Direction&0x01)<<7 | uint8(r.Trigger&0x07)<<4 | uint8(r.Class&0x0F)
}

// ConnectionPath is the O->T path followed by the T->O path when they differ.
func (r *ForwardOpenRequest) ConnectionPath() (path.EPath, error) {
	o, err := r.OToT.Path()
	if err != nil {
		return path.EPath{}, err
	}
	t, err := r.TToO.Path()
	if err != nil {
		return path.EPath{}, err
	}
	if t.IsEmpty() || t.Equal(o) {
		return o, nil
	}
	return path.Concat(o, t), nil
}

// Validate checks data sizes, paths and RPIs.
func (r *ForwardOpenRequest) Validate() error {
	if r.OToT == nil || r.TToO == nil {
		return errors.New("forward open requires both connections")
	}
	var errs []error
	for _, c := range []*IOConnection{r.OToT, r.TToO} {
		if err := c.ValidateDataSize(r.MaxDataSize()); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.RPIMicros(); err != nil {
			errs = append(errs, err)
		}
	}
	p, err := r.ConnectionPath()
	if err != nil {
		errs = append(errs, err)
	} else if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connection path: %w", err))
	}
	return errors.Join(errs...)
}

// Data returns the request body in Table 3-5.16 order.
func (r *ForwardOpenRequest) Data() (codec.Byteable, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	oRPI, _ := r.OToT.RPIMicros()
	tRPI, _ := r.TToO.RPIMicros()
	oParams, _ := r.OToT.NetworkParameters(r.Large)
	tParams, _ := r.TToO.NetworkParameters(r.Large)
	connPath, _ := r.ConnectionPath()
	return codec.Concat{
		r.Timeout,
		codec.Uint32(r.OToT.ID),
		codec.Uint32(r.TToO.ID),
		codec.Uint16(r.ConnectionSerial),
		codec.Uint16(r.Originator.VendorID),
		codec.Uint32(r.Originator.SerialNumber),
		codec.Byte(r.Multiplier),
		codec.Bytes{0x00, 0x00, 0x00},
		codec.Uint32(oRPI),
		oParams,
		codec.Uint32(tRPI),
		tParams,
		codec.Byte(r.TransportByte()),
		connPath,
	}, nil
}

// MessageRouterRequest wraps the body for the Connection Manager.
func (r *ForwardOpenRequest) MessageRouterRequest() (protocol.MessageRouterRequest, error) {
	data, err := r.Data()
	if err != nil {
		return protocol.MessageRouterRequest{}, err
	}
	return protocol.MessageRouterRequest{Service: r.Service(), Path: ConnectionManagerPath, Data: data}, nil
}

// OriginatorSocketAddress builds the O->T sockaddr item sent with the
// request: the multicast group derived from target when O->T is multicast,
// otherwise 0.0.0.0, and the O->T port.
func (r *ForwardOpenRequest) OriginatorSocketAddress(target net.IP) (enip.SocketAddressItem, error) {
	var group net.IP
	if r.OToT.Type == TypeMulticast {
		var err error
		if group, err = MulticastAddress(target); err != nil {
			return enip.SocketAddressItem{}, err
		}
	}
	return enip.SocketAddressItem{Addr: enip.NewSocketAddress(group, r.OToT.Port)}, nil
}

// ForwardOpenResponse is a successful Forward Open reply (Table 3-5.17).
type ForwardOpenResponse struct {
	OToTConnectionID   uint32
	TToOConnectionID   uint32
	ConnectionSerial   uint16
	OriginatorVendorID uint16
	OriginatorSerial   uint32
	OToTAPI            time.Duration
	TToOAPI            time.Duration
	ApplicationReply   []byte
}

// forwardOpenResponseSize is the fixed part of a Forward Open reply.
const forwardOpenResponseSize = 26

// DecodeForwardOpenResponse parses the reply data of a Forward Open.
func DecodeForwardOpenResponse(b []byte) (ForwardOpenResponse, error) {
	r := codec.NewReader(b)
	if err := r.ExpectAtLeast(forwardOpenResponseSize, "forward open response"); err != nil {
		return ForwardOpenResponse{}, err
	}
	var resp ForwardOpenResponse
	resp.OToTConnectionID, _ = r.Uint32("O->T connection id")
	resp.TToOConnectionID, _ = r.Uint32("T->O connection id")
	resp.ConnectionSerial, _ = r.Uint16("connection serial")
	resp.OriginatorVendorID, _ = r.Uint16("originator vendor id")
	resp.OriginatorSerial, _ = r.Uint32("originator serial")
	oAPI, _ := r.Uint32("O->T API")
	tAPI, _ := r.Uint32("T->O API")
	resp.OToTAPI = time.Duration(oAPI) * time.Microsecond
	resp.TToOAPI = time.Duration(tAPI) * time.Microsecond
	words, _ := r.Uint8("application reply size")
	_ = r.Skip(1, "reserved")
	reply, err := r.Bytes(int(words)*2, "application reply")
	if err != nil {
		return ForwardOpenResponse{}, err
	}
	if len(reply) > 0 {
		resp.ApplicationReply = append([]byte(nil), reply...)
	}
	return resp, nil
}

// Encode writes the reply data. Used by test devices.
func (resp ForwardOpenResponse) Encode() []byte {
	reply := resp.ApplicationReply
	if len(reply)%2 != 0 {
		reply = append(append([]byte(nil), reply...), 0)
	}
	return codec.MustEncode(codec.Concat{
		codec.Uint32(resp.OToTConnectionID),
		codec.Uint32(resp.TToOConnectionID),
		codec.Uint16(resp.ConnectionSerial),
		codec.Uint16(resp.OriginatorVendorID),
		codec.Uint32(resp.OriginatorSerial),
		codec.Uint32(uint32(resp.OToTAPI / time.Microsecond)),
		codec.Uint32(uint32(resp.TToOAPI / time.Microsecond)),
		codec.Byte(len(reply) / 2),
		codec.Byte(0),
		codec.Bytes(reply),
	})
}

// ForwardCloseRequest closes a connection opened by Forward Open (Table 3-5.19).
type ForwardCloseRequest struct {
	Timeout            Timeout
	ConnectionSerial   uint16
	OriginatorVendorID uint16
	OriginatorSerial   uint32
	ConnectionPath     path.EPath
}

// NewForwardCloseRequest identifies the connection by the triad echoed in the open reply.
func NewForwardCloseRequest(resp ForwardOpenResponse, connPath path.EPath, timeout Timeout) ForwardCloseRequest {
	return ForwardCloseRequest{
		Timeout:            timeout,
		ConnectionSerial:   resp.ConnectionSerial,
		OriginatorVendorID: resp.OriginatorVendorID,
		OriginatorSerial:   resp.OriginatorSerial,
		ConnectionPath:     connPath,
	}
}

// Data returns the request body: the path size is followed by a reserved byte.
func (r ForwardCloseRequest) Data() codec.Byteable {
	return codec.Concat{
		r.Timeout,
		codec.Uint16(r.ConnectionSerial),
		codec.Uint16(r.OriginatorVendorID),
		codec.Uint32(r.OriginatorSerial),
		codec.Byte(r.ConnectionPath.Size()),
		codec.Byte(0),
		r.ConnectionPath.SegmentsOnly(),
	}
}

// MessageRouterRequest wraps the body for the Connection Manager.
func (r ForwardCloseRequest) MessageRouterRequest() protocol.MessageRouterRequest {
	return protocol.MessageRouterRequest{Service: protocol.ForwardClose, Path: ConnectionManagerPath, Data: r.Data()}
}
