package protocol

// CIP Message Router request and response encoding.

import (
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
	"github.com/tonylturner/eipscan/internal/cip/spec"
)

// ServiceCode is a CIP service code.
type ServiceCode uint8

const (
	GetAttributesAll   ServiceCode = ServiceCode(spec.ServiceGetAttributesAll)
	GetAttributeSingle ServiceCode = ServiceCode(spec.ServiceGetAttributeSingle)
	SetAttributeSingle ServiceCode = ServiceCode(spec.ServiceSetAttributeSingle)
	ForwardClose       ServiceCode = ServiceCode(spec.ServiceForwardClose)
	ForwardOpen        ServiceCode = ServiceCode(spec.ServiceForwardOpen)
	LargeForwardOpen   ServiceCode = ServiceCode(spec.ServiceLargeForwardOpen)

	// ReplyBit is set in the service byte of a response.
	ReplyBit ServiceCode = ServiceCode(spec.ServiceReplyMask)
)

// Request returns the service code with the reply bit cleared.
func (s ServiceCode) Request() ServiceCode { return s &^ ReplyBit }

// IsReply reports whether the reply bit is set.
func (s ServiceCode) IsReply() bool { return s&ReplyBit != 0 }

func (s ServiceCode) String() string { return spec.ServiceName(uint8(s)) }

// MessageRouterRequest is service | path (with size) | data.
type MessageRouterRequest struct {
	Service ServiceCode
	Path    path.EPath
	Data    codec.Byteable
}

// NewRequest builds a request carrying raw data.
func NewRequest(service ServiceCode, p path.EPath, data []byte) MessageRouterRequest {
	return MessageRouterRequest{Service: service, Path: p, Data: codec.Bytes(data)}
}

func (r MessageRouterRequest) ByteLength() int {
	n := 1 + r.Path.ByteLength()
	if r.Data != nil {
		n += r.Data.ByteLength()
	}
	return n
}

func (r MessageRouterRequest) Write(buf []byte, idx *int) error {
	if err := r.Path.Validate(); err != nil {
		return fmt.Errorf("request path: %w", err)
	}
	return codec.Concat{codec.Byte(r.Service), r.Path, r.Data}.Write(buf, idx)
}

// Encode returns the wire form of the request.
func (r MessageRouterRequest) Encode() ([]byte, error) {
	return codec.Encode(r)
}

// MessageRouterResponse is a decoded reply from the Message Router.
type MessageRouterResponse struct {
	Service     ServiceCode
	Status      uint8
	ExtStatuses []uint16
	Data        []byte
}

// Success reports whether the general status is zero.
func (r MessageRouterResponse) Success() bool { return r.Status == spec.StatusSuccess }

// DecodeMessageRouterResponse parses service, reserved, status, the
// additional status words and the remaining reply data.
func DecodeMessageRouterResponse(b []byte) (MessageRouterResponse, error) {
	r := codec.NewReader(b)
	if err := r.ExpectAtLeast(4, "message router response header"); err != nil {
		return MessageRouterResponse{}, err
	}
	service, _ := r.Uint8("service")
	_ = r.Skip(1, "reserved")
	status, _ := r.Uint8("general status")
	count, _ := r.Uint8("additional status size")

	resp := MessageRouterResponse{Service: ServiceCode(service), Status: status}
	if err := r.ExpectAtLeast(int(count)*2, "additional status"); err != nil {
		return MessageRouterResponse{}, err
	}
	if count > 0 {
		resp.ExtStatuses = make([]uint16, count)
		for i := range resp.ExtStatuses {
			resp.ExtStatuses[i], _ = r.Uint16("additional status")
		}
	}
	if rest := r.Rest(); len(rest) > 0 {
		resp.Data = append([]byte(nil), rest...)
	}
	return resp, nil
}

// Encode writes the response in wire form. Used by test devices.
func (r MessageRouterResponse) Encode() []byte {
	out := make([]byte, 0, 4+2*len(r.ExtStatuses)+len(r.Data))
	out = append(out, byte(r.Service), 0x00, r.Status, byte(len(r.ExtStatuses)))
	for _, ext := range r.ExtStatuses {
		out = append(out, byte(ext), byte(ext>>8))
	}
	return append(out, r.Data...)
}
