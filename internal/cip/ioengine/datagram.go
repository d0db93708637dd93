package ioengine

import (
	"encoding/binary"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/connection"
	"github.com/tonylturner/eipscan/internal/enip"
)

// PrefixSize is the fixed part of a class 1 datagram: item count, sequenced
// address item, data item header and the 16-bit sequence count.
const PrefixSize = 20

// connectionIDOffset locates the connection id inside the sequenced address item.
const connectionIDOffset = 6

// runIdleRun is the 32-bit header value meaning the originator is in run mode.
const runIdleRun = 0x00000001

// Frame holds the fields of one outbound datagram.
type Frame struct {
	ConnectionID  uint32
	Sequence      uint32
	SequenceCount uint16
	Format        connection.RealTimeFormat
	Data          []byte
}

// Encode lays the frame out as a two-item common packet.
func (f Frame) Encode() ([]byte, error) {
	var payload codec.Concat
	if f.Format != connection.FormatHeartbeat {
		payload = append(payload, codec.Uint16(f.SequenceCount))
	}
	if f.Format == connection.FormatHeader32Bit {
		payload = append(payload, codec.Uint32(runIdleRun))
	}
	payload = append(payload, codec.Bytes(f.Data))
	body, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}
	return codec.Encode(enip.NewCommonPacket(
		enip.SequencedAddressItem{ConnectionID: f.ConnectionID, Sequence: f.Sequence},
		enip.DataItem{Connected: true, Data: body},
	))
}

// Payload returns the application data of an inbound datagram for the
// given connection id and format. ok is false when the datagram is too
// short or belongs to another connection.
func Payload(b []byte, connID uint32, format connection.RealTimeFormat) (data []byte, ok bool) {
	if len(b) < PrefixSize {
		return nil, false
	}
	if binary.LittleEndian.Uint32(b[connectionIDOffset:]) != connID {
		return nil, false
	}
	start := PrefixSize + format.RunIdleHeaderSize()
	if start > len(b) {
		return nil, false
	}
	return b[start:], true
}

// DatagramConnectionID reads the connection id of a datagram, if it has one.
func DatagramConnectionID(b []byte) (uint32, bool) {
	if len(b) < PrefixSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[connectionIDOffset:]), true
}
