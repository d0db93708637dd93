package enip

import (
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/protocol"
)

// SendRRData and SendUnitData carry an interface handle (u32) and timeout (u16).
const sendDataPrefixSize = 6

// NewUnconnectedRequest builds a SendRRData frame carrying a message router
// request to the UCMM. Extra items follow the data item.
func NewUnconnectedRequest(mr codec.Byteable, extra ...Item) (Encapsulation, error) {
	body, err := codec.Encode(mr)
	if err != nil {
		return Encapsulation{}, fmt.Errorf("encode message router request: %w", err)
	}
	items := append([]Item{NullAddressItem{}, DataItem{Data: body}}, extra...)
	data, err := encodeWithPrefix(NewCommonPacket(items...))
	if err != nil {
		return Encapsulation{}, err
	}
	return Encapsulation{Command: CommandSendRRData, Data: data}, nil
}

// UnconnectedReply is a decoded SendRRData reply.
type UnconnectedReply struct {
	Packet   CommonPacket
	Response protocol.MessageRouterResponse
}

// DecodeUnconnectedReply skips the interface handle and timeout, decodes the
// common packet and parses its data item as a message router response.
func DecodeUnconnectedReply(frame Encapsulation) (UnconnectedReply, error) {
	if frame.Command != CommandSendRRData {
		return UnconnectedReply{}, fmt.Errorf("unexpected reply command 0x%04X", frame.Command)
	}
	return decodeMessagingReply(frame.Data)
}

// NewConnectedRequest builds a SendUnitData frame for connected explicit messaging.
func NewConnectedRequest(connectionID uint32, sequence uint16, mr codec.Byteable) (Encapsulation, error) {
	body, err := codec.Encode(codec.Concat{codec.Uint16(sequence), mr})
	if err != nil {
		return Encapsulation{}, fmt.Errorf("encode message router request: %w", err)
	}
	data, err := encodeWithPrefix(NewCommonPacket(
		ConnectedAddressItem{ConnectionID: connectionID},
		DataItem{Connected: true, Data: body},
	))
	if err != nil {
		return Encapsulation{}, err
	}
	return Encapsulation{Command: CommandSendUnitData, Data: data}, nil
}

// ConnectedReply is a decoded SendUnitData reply.
type ConnectedReply struct {
	ConnectionID uint32
	Sequence     uint16
	Response     protocol.MessageRouterResponse
}

// DecodeConnectedReply parses a SendUnitData reply.
func DecodeConnectedReply(frame Encapsulation) (ConnectedReply, error) {
	if frame.Command != CommandSendUnitData {
		return ConnectedReply{}, fmt.Errorf("unexpected reply command 0x%04X", frame.Command)
	}
	r := codec.NewReader(frame.Data)
	if err := r.Skip(sendDataPrefixSize, "send data prefix"); err != nil {
		return ConnectedReply{}, err
	}
	packet, err := DecodeCommonPacket(r.Rest())
	if err != nil {
		return ConnectedReply{}, err
	}
	var out ConnectedReply
	for _, it := range packet.Items {
		if addr, ok := it.(ConnectedAddressItem); ok {
			out.ConnectionID = addr.ConnectionID
		}
	}
	item, err := packet.DataItem()
	if err != nil {
		return ConnectedReply{}, err
	}
	dr := codec.NewReader(item.Data)
	if out.Sequence, err = dr.Uint16("sequence count"); err != nil {
		return ConnectedReply{}, err
	}
	if out.Response, err = protocol.DecodeMessageRouterResponse(dr.Rest()); err != nil {
		return ConnectedReply{}, err
	}
	return out, nil
}

// DecodeListReply decodes the common packet of a ListIdentity or ListServices reply.
func DecodeListReply(frame Encapsulation) (CommonPacket, error) {
	if err := frame.StatusErr(); err != nil {
		return CommonPacket{}, err
	}
	return DecodeCommonPacket(frame.Data)
}

func encodeWithPrefix(p CommonPacket) ([]byte, error) {
	data := make([]byte, sendDataPrefixSize+p.ByteLength())
	idx := sendDataPrefixSize
	if err := p.Write(data, &idx); err != nil {
		return nil, err
	}
	return data, nil
}

func decodeMessagingReply(data []byte) (UnconnectedReply, error) {
	r := codec.NewReader(data)
	if err := r.Skip(sendDataPrefixSize, "send data prefix"); err != nil {
		return UnconnectedReply{}, err
	}
	packet, err := DecodeCommonPacket(r.Rest())
	if err != nil {
		return UnconnectedReply{}, err
	}
	item, err := packet.DataItem()
	if err != nil {
		return UnconnectedReply{}, err
	}
	resp, err := protocol.DecodeMessageRouterResponse(item.Data)
	if err != nil {
		return UnconnectedReply{}, err
	}
	return UnconnectedReply{Packet: packet, Response: resp}, nil
}
