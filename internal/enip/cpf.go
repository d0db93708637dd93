package enip

// Common Packet Format items.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/spec"
)

// CPF item type IDs.
const (
	ItemNullAddress      uint16 = 0x0000
	ItemIdentity         uint16 = 0x000C
	ItemConnectedAddress uint16 = 0x00A1
	ItemConnectedData    uint16 = 0x00B1
	ItemUnconnectedData  uint16 = 0x00B2
	ItemListServices     uint16 = 0x0100
	ItemSockAddrOToT     uint16 = 0x8000
	ItemSockAddrTToO     uint16 = 0x8001
	ItemSequencedAddress uint16 = 0x8002
)

var (
	// ErrUnknownItem is returned for an item type this package cannot decode.
	ErrUnknownItem = errors.New("unknown CPF item type")
	// ErrItemNotFound is returned when a required item is absent.
	ErrItemNotFound = errors.New("CPF item not found")
)

// Item is one typed entry of a common packet.
type Item interface {
	codec.Byteable
	TypeID() uint16
}

// NullAddressItem addresses the unconnected message manager.
type NullAddressItem struct{}

func (NullAddressItem) TypeID() uint16                   { return ItemNullAddress }
func (NullAddressItem) ByteLength() int                  { return 4 }
func (NullAddressItem) Write(buf []byte, idx *int) error { return writeItemHeader(buf, idx, ItemNullAddress, 0) }

// ConnectedAddressItem carries a connection identifier.
type ConnectedAddressItem struct {
	ConnectionID uint32
}

func (ConnectedAddressItem) TypeID() uint16  { return ItemConnectedAddress }
func (ConnectedAddressItem) ByteLength() int { return 8 }
func (i ConnectedAddressItem) Write(buf []byte, idx *int) error {
	if err := writeItemHeader(buf, idx, ItemConnectedAddress, 4); err != nil {
		return err
	}
	return codec.Uint32(i.ConnectionID).Write(buf, idx)
}

// SequencedAddressItem carries a connection identifier and sequence number.
type SequencedAddressItem struct {
	ConnectionID uint32
	Sequence     uint32
}

func (SequencedAddressItem) TypeID() uint16  { return ItemSequencedAddress }
func (SequencedAddressItem) ByteLength() int { return 12 }
func (i SequencedAddressItem) Write(buf []byte, idx *int) error {
	if err := writeItemHeader(buf, idx, ItemSequencedAddress, 8); err != nil {
		return err
	}
	return codec.Concat{codec.Uint32(i.ConnectionID), codec.Uint32(i.Sequence)}.Write(buf, idx)
}

// DataItem is a connected (0xB1) or unconnected (0xB2) data item.
type DataItem struct {
	Connected bool
	Data      []byte
}

func (i DataItem) TypeID() uint16 {
	if i.Connected {
		return ItemConnectedData
	}
	return ItemUnconnectedData
}

func (i DataItem) ByteLength() int { return 4 + len(i.Data) }

func (i DataItem) Write(buf []byte, idx *int) error {
	if len(i.Data) > 0xFFFF {
		return fmt.Errorf("data item of %d bytes exceeds item length field", len(i.Data))
	}
	if err := writeItemHeader(buf, idx, i.TypeID(), uint16(len(i.Data))); err != nil {
		return err
	}
	return codec.Bytes(i.Data).Write(buf, idx)
}

// SocketAddressItem carries a sockaddr for the O->T or T->O direction.
type SocketAddressItem struct {
	TToO bool
	Addr SocketAddress
}

func (i SocketAddressItem) TypeID() uint16 {
	if i.TToO {
		return ItemSockAddrTToO
	}
	return ItemSockAddrOToT
}

func (SocketAddressItem) ByteLength() int { return 4 + SocketAddressSize }

func (i SocketAddressItem) Write(buf []byte, idx *int) error {
	if err := writeItemHeader(buf, idx, i.TypeID(), SocketAddressSize); err != nil {
		return err
	}
	return i.Addr.Write(buf, idx)
}

func writeItemHeader(buf []byte, idx *int, typeID, length uint16) error {
	return codec.Concat{codec.Uint16(typeID), codec.Uint16(length)}.Write(buf, idx)
}

// SocketAddressSize is the wire size of a sockaddr_in.
const SocketAddressSize = 16

// SocketAddress is a sockaddr_in in network byte order.
type SocketAddress struct {
	Family uint16
	Port   uint16
	Addr   uint32
}

// NewSocketAddress builds an AF_INET sockaddr. A nil ip encodes as 0.0.0.0.
func NewSocketAddress(ip net.IP, port uint16) SocketAddress {
	sa := SocketAddress{Family: 2, Port: port}
	if v4 := ip.To4(); v4 != nil {
		sa.Addr = binary.BigEndian.Uint32(v4)
	}
	return sa
}

// IP returns the address as a net.IP.
func (s SocketAddress) IP() net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, s.Addr)
	return ip
}

// UDPAddr converts the sockaddr for use with net.
func (s SocketAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.IP(), Port: int(s.Port)}
}

func (SocketAddress) ByteLength() int { return SocketAddressSize }

func (s SocketAddress) Write(buf []byte, idx *int) error {
	if err := codec.CheckRoom(buf, *idx, SocketAddressSize); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf[*idx:], s.Family)
	binary.BigEndian.PutUint16(buf[*idx+2:], s.Port)
	binary.BigEndian.PutUint32(buf[*idx+4:], s.Addr)
	clear(buf[*idx+8 : *idx+SocketAddressSize])
	*idx += SocketAddressSize
	return nil
}

func (s SocketAddress) String() string { return s.UDPAddr().String() }

func decodeSocketAddress(r *codec.Reader) (SocketAddress, error) {
	var sa SocketAddress
	var err error
	if sa.Family, err = r.Uint16BE("sockaddr family"); err != nil {
		return sa, err
	}
	if sa.Port, err = r.Uint16BE("sockaddr port"); err != nil {
		return sa, err
	}
	if sa.Addr, err = r.Uint32BE("sockaddr address"); err != nil {
		return sa, err
	}
	return sa, r.Skip(8, "sockaddr zero")
}

// CommonPacket is an item count followed by items.
type CommonPacket struct {
	Items []Item
}

// NewCommonPacket returns a packet holding items in order.
func NewCommonPacket(items ...Item) CommonPacket {
	return CommonPacket{Items: items}
}

func (p CommonPacket) ByteLength() int {
	n := 2
	for _, it := range p.Items {
		n += it.ByteLength()
	}
	return n
}

func (p CommonPacket) Write(buf []byte, idx *int) error {
	if err := codec.CheckRoom(buf, *idx, p.ByteLength()); err != nil {
		return err
	}
	if err := codec.Uint16(len(p.Items)).Write(buf, idx); err != nil {
		return err
	}
	for _, it := range p.Items {
		if err := it.Write(buf, idx); err != nil {
			return fmt.Errorf("%s: %w", spec.ItemTypeName(it.TypeID()), err)
		}
	}
	return nil
}

// DataItem returns the first data item of either kind.
func (p CommonPacket) DataItem() (DataItem, error) {
	for _, it := range p.Items {
		if d, ok := it.(DataItem); ok {
			return d, nil
		}
	}
	return DataItem{}, fmt.Errorf("%w: data item", ErrItemNotFound)
}

// SocketAddress returns the sockaddr item for the given direction.
func (p CommonPacket) SocketAddress(tToO bool) (SocketAddressItem, bool) {
	for _, it := range p.Items {
		if sa, ok := it.(SocketAddressItem); ok && sa.TToO == tToO {
			return sa, true
		}
	}
	return SocketAddressItem{}, false
}

// Identities returns every identity item in the packet.
func (p CommonPacket) Identities() []IdentityItem {
	var out []IdentityItem
	for _, it := range p.Items {
		if id, ok := it.(IdentityItem); ok {
			out = append(out, id)
		}
	}
	return out
}

// DecodeCommonPacket reads exactly the declared number of items.
func DecodeCommonPacket(b []byte) (CommonPacket, error) {
	r := codec.NewReader(b)
	count, err := r.Uint16("item count")
	if err != nil {
		return CommonPacket{}, err
	}
	p := CommonPacket{Items: make([]Item, 0, count)}
	for i := 0; i < int(count); i++ {
		it, err := decodeItem(r)
		if err != nil {
			return CommonPacket{}, fmt.Errorf("item %d: %w", i, err)
		}
		p.Items = append(p.Items, it)
	}
	return p, nil
}

func decodeItem(r *codec.Reader) (Item, error) {
	typeID, err := r.Uint16("item type")
	if err != nil {
		return nil, err
	}
	length, err := r.Uint16("item length")
	if err != nil {
		return nil, err
	}
	body, err := r.Bytes(int(length), spec.ItemTypeName(typeID))
	if err != nil {
		return nil, err
	}
	br := codec.NewReader(body)

	switch typeID {
	case ItemNullAddress:
		return NullAddressItem{}, nil
	case ItemConnectedAddress:
		id, err := br.Uint32("connection id")
		if err != nil {
			return nil, err
		}
		return ConnectedAddressItem{ConnectionID: id}, nil
	case ItemSequencedAddress:
		id, err := br.Uint32("connection id")
		if err != nil {
			return nil, err
		}
		seq, err := br.Uint32("sequence number")
		if err != nil {
			return nil, err
		}
		return SequencedAddressItem{ConnectionID: id, Sequence: seq}, nil
	case ItemConnectedData, ItemUnconnectedData:
		return DataItem{Connected: typeID == ItemConnectedData, Data: append([]byte(nil), body...)}, nil
	case ItemSockAddrOToT, ItemSockAddrTToO:
		sa, err := decodeSocketAddress(br)
		if err != nil {
			return nil, err
		}
		return SocketAddressItem{TToO: typeID == ItemSockAddrTToO, Addr: sa}, nil
	case ItemIdentity:
		return decodeIdentity(br)
	case ItemListServices:
		return decodeServiceItem(br)
	default:
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownItem, typeID)
	}
}
