package enip

import (
	"bytes"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// Revision is a major.minor firmware revision.
type Revision struct {
	Major uint8
	Minor uint8
}

func (r Revision) String() string { return fmt.Sprintf("%d.%d", r.Major, r.Minor) }

// IdentityItem is one ListIdentity reply entry.
type IdentityItem struct {
	EncapsulationVersion uint16
	Addr                 SocketAddress
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	Revision             Revision
	Status               uint16
	SerialNumber         uint32
	ProductName          string
	State                uint8
}

func (IdentityItem) TypeID() uint16 { return ItemIdentity }

func (i IdentityItem) bodyLength() int {
	return 2 + SocketAddressSize + 2 + 2 + 2 + 2 + 2 + 4 + 1 + len(i.ProductName) + 1
}

func (i IdentityItem) ByteLength() int { return 4 + i.bodyLength() }

func (i IdentityItem) Write(buf []byte, idx *int) error {
	if len(i.ProductName) > 0xFF {
		return fmt.Errorf("product name of %d bytes exceeds short string", len(i.ProductName))
	}
	return codec.Concat{
		codec.Uint16(ItemIdentity),
		codec.Uint16(i.bodyLength()),
		codec.Uint16(i.EncapsulationVersion),
		i.Addr,
		codec.Uint16(i.VendorID),
		codec.Uint16(i.DeviceType),
		codec.Uint16(i.ProductCode),
		codec.Byte(i.Revision.Major),
		codec.Byte(i.Revision.Minor),
		codec.Uint16(i.Status),
		codec.Uint32(i.SerialNumber),
		codec.Byte(len(i.ProductName)),
		codec.Bytes(i.ProductName),
		codec.Byte(i.State),
	}.Write(buf, idx)
}

func decodeIdentity(r *codec.Reader) (IdentityItem, error) {
	var id IdentityItem
	var err error
	if id.EncapsulationVersion, err = r.Uint16("encapsulation version"); err != nil {
		return id, err
	}
	if id.Addr, err = decodeSocketAddress(r); err != nil {
		return id, err
	}
	if err = r.ExpectAtLeast(15, "identity attributes"); err != nil {
		return id, err
	}
	id.VendorID, _ = r.Uint16("vendor id")
	id.DeviceType, _ = r.Uint16("device type")
	id.ProductCode, _ = r.Uint16("product code")
	id.Revision.Major, _ = r.Uint8("major revision")
	id.Revision.Minor, _ = r.Uint8("minor revision")
	id.Status, _ = r.Uint16("status")
	id.SerialNumber, _ = r.Uint32("serial number")
	n, _ := r.Uint8("product name length")
	name, err := r.Bytes(int(n), "product name")
	if err != nil {
		return id, err
	}
	id.ProductName = string(name)
	if id.State, err = r.Uint8("state"); err != nil {
		return id, err
	}
	return id, nil
}

// ServiceItem is one ListServices reply entry.
type ServiceItem struct {
	Version    uint16
	Capability uint16
	Name       string
}

// Capability flags of the communications service.
const (
	CapabilityCIPTCP      uint16 = 1 << 5
	CapabilityCIPUDPClass uint16 = 1 << 8
)

func (ServiceItem) TypeID() uint16  { return ItemListServices }
func (ServiceItem) ByteLength() int { return 4 + 20 }

func (s ServiceItem) Write(buf []byte, idx *int) error {
	var name [16]byte
	copy(name[:15], s.Name)
	return codec.Concat{
		codec.Uint16(ItemListServices),
		codec.Uint16(20),
		codec.Uint16(s.Version),
		codec.Uint16(s.Capability),
		codec.Bytes(name[:]),
	}.Write(buf, idx)
}

func decodeServiceItem(r *codec.Reader) (ServiceItem, error) {
	var s ServiceItem
	var err error
	if s.Version, err = r.Uint16("service version"); err != nil {
		return s, err
	}
	if s.Capability, err = r.Uint16("capability flags"); err != nil {
		return s, err
	}
	name, err := r.Bytes(16, "service name")
	if err != nil {
		return s, err
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	s.Name = string(name)
	return s, nil
}

// Services returns every ListServices item in the packet.
func (p CommonPacket) Services() []ServiceItem {
	var out []ServiceItem
	for _, it := range p.Items {
		if s, ok := it.(ServiceItem); ok {
			out = append(out, s)
		}
	}
	return out
}
