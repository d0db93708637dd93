package objects

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
)

// TCPIPClassID is the TCP/IP Interface object class.
const TCPIPClassID = 0xF5

// ConfigStatus is the low nibble of the interface status attribute.
type ConfigStatus uint8

const (
	ConfigNotConfigured ConfigStatus = 0
	ConfigValid         ConfigStatus = 1
	ConfigValidManual   ConfigStatus = 2
)

// InterfaceStatus is attribute 1.
type InterfaceStatus struct {
	Config           ConfigStatus
	MulticastPending bool
}

// InterfaceCapability is attribute 2.
type InterfaceCapability struct {
	BOOTPClient           bool
	DNSClient             bool
	DHCPClient            bool
	DHCPDNSUpdate         bool
	ConfigurationSettable bool
}

// ConfigMethod selects how the interface obtains its configuration.
type ConfigMethod uint8

const (
	MethodStored ConfigMethod = 0
	MethodBOOTP  ConfigMethod = 1
	MethodDHCP   ConfigMethod = 2
)

// InterfaceControl is attribute 3.
type InterfaceControl struct {
	Method    ConfigMethod
	EnableDNS bool
}

// InterfaceConfiguration is attribute 5.
type InterfaceConfiguration struct {
	IP          net.IP
	Mask        net.IP
	Gateway     net.IP
	NameServer  net.IP
	NameServer2 net.IP
	DomainName  string
}

// TCPIPInterface is the TCP/IP Interface object, instance 1.
type TCPIPInterface struct {
	object
}

func NewTCPIPInterface(client AttributeClient) *TCPIPInterface {
	return &TCPIPInterface{object: newObject(client, TCPIPClassID)}
}

func (t *TCPIPInterface) Status(ctx context.Context) (InterfaceStatus, error) {
	v, err := t.getUint32(ctx, 1)
	if err != nil {
		return InterfaceStatus{}, err
	}
	return InterfaceStatus{Config: ConfigStatus(v & 0x0F), MulticastPending: v&0x10 != 0}, nil
}

func (t *TCPIPInterface) Capability(ctx context.Context) (InterfaceCapability, error) {
	v, err := t.getUint32(ctx, 2)
	if err != nil {
		return InterfaceCapability{}, err
	}
	return InterfaceCapability{
		BOOTPClient:           v&0x01 != 0,
		DNSClient:             v&0x02 != 0,
		DHCPClient:            v&0x04 != 0,
		DHCPDNSUpdate:         v&0x08 != 0,
		ConfigurationSettable: v&0x10 != 0,
	}, nil
}

func (t *TCPIPInterface) Control(ctx context.Context) (InterfaceControl, error) {
	v, err := t.getUint32(ctx, 3)
	if err != nil {
		return InterfaceControl{}, err
	}
	return InterfaceControl{Method: ConfigMethod(v & 0x0F), EnableDNS: v&0x10 != 0}, nil
}

func (t *TCPIPInterface) SetControl(ctx context.Context, c InterfaceControl) error {
	v := uint32(c.Method & 0x0F)
	if c.EnableDNS {
		v |= 0x10
	}
	return t.set(ctx, 3, 0, binary.LittleEndian.AppendUint32(nil, v))
}

// PhysicalLink returns the path to the link object (attribute 4).
func (t *TCPIPInterface) PhysicalLink(ctx context.Context) (path.EPath, error) {
	b, err := t.get(ctx, 4, 0)
	if err != nil {
		return path.EPath{}, err
	}
	r := codec.NewReader(b)
	words, err := r.Uint16("path size")
	if err != nil {
		return path.EPath{}, err
	}
	seg, err := r.Bytes(int(words)*2, "physical link path")
	if err != nil {
		return path.EPath{}, err
	}
	return path.Decode(seg)
}

func (t *TCPIPInterface) Configuration(ctx context.Context) (InterfaceConfiguration, error) {
	b, err := t.get(ctx, 5, 0)
	if err != nil {
		return InterfaceConfiguration{}, err
	}
	return DecodeInterfaceConfiguration(b)
}

func (t *TCPIPInterface) SetConfiguration(ctx context.Context, c InterfaceConfiguration) error {
	b, err := c.Encode()
	if err != nil {
		return err
	}
	return t.set(ctx, 5, 0, b)
}

func (t *TCPIPInterface) HostName(ctx context.Context) (string, error) {
	b, err := t.get(ctx, 6, 0)
	if err != nil {
		return "", err
	}
	return readString(codec.NewReader(b), "host name")
}

// DecodeInterfaceConfiguration parses five UDINT addresses and the domain STRING.
func DecodeInterfaceConfiguration(b []byte) (InterfaceConfiguration, error) {
	r := codec.NewReader(b)
	if err := r.ExpectAtLeast(20, "interface configuration"); err != nil {
		return InterfaceConfiguration{}, err
	}
	addrs := make([]net.IP, 5)
	for i := range addrs {
		v, _ := r.Uint32("address")
		addrs[i] = udintIP(v)
	}
	c := InterfaceConfiguration{IP: addrs[0], Mask: addrs[1], Gateway: addrs[2], NameServer: addrs[3], NameServer2: addrs[4]}
	if r.Remaining() > 0 {
		name, err := readString(r, "domain name")
		if err != nil {
			return InterfaceConfiguration{}, err
		}
		c.DomainName = name
	}
	return c, nil
}

// Encode writes the attribute in wire form.
func (c InterfaceConfiguration) Encode() ([]byte, error) {
	if len(c.DomainName) > 48 {
		return nil, fmt.Errorf("domain name of %d bytes exceeds 48", len(c.DomainName))
	}
	var out []byte
	for _, ip := range []net.IP{c.IP, c.Mask, c.Gateway, c.NameServer, c.NameServer2} {
		v, err := ipUDINT(ip)
		if err != nil {
			return nil, err
		}
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return appendString(out, c.DomainName), nil
}

// udintIP converts a UDINT address, most significant octet first, to an IP.
func udintIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

func ipUDINT(ip net.IP) (uint32, error) {
	if ip == nil {
		return 0, nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%s is not an IPv4 address", ip)
	}
	return binary.BigEndian.Uint32(v4), nil
}
