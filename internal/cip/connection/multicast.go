package connection

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	multicastBase     = 0xEFC00100
	multicastHostMask = 0x3FF
	multicastStride   = 32
)

// MulticastAddress derives the CIP multicast group for a unicast IPv4
// address from its classful host id.
func MulticastAddress(ip net.IP) (net.IP, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("multicast derivation needs an IPv4 address, got %v", ip)
	}
	addr := binary.BigEndian.Uint32(v4)

	var netmask uint32
	switch {
	case addr <= 0x7FFFFFFF:
		netmask = 0xFF000000
	case addr <= 0xBFFFFFFF:
		netmask = 0xFFFF0000
	case addr <= 0xDFFFFFFF:
		netmask = 0xFFFFFF00
	}

	host := addr &^ netmask
	index := (host - 1) & multicastHostMask
	group := make(net.IP, 4)
	binary.BigEndian.PutUint32(group, multicastBase+index*multicastStride)
	return group, nil
}
