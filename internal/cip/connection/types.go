package connection

import "fmt"

// Direction is the client/server bit of the transport type byte.
type Direction uint8

const (
	DirectionClient Direction = 0
	DirectionServer Direction = 1
)

// ProductionTrigger selects when the producer sends.
type ProductionTrigger uint8

const (
	TriggerCyclic        ProductionTrigger = 0
	TriggerChangeOfState ProductionTrigger = 1
	TriggerApplication   ProductionTrigger = 2
)

func (t ProductionTrigger) String() string {
	switch t {
	case TriggerCyclic:
		return "cyclic"
	case TriggerChangeOfState:
		return "change_of_state"
	case TriggerApplication:
		return "application"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// ParseProductionTrigger accepts the names produced by String.
func ParseProductionTrigger(s string) (ProductionTrigger, error) {
	switch s {
	case "", "cyclic":
		return TriggerCyclic, nil
	case "change_of_state", "cos":
		return TriggerChangeOfState, nil
	case "application":
		return TriggerApplication, nil
	default:
		return 0, fmt.Errorf("unknown production trigger %q", s)
	}
}

// TransportClass is the CIP transport class, 0 through 3.
type TransportClass uint8

const (
	TransportClass0 TransportClass = 0
	TransportClass1 TransportClass = 1
	TransportClass2 TransportClass = 2
	TransportClass3 TransportClass = 3
)

// ConnectionType is the network connection type of one direction.
type ConnectionType uint8

const (
	TypeNull         ConnectionType = 0
	TypeMulticast    ConnectionType = 1
	TypePointToPoint ConnectionType = 2
	TypeReserved     ConnectionType = 3
)

func (t ConnectionType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeMulticast:
		return "multicast"
	case TypePointToPoint:
		return "point_to_point"
	default:
		return "reserved"
	}
}

// ParseConnectionType accepts the names produced by String.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch s {
	case "null":
		return TypeNull, nil
	case "multicast":
		return TypeMulticast, nil
	case "point_to_point", "p2p":
		return TypePointToPoint, nil
	default:
		return 0, fmt.Errorf("unknown connection type %q", s)
	}
}

// Priority is the network priority of one direction.
type Priority uint8

const (
	PriorityLow       Priority = 0
	PriorityHigh      Priority = 1
	PriorityScheduled Priority = 2
	PriorityUrgent    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityScheduled:
		return "scheduled"
	default:
		return "urgent"
	}
}

// ParsePriority accepts the names produced by String.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "", "scheduled":
		return PriorityScheduled, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// SizeType marks the connection size as fixed or a maximum.
type SizeType uint8

const (
	SizeFixed    SizeType = 0
	SizeVariable SizeType = 1
)

// RealTimeFormat selects the header placed ahead of I/O data.
type RealTimeFormat uint8

const (
	FormatModeless RealTimeFormat = iota
	FormatZeroLength
	FormatHeartbeat
	FormatHeader32Bit
)

// HeaderOffset is the number of bytes the format adds ahead of the data:
// the 16-bit sequence count, plus the 32-bit run/idle header where used.
func (f RealTimeFormat) HeaderOffset() int {
	switch f {
	case FormatHeartbeat:
		return 0
	case FormatHeader32Bit:
		return 6
	default:
		return 2
	}
}

// RunIdleHeaderSize is the size of the 32-bit header of FormatHeader32Bit.
func (f RealTimeFormat) RunIdleHeaderSize() int {
	if f == FormatHeader32Bit {
		return 4
	}
	return 0
}

func (f RealTimeFormat) String() string {
	switch f {
	case FormatModeless:
		return "modeless"
	case FormatZeroLength:
		return "zero_length"
	case FormatHeartbeat:
		return "heartbeat"
	case FormatHeader32Bit:
		return "header32"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseRealTimeFormat accepts the names produced by String.
func ParseRealTimeFormat(s string) (RealTimeFormat, error) {
	switch s {
	case "modeless":
		return FormatModeless, nil
	case "zero_length":
		return FormatZeroLength, nil
	case "heartbeat":
		return FormatHeartbeat, nil
	case "header32":
		return FormatHeader32Bit, nil
	default:
		return 0, fmt.Errorf("unknown real-time format %q", s)
	}
}

// TimeoutMultiplier scales the RPI to the inactivity timeout.
type TimeoutMultiplier uint8

const (
	MultiplierValue4 TimeoutMultiplier = iota
	MultiplierValue8
	MultiplierValue16
	MultiplierValue32
	MultiplierValue64
	MultiplierValue128
	MultiplierValue256
	MultiplierValue512
)

// Factor returns 2^(2+m).
func (m TimeoutMultiplier) Factor() int {
	return 1 << (2 + uint(m&0x07))
}
