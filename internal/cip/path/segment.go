package path

// EPATH segment encoding (CIP Vol 1, Appendix C-1).

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// SegmentType is the 3-bit segment type in the leading byte.
type SegmentType uint8

const (
	SegmentTypePort     SegmentType = 0b000
	SegmentTypeLogical  SegmentType = 0b001
	SegmentTypeNetwork  SegmentType = 0b010
	SegmentTypeSymbolic SegmentType = 0b011
	SegmentTypeData     SegmentType = 0b100
)

// LogicalType selects what a logical segment addresses.
type LogicalType uint8

const (
	LogicalClass           LogicalType = 0
	LogicalInstance        LogicalType = 1
	LogicalMember          LogicalType = 2
	LogicalConnectionPoint LogicalType = 3
	LogicalAttribute       LogicalType = 4
)

func (t LogicalType) String() string {
	switch t {
	case LogicalClass:
		return "class"
	case LogicalInstance:
		return "instance"
	case LogicalMember:
		return "member"
	case LogicalConnectionPoint:
		return "connection point"
	case LogicalAttribute:
		return "attribute"
	default:
		return fmt.Sprintf("logical(%d)", uint8(t))
	}
}

// Logical segment width codes.
const (
	width8  = 0
	width16 = 1
	width32 = 2
)

// Network and data segment subtypes.
const (
	networkProductionInhibitTime = 0x03
	dataSimple                   = 0x00
)

// MaxSimpleDataWords is the largest payload of a simple data segment, in 16-bit words.
const MaxSimpleDataWords = 0xFF

var (
	ErrInvalidSimpleData = errors.New("invalid simple data segment")
	ErrUnknownSegment    = errors.New("unknown segment")
	ErrNonZeroPad        = errors.New("nonzero pad byte in logical segment")
)

// Segment is one element of an EPath.
type Segment interface {
	codec.Byteable
	Type() SegmentType
}

func leadingByte(t SegmentType, format uint8) byte {
	return byte(t)<<5 | format&0x1F
}

// LogicalSegment addresses a class, instance, attribute, member or connection point.
// The data width follows the value: up to 0xFF uses one byte, up to 0xFFFF a
// pad byte and a word, anything larger a pad byte and a double word.
// An optional segment with value 0 is omitted from the wire form.
type LogicalSegment struct {
	Logical  LogicalType
	Value    uint32
	Optional bool
}

func (LogicalSegment) Type() SegmentType { return SegmentTypeLogical }

// Skipped reports whether the segment contributes no bytes.
func (s LogicalSegment) Skipped() bool { return s.Optional && s.Value == 0 }

func (s LogicalSegment) width() uint8 {
	switch {
	case s.Value <= 0xFF:
		return width8
	case s.Value <= 0xFFFF:
		return width16
	default:
		return width32
	}
}

// Format returns the low five bits of the leading byte.
func (s LogicalSegment) Format() uint8 {
	return uint8(s.Logical)<<2 | s.width()
}

func (s LogicalSegment) ByteLength() int {
	if s.Skipped() {
		return 0
	}
	switch s.width() {
	case width8:
		return 2
	case width16:
		return 4
	default:
		return 6
	}
}

func (s LogicalSegment) Write(buf []byte, idx *int) error {
	n := s.ByteLength()
	if n == 0 {
		return nil
	}
	if err := codec.CheckRoom(buf, *idx, n); err != nil {
		return err
	}
	i := *idx
	buf[i] = leadingByte(SegmentTypeLogical, s.Format())
	switch s.width() {
	case width8:
		buf[i+1] = byte(s.Value)
	case width16:
		buf[i+1] = 0
		binary.LittleEndian.PutUint16(buf[i+2:], uint16(s.Value))
	default:
		buf[i+1] = 0
		binary.LittleEndian.PutUint32(buf[i+2:], s.Value)
	}
	*idx += n
	return nil
}

// ProductionInhibitTimeSegment is a network segment carrying the minimum
// interval, in milliseconds, between productions. A zero value is omitted.
type ProductionInhibitTimeSegment struct {
	Value uint8
}

func (ProductionInhibitTimeSegment) Type() SegmentType { return SegmentTypeNetwork }

func (s ProductionInhibitTimeSegment) ByteLength() int {
	if s.Value == 0 {
		return 0
	}
	return 2
}

func (s ProductionInhibitTimeSegment) Write(buf []byte, idx *int) error {
	if s.Value == 0 {
		return nil
	}
	if err := codec.CheckRoom(buf, *idx, 2); err != nil {
		return err
	}
	buf[*idx] = leadingByte(SegmentTypeNetwork, networkProductionInhibitTime)
	buf[*idx+1] = s.Value
	*idx += 2
	return nil
}

// SimpleDataSegment carries an even number of raw bytes, prefixed by the word count.
type SimpleDataSegment struct {
	data []byte
}

// NewSimpleData validates data and returns a simple data segment holding a copy of it.
func NewSimpleData(data []byte) (SimpleDataSegment, error) {
	switch {
	case len(data) == 0:
		return SimpleDataSegment{}, fmt.Errorf("%w: data cannot be empty", ErrInvalidSimpleData)
	case len(data)%2 != 0:
		return SimpleDataSegment{}, fmt.Errorf("%w: length %d is odd", ErrInvalidSimpleData, len(data))
	case len(data)/2 > MaxSimpleDataWords:
		return SimpleDataSegment{}, fmt.Errorf("%w: %d words exceeds %d", ErrInvalidSimpleData, len(data)/2, MaxSimpleDataWords)
	}
	return SimpleDataSegment{data: append([]byte(nil), data...)}, nil
}

func (SimpleDataSegment) Type() SegmentType { return SegmentTypeData }

// Data returns a copy of the segment payload.
func (s SimpleDataSegment) Data() []byte { return append([]byte(nil), s.data...) }

func (s SimpleDataSegment) ByteLength() int { return 2 + len(s.data) }

func (s SimpleDataSegment) Write(buf []byte, idx *int) error {
	n := s.ByteLength()
	if err := codec.CheckRoom(buf, *idx, n); err != nil {
		return err
	}
	buf[*idx] = leadingByte(SegmentTypeData, dataSimple)
	buf[*idx+1] = byte(len(s.data) / 2)
	copy(buf[*idx+2:], s.data)
	*idx += n
	return nil
}

var (
	_ Segment = LogicalSegment{}
	_ Segment = ProductionInhibitTimeSegment{}
	_ Segment = SimpleDataSegment{}
)
