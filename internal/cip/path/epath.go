package path

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// ErrSegmentNotFound is returned when a required logical segment is absent.
var ErrSegmentNotFound = errors.New("segment not found")

// ErrPathTooLong is returned when a path does not fit the one-byte word count.
var ErrPathTooLong = errors.New("path too long")

// EPath is an ordered, immutable list of segments.
// Every transform returns a new EPath and leaves the receiver untouched.
type EPath struct {
	segments []Segment
}

// New builds a path from an explicit segment list.
func New(segments ...Segment) EPath {
	return EPath{segments: append([]Segment(nil), segments...)}
}

// ToObject addresses an object by class and, optionally, instance, attribute
// and member in that order. Omitted or zero optional ids are not encoded.
func ToObject(classID uint32, ids ...uint32) EPath {
	var instance, attribute, member uint32
	if len(ids) > 0 {
		instance = ids[0]
	}
	if len(ids) > 1 {
		attribute = ids[1]
	}
	if len(ids) > 2 {
		member = ids[2]
	}
	return New(
		LogicalSegment{Logical: LogicalClass, Value: classID},
		LogicalSegment{Logical: LogicalInstance, Value: instance, Optional: true},
		LogicalSegment{Logical: LogicalAttribute, Value: attribute, Optional: true},
		LogicalSegment{Logical: LogicalMember, Value: member, Optional: true},
	)
}

// ToConnectionPoint addresses a connection point of a class.
func ToConnectionPoint(classID, point, member uint32) EPath {
	return New(
		LogicalSegment{Logical: LogicalClass, Value: classID},
		LogicalSegment{Logical: LogicalConnectionPoint, Value: point},
		LogicalSegment{Logical: LogicalMember, Value: member, Optional: true},
	)
}

// ToConnectionPointOfInstance addresses a connection point of a specific instance.
func ToConnectionPointOfInstance(classID, instance, point, member uint32) EPath {
	return New(
		LogicalSegment{Logical: LogicalClass, Value: classID},
		LogicalSegment{Logical: LogicalInstance, Value: instance},
		LogicalSegment{Logical: LogicalConnectionPoint, Value: point},
		LogicalSegment{Logical: LogicalMember, Value: member, Optional: true},
	)
}

// Concat joins the segments of several paths.
func Concat(paths ...EPath) EPath {
	var segs []Segment
	for _, p := range paths {
		segs = append(segs, p.segments...)
	}
	return EPath{segments: segs}
}

// Segments returns a copy of the segment list.
func (p EPath) Segments() []Segment {
	return append([]Segment(nil), p.segments...)
}

// IsEmpty reports whether the path encodes to no segment bytes.
func (p EPath) IsEmpty() bool { return p.SegmentsLength() == 0 }

// Segment returns the first logical segment of the given type.
func (p EPath) Segment(t LogicalType) (LogicalSegment, bool) {
	_, s, ok := p.findLogical(t)
	return s, ok
}

// RequiredSegment is Segment but fails when the segment is absent.
func (p EPath) RequiredSegment(t LogicalType) (LogicalSegment, error) {
	s, ok := p.Segment(t)
	if !ok {
		return LogicalSegment{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, t)
	}
	return s, nil
}

// Value returns the value of a logical segment, if present.
func (p EPath) Value(t LogicalType) (uint32, bool) {
	s, ok := p.Segment(t)
	return s.Value, ok
}

func (p EPath) ClassID() (uint32, bool)     { return p.Value(LogicalClass) }
func (p EPath) InstanceID() (uint32, bool)  { return p.Value(LogicalInstance) }
func (p EPath) AttributeID() (uint32, bool) { return p.Value(LogicalAttribute) }
func (p EPath) MemberID() (uint32, bool)    { return p.Value(LogicalMember) }

func (p EPath) findLogical(t LogicalType) (int, LogicalSegment, bool) {
	for i, seg := range p.segments {
		if ls, ok := seg.(LogicalSegment); ok && ls.Logical == t {
			return i, ls, true
		}
	}
	return -1, LogicalSegment{}, false
}

// WithSegmentValue replaces the value of an existing logical segment.
func (p EPath) WithSegmentValue(t LogicalType, value uint32) (EPath, error) {
	i, s, ok := p.findLogical(t)
	if !ok {
		return EPath{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, t)
	}
	s.Value = value
	return p.Replace(i, s)
}

func (p EPath) WithInstanceID(id uint32) (EPath, error) {
	return p.WithSegmentValue(LogicalInstance, id)
}

func (p EPath) WithAttributeID(id uint32) (EPath, error) {
	return p.WithSegmentValue(LogicalAttribute, id)
}

func (p EPath) WithMemberID(id uint32) (EPath, error) {
	return p.WithSegmentValue(LogicalMember, id)
}

// WithClassIDOnly drops everything but the class.
func (p EPath) WithClassIDOnly() (EPath, error) {
	class, err := p.RequiredSegment(LogicalClass)
	if err != nil {
		return EPath{}, err
	}
	return ToObject(class.Value), nil
}

// Add appends or prepends one segment.
func (p EPath) Add(seg Segment, appendOtherwisePrepend bool) EPath {
	segs := make([]Segment, 0, len(p.segments)+1)
	if appendOtherwisePrepend {
		segs = append(segs, p.segments...)
		segs = append(segs, seg)
	} else {
		segs = append(segs, seg)
		segs = append(segs, p.segments...)
	}
	return EPath{segments: segs}
}

// Replace swaps the segment at index i.
func (p EPath) Replace(i int, seg Segment) (EPath, error) {
	if i < 0 || i >= len(p.segments) {
		return EPath{}, fmt.Errorf("segment index %d out of range [0,%d)", i, len(p.segments))
	}
	segs := p.Segments()
	segs[i] = seg
	return EPath{segments: segs}, nil
}

// AddData appends a simple data segment.
func (p EPath) AddData(data []byte) (EPath, error) {
	seg, err := NewSimpleData(data)
	if err != nil {
		return EPath{}, err
	}
	return p.Add(seg, true), nil
}

// HasData reports whether the path carries a simple data segment.
func (p EPath) HasData() bool {
	for _, seg := range p.segments {
		if _, ok := seg.(SimpleDataSegment); ok {
			return true
		}
	}
	return false
}

// ProductionInhibitTime returns the production inhibit segment, if present.
func (p EPath) ProductionInhibitTime() (ProductionInhibitTimeSegment, bool) {
	for _, seg := range p.segments {
		if pit, ok := seg.(ProductionInhibitTimeSegment); ok {
			return pit, true
		}
	}
	return ProductionInhibitTimeSegment{}, false
}

// WithProductionInhibitTime prepends a production inhibit segment or replaces
// the existing one. The same path is returned when the value is unchanged.
func (p EPath) WithProductionInhibitTime(value uint8) EPath {
	for i, seg := range p.segments {
		pit, ok := seg.(ProductionInhibitTimeSegment)
		if !ok {
			continue
		}
		if pit.Value == value {
			return p
		}
		segs := p.Segments()
		segs[i] = ProductionInhibitTimeSegment{Value: value}
		return EPath{segments: segs}
	}
	return p.Add(ProductionInhibitTimeSegment{Value: value}, false)
}

// SegmentsLength is the encoded length of the segments without the size byte.
func (p EPath) SegmentsLength() int {
	n := 0
	for _, seg := range p.segments {
		n += seg.ByteLength()
	}
	return n
}

// Size is the segment length in 16-bit words.
func (p EPath) Size() uint8 { return uint8(p.SegmentsLength() / 2) }

// ByteLength includes the leading size byte.
func (p EPath) ByteLength() int { return 1 + p.SegmentsLength() }

// Validate checks that the segment length is even and fits the size byte.
func (p EPath) Validate() error {
	n := p.SegmentsLength()
	if n%2 != 0 {
		return fmt.Errorf("path length %d is not word aligned", n)
	}
	if n/2 > 0xFF {
		return fmt.Errorf("%w: %d words", ErrPathTooLong, n/2)
	}
	return nil
}

// Write emits the size byte followed by the segments.
func (p EPath) Write(buf []byte, idx *int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := codec.CheckRoom(buf, *idx, p.ByteLength()); err != nil {
		return err
	}
	buf[*idx] = p.Size()
	*idx++
	return p.WriteSegments(buf, idx)
}

// WriteSegments emits the segments only.
func (p EPath) WriteSegments(buf []byte, idx *int) error {
	if err := codec.CheckRoom(buf, *idx, p.SegmentsLength()); err != nil {
		return err
	}
	for _, seg := range p.segments {
		if err := seg.Write(buf, idx); err != nil {
			return err
		}
	}
	return nil
}

// SegmentBytes returns the encoded segments without the size byte.
func (p EPath) SegmentBytes() []byte {
	buf := make([]byte, p.SegmentsLength())
	idx := 0
	_ = p.WriteSegments(buf, &idx)
	return buf
}

// Equal compares the wire forms of two paths.
func (p EPath) Equal(other EPath) bool {
	return bytes.Equal(p.SegmentBytes(), other.SegmentBytes())
}

// SegmentsOnly returns the segments as a Byteable without the size byte,
// for records that carry their own size field.
func (p EPath) SegmentsOnly() codec.Byteable { return segmentsOnly{p} }

type segmentsOnly struct{ p EPath }

func (s segmentsOnly) ByteLength() int { return s.p.SegmentsLength() }

func (s segmentsOnly) Write(buf []byte, idx *int) error { return s.p.WriteSegments(buf, idx) }

func (p EPath) String() string {
	parts := make([]string, 0, len(p.segments))
	for _, seg := range p.segments {
		switch s := seg.(type) {
		case LogicalSegment:
			if s.Skipped() {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s 0x%02X", s.Logical, s.Value))
		case ProductionInhibitTimeSegment:
			if s.Value == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("pit %dms", s.Value))
		case SimpleDataSegment:
			parts = append(parts, fmt.Sprintf("data[%d]", len(s.data)))
		}
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, "/")
}

var _ codec.Byteable = EPath{}
