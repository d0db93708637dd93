package path

import (
	"encoding/binary"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// Decode parses raw segment bytes (no size byte). Logical segments must use
// the narrowest width for their value so that re-encoding reproduces the input.
func Decode(b []byte) (EPath, error) {
	var segs []Segment
	idx := 0
	for idx < len(b) {
		seg, n, err := decodeSegment(b, idx)
		if err != nil {
			return EPath{}, err
		}
		segs = append(segs, seg)
		idx += n
	}
	return EPath{segments: segs}, nil
}

// DecodeSized parses a size byte followed by that many words of segments.
// It returns the path and the number of bytes consumed.
func DecodeSized(b []byte) (EPath, int, error) {
	if err := codec.CheckSource(b, 0, 1, "path size"); err != nil {
		return EPath{}, 0, err
	}
	n := int(b[0]) * 2
	if err := codec.CheckSource(b, 1, n, "path segments"); err != nil {
		return EPath{}, 0, err
	}
	p, err := Decode(b[1 : 1+n])
	if err != nil {
		return EPath{}, 0, err
	}
	return p, 1 + n, nil
}

func decodeSegment(b []byte, idx int) (Segment, int, error) {
	lead := b[idx]
	segType := SegmentType(lead >> 5)
	format := lead & 0x1F

	switch segType {
	case SegmentTypeLogical:
		return decodeLogical(b, idx, format)
	case SegmentTypeNetwork:
		if format != networkProductionInhibitTime {
			return nil, 0, fmt.Errorf("%w: network segment 0x%02X at offset %d", ErrUnknownSegment, lead, idx)
		}
		if err := codec.CheckSource(b, idx, 2, "production inhibit time segment"); err != nil {
			return nil, 0, err
		}
		if b[idx+1] == 0 {
			return nil, 0, fmt.Errorf("production inhibit time segment at offset %d has zero value", idx)
		}
		return ProductionInhibitTimeSegment{Value: b[idx+1]}, 2, nil
	case SegmentTypeData:
		if format != dataSimple {
			return nil, 0, fmt.Errorf("%w: data segment 0x%02X at offset %d", ErrUnknownSegment, lead, idx)
		}
		if err := codec.CheckSource(b, idx, 2, "simple data header"); err != nil {
			return nil, 0, err
		}
		n := int(b[idx+1]) * 2
		if err := codec.CheckSource(b, idx+2, n, "simple data"); err != nil {
			return nil, 0, err
		}
		seg, err := NewSimpleData(b[idx+2 : idx+2+n])
		if err != nil {
			return nil, 0, err
		}
		return seg, 2 + n, nil
	default:
		return nil, 0, fmt.Errorf("%w: type 0x%02X at offset %d", ErrUnknownSegment, lead, idx)
	}
}

func decodeLogical(b []byte, idx int, format uint8) (Segment, int, error) {
	logical := LogicalType(format >> 2)
	if logical > LogicalAttribute {
		return nil, 0, fmt.Errorf("%w: logical type %d at offset %d", ErrUnknownSegment, logical, idx)
	}
	seg := LogicalSegment{Logical: logical}
	var n int
	switch format & 0x03 {
	case width8:
		if err := codec.CheckSource(b, idx, 2, "8-bit logical segment"); err != nil {
			return nil, 0, err
		}
		seg.Value = uint32(b[idx+1])
		n = 2
	case width16:
		if err := codec.CheckSource(b, idx, 4, "16-bit logical segment"); err != nil {
			return nil, 0, err
		}
		if b[idx+1] != 0 {
			return nil, 0, fmt.Errorf("%w at offset %d", ErrNonZeroPad, idx)
		}
		seg.Value = uint32(binary.LittleEndian.Uint16(b[idx+2:]))
		n = 4
	case width32:
		if err := codec.CheckSource(b, idx, 6, "32-bit logical segment"); err != nil {
			return nil, 0, err
		}
		if b[idx+1] != 0 {
			return nil, 0, fmt.Errorf("%w at offset %d", ErrNonZeroPad, idx)
		}
		seg.Value = binary.LittleEndian.Uint32(b[idx+2:])
		n = 6
	default:
		return nil, 0, fmt.Errorf("%w: reserved logical format at offset %d", ErrUnknownSegment, idx)
	}
	if seg.ByteLength() != n {
		return nil, 0, fmt.Errorf("logical segment at offset %d uses %d bytes for value %d", idx, n, seg.Value)
	}
	return seg, n, nil
}
