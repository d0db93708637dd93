package path

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

func TestLogicalSegmentWidth(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x20, 0x00}},
		{"8-bit max", 255, []byte{0x20, 0xFF}},
		{"16-bit min", 256, []byte{0x21, 0x00, 0x00, 0x01}},
		{"16-bit max", 65535, []byte{0x21, 0x00, 0xFF, 0xFF}},
		{"32-bit min", 65536, []byte{0x22, 0x00, 0x00, 0x00, 0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := LogicalSegment{Logical: LogicalClass, Value: tt.value}
			got := codec.MustEncode(seg)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
			if seg.ByteLength() != len(tt.want) {
				t.Errorf("ByteLength() = %d, want %d", seg.ByteLength(), len(tt.want))
			}
		})
	}
}

func TestLogicalSegmentFormatByte(t *testing.T) {
	tests := []struct {
		logical LogicalType
		value   uint32
		want    byte
	}{
		{LogicalClass, 1, 0x20},
		{LogicalInstance, 1, 0x24},
		{LogicalInstance, 0x100, 0x25},
		{LogicalMember, 1, 0x28},
		{LogicalConnectionPoint, 0x64, 0x2C},
		{LogicalAttribute, 3, 0x30},
		{LogicalAttribute, 0x10000, 0x32},
	}
	for _, tt := range tests {
		seg := LogicalSegment{Logical: tt.logical, Value: tt.value}
		if got := codec.MustEncode(seg)[0]; got != tt.want {
			t.Errorf("%s(%d) leading byte = 0x%02X, want 0x%02X", tt.logical, tt.value, got, tt.want)
		}
	}
}

func TestOptionalSegmentSkip(t *testing.T) {
	zero := LogicalSegment{Logical: LogicalInstance, Value: 0, Optional: true}
	if zero.ByteLength() != 0 {
		t.Errorf("optional zero ByteLength() = %d, want 0", zero.ByteLength())
	}
	if got := codec.MustEncode(zero); len(got) != 0 {
		t.Errorf("optional zero encoded to % X", got)
	}

	one := LogicalSegment{Logical: LogicalInstance, Value: 1, Optional: true}
	if got := codec.MustEncode(one); !bytes.Equal(got, []byte{0x24, 0x01}) {
		t.Errorf("optional one encoded to % X, want 24 01", got)
	}

	required := LogicalSegment{Logical: LogicalInstance, Value: 0}
	if got := codec.MustEncode(required); !bytes.Equal(got, []byte{0x24, 0x00}) {
		t.Errorf("required zero encoded to % X, want 24 00", got)
	}
}

func TestToObject(t *testing.T) {
	tests := []struct {
		name string
		path EPath
		want []byte
	}{
		{"class only", ToObject(0x01), []byte{0x01, 0x20, 0x01}},
		{"identity vendor id", ToObject(0x01, 1, 1), []byte{0x03, 0x20, 0x01, 0x24, 0x01, 0x30, 0x01}},
		{"connection manager", ToObject(0x06, 1), []byte{0x02, 0x20, 0x06, 0x24, 0x01}},
		{"assembly 0x300", ToObject(0x04, 0x300, 3), []byte{0x04, 0x20, 0x04, 0x25, 0x00, 0x00, 0x03, 0x30, 0x03}},
		{"member", ToObject(0x04, 1, 3, 2), []byte{0x04, 0x20, 0x04, 0x24, 0x01, 0x30, 0x03, 0x28, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := codec.MustEncode(tt.path)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestPathSizeField(t *testing.T) {
	paths := []EPath{
		ToObject(0x01),
		ToObject(0x04, 0x64),
		ToObject(0x04, 0x300, 3),
		ToObject(0x10000, 0x10000, 0x10000),
		ToConnectionPoint(0x04, 0x65, 0),
	}
	for _, p := range paths {
		if p.Size() != uint8(p.ByteLength()/2) {
			t.Errorf("%s: Size() = %d, ByteLength()/2 = %d", p, p.Size(), p.ByteLength()/2)
		}
		if int(p.Size())*2 != p.SegmentsLength() {
			t.Errorf("%s: Size() = %d words, segments are %d bytes", p, p.Size(), p.SegmentsLength())
		}
		encoded := codec.MustEncode(p)
		if encoded[0] != p.Size() {
			t.Errorf("%s: size byte = %d, want %d", p, encoded[0], p.Size())
		}
	}
}

func TestConnectionPoint(t *testing.T) {
	got := codec.MustEncode(ToConnectionPointOfInstance(0x04, 1, 0x64, 0))
	want := []byte{0x03, 0x20, 0x04, 0x24, 0x01, 0x2C, 0x64}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % X, want % X", got, want)
	}
}

func TestConcat(t *testing.T) {
	p := Concat(ToObject(0x04, 0x66), New(LogicalSegment{Logical: LogicalConnectionPoint, Value: 0x64}))
	want := []byte{0x20, 0x04, 0x24, 0x66, 0x2C, 0x64}
	if got := p.SegmentBytes(); !bytes.Equal(got, want) {
		t.Errorf("SegmentBytes() = % X, want % X", got, want)
	}
}

func TestWithSegmentValue(t *testing.T) {
	base := ToObject(0x01, 1)

	withAttr, err := base.WithAttributeID(7)
	if err != nil {
		t.Fatalf("WithAttributeID() error: %v", err)
	}
	if v, _ := withAttr.AttributeID(); v != 7 {
		t.Errorf("AttributeID() = %d, want 7", v)
	}
	if v, _ := base.AttributeID(); v != 0 {
		t.Errorf("original path mutated: AttributeID() = %d", v)
	}

	classOnly, err := withAttr.WithClassIDOnly()
	if err != nil {
		t.Fatalf("WithClassIDOnly() error: %v", err)
	}
	if got := classOnly.SegmentBytes(); !bytes.Equal(got, []byte{0x20, 0x01}) {
		t.Errorf("WithClassIDOnly() = % X", got)
	}

	if _, err := New().WithInstanceID(1); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("WithInstanceID() on empty path error = %v, want ErrSegmentNotFound", err)
	}
	if _, err := New().RequiredSegment(LogicalClass); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("RequiredSegment() error = %v, want ErrSegmentNotFound", err)
	}
}

func TestAddData(t *testing.T) {
	p, err := ToObject(0x04, 1).AddData([]byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("AddData() error: %v", err)
	}
	if !p.HasData() {
		t.Error("HasData() = false")
	}
	want := []byte{0x20, 0x04, 0x24, 0x01, 0x80, 0x01, 0xAA, 0xBB}
	if got := p.SegmentBytes(); !bytes.Equal(got, want) {
		t.Errorf("SegmentBytes() = % X, want % X", got, want)
	}

	bad := [][]byte{nil, {0x01}, make([]byte, 512)}
	for _, data := range bad {
		if _, err := ToObject(0x04).AddData(data); !errors.Is(err, ErrInvalidSimpleData) {
			t.Errorf("AddData(len %d) error = %v, want ErrInvalidSimpleData", len(data), err)
		}
	}
}

func TestWithProductionInhibitTime(t *testing.T) {
	base := ToObject(0x04, 0x64)

	withPIT := base.WithProductionInhibitTime(10)
	want := []byte{0x43, 0x0A, 0x20, 0x04, 0x24, 0x64}
	if got := withPIT.SegmentBytes(); !bytes.Equal(got, want) {
		t.Fatalf("SegmentBytes() = % X, want % X", got, want)
	}

	replaced := withPIT.WithProductionInhibitTime(20)
	if got := replaced.SegmentBytes(); got[1] != 20 || len(got) != len(want) {
		t.Errorf("replace = % X", got)
	}
	if len(replaced.Segments()) != len(withPIT.Segments()) {
		t.Errorf("replace added a segment")
	}

	same := withPIT.WithProductionInhibitTime(10)
	if !same.Equal(withPIT) {
		t.Errorf("same value changed the path")
	}

	zero := base.WithProductionInhibitTime(0)
	if !zero.Equal(base) {
		t.Errorf("zero PIT should encode to nothing: % X", zero.SegmentBytes())
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	withData, _ := ToObject(0x04, 1).AddData([]byte{1, 2, 3, 4})
	paths := []EPath{
		ToObject(0x01, 1, 7),
		ToObject(0x04, 0x300, 3),
		ToObject(0x10000, 2),
		ToConnectionPointOfInstance(0x04, 1, 0x64, 5),
		withData,
		ToObject(0x04, 0x65).WithProductionInhibitTime(5),
	}
	for _, p := range paths {
		raw := p.SegmentBytes()
		decoded, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(% X) error: %v", raw, err)
		}
		if got := decoded.SegmentBytes(); !bytes.Equal(got, raw) {
			t.Errorf("round trip = % X, want % X", got, raw)
		}
	}
}

func TestDecodeSized(t *testing.T) {
	raw := append(codec.MustEncode(ToObject(0x06, 1)), 0xFF)
	p, n, err := DecodeSized(raw)
	if err != nil {
		t.Fatalf("DecodeSized() error: %v", err)
	}
	if n != 5 {
		t.Errorf("consumed %d bytes, want 5", n)
	}
	if v, _ := p.ClassID(); v != 6 {
		t.Errorf("ClassID() = %d, want 6", v)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"truncated 8-bit", []byte{0x20}, codec.ErrSourceTooShort},
		{"truncated 16-bit", []byte{0x21, 0x00, 0x01}, codec.ErrSourceTooShort},
		{"port segment", []byte{0x01, 0x00}, ErrUnknownSegment},
		{"symbolic segment", []byte{0x91, 0x01, 'A', 0x00}, ErrUnknownSegment},
		{"truncated data", []byte{0x80, 0x02, 0x01, 0x02}, codec.ErrSourceTooShort},
		{"16-bit pad not zero", []byte{0x21, 0x7F, 0x34, 0x12}, ErrNonZeroPad},
		{"32-bit pad not zero", []byte{0x26, 0x01, 0x78, 0x56, 0x34, 0x12}, ErrNonZeroPad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Decode([]byte{0x21, 0x00, 0x05, 0x00}); err == nil {
		t.Error("expected error for non-minimal width")
	}
}

func TestString(t *testing.T) {
	if got := ToObject(0x04, 0x64).String(); got != "class 0x04/instance 0x64" {
		t.Errorf("String() = %q", got)
	}
	if got := New().String(); got != "<empty>" {
		t.Errorf("String() = %q", got)
	}
}
