package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestPutUint16(t *testing.T) {
	tests := []struct {
		name  string
		order binary.ByteOrder
		value uint16
		want  []byte
	}{
		{"little endian zero", binary.LittleEndian, 0x0000, []byte{0x00, 0x00}},
		{"little endian", binary.LittleEndian, 0x0102, []byte{0x02, 0x01}},
		{"big endian", binary.BigEndian, 0x0102, []byte{0x01, 0x02}},
		{"encapsulation port 44818", binary.LittleEndian, 44818, []byte{0x12, 0xAF}},
		{"I/O port 2222 network order", binary.BigEndian, 2222, []byte{0x08, 0xAE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 2)
			PutUint16(tt.order, buf, tt.value)
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("PutUint16() = %v, want %v", buf, tt.want)
			}
		})
	}
}

func TestAppendUint32(t *testing.T) {
	got := AppendUint32(binary.LittleEndian, []byte{0xAA}, 0x01020304)
	want := []byte{0xAA, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendUint32() = %v, want %v", got, want)
	}
}

func TestScalarsWriteLittleEndian(t *testing.T) {
	tests := []struct {
		name  string
		value Byteable
		want  []byte
	}{
		{"byte", Byte(0x7F), []byte{0x7F}},
		{"uint16", Uint16(0xAF12), []byte{0x12, 0xAF}},
		{"uint32", Uint32(0x12345678), []byte{0x78, 0x56, 0x34, 0x12}},
		{"bytes", Bytes{1, 2, 3}, []byte{1, 2, 3}},
		{"empty bytes", Bytes(nil), []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %v, want %v", got, tt.want)
			}
			if len(got) != tt.value.ByteLength() {
				t.Errorf("ByteLength() = %d, encoded %d bytes", tt.value.ByteLength(), len(got))
			}
		})
	}
}

func TestWriteAdvancesIndex(t *testing.T) {
	buf := make([]byte, 8)
	idx := 2
	if err := Uint32(0xDEADBEEF).Write(buf, &idx); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if idx != 6 {
		t.Errorf("index = %d, want 6", idx)
	}
	if !bytes.Equal(buf[2:6], []byte{0xEF, 0xBE, 0xAD, 0xDE}) {
		t.Errorf("buf = %v", buf)
	}
}

func TestWriteBufferTooSmall(t *testing.T) {
	tests := []struct {
		name  string
		value Byteable
		size  int
		idx   int
	}{
		{"uint16 at end", Uint16(1), 3, 2},
		{"uint32 short", Uint32(1), 3, 0},
		{"bytes overflow", Bytes{1, 2, 3}, 4, 2},
		{"concat", Concat{Uint16(1), Uint32(2)}, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			idx := tt.idx
			err := tt.value.Write(buf, &idx)
			if !errors.Is(err, ErrBufferTooSmall) {
				t.Fatalf("Write() error = %v, want ErrBufferTooSmall", err)
			}
			if idx != tt.idx {
				t.Errorf("index moved to %d on failure", idx)
			}
		})
	}
}

func TestZeroLengthWriteIsNoop(t *testing.T) {
	idx := 0
	if err := Bytes(nil).Write(nil, &idx); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}
}

func TestConcatLengthIsSumOfChildren(t *testing.T) {
	c := Concat{Byte(1), Uint16(2), nil, Bytes{3, 4, 5}, Concat{Uint32(6)}}
	if got := c.ByteLength(); got != 10 {
		t.Fatalf("ByteLength() = %d, want 10", got)
	}
	got, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	want := []byte{1, 2, 0, 3, 4, 5, 6, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %v, want %v", got, want)
	}
}

func TestLazyBuildsOnce(t *testing.T) {
	calls := 0
	l := NewLazy(func() Byteable {
		calls++
		return Uint16(0x0102)
	})
	if calls != 0 {
		t.Fatalf("build called before use")
	}
	for i := 0; i < 3; i++ {
		if l.ByteLength() != 2 {
			t.Fatalf("ByteLength() = %d, want 2", l.ByteLength())
		}
		if _, err := Encode(l); err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("build called %d times, want 1", calls)
	}
}

func TestLazyNilValue(t *testing.T) {
	l := NewLazy(func() Byteable { return nil })
	if l.ByteLength() != 0 {
		t.Errorf("ByteLength() = %d, want 0", l.ByteLength())
	}
}

func TestReader(t *testing.T) {
	r := NewReader([]byte{0x01, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0x08, 0xAE, 0xFF})
	b, _ := r.Uint8("b")
	u16, _ := r.Uint16("u16")
	u32, _ := r.Uint32("u32")
	be, _ := r.Uint16BE("port")
	if b != 0x01 || u16 != 0x1234 || u32 != 0x12345678 || be != 2222 {
		t.Errorf("got %#x %#x %#x %d", b, u16, u32, be)
	}
	if r.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", r.Remaining())
	}
	if _, err := r.Uint16("tail"); !errors.Is(err, ErrSourceTooShort) {
		t.Errorf("Uint16() error = %v, want ErrSourceTooShort", err)
	}
	if rest := r.Rest(); !bytes.Equal(rest, []byte{0xFF}) {
		t.Errorf("Rest() = %v", rest)
	}
}
