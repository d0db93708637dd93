package codec

// Serializable protocol values and composition primitives.

import (
	"encoding/binary"
	"sync"
)

// Byteable is implemented by every value that has a wire form.
//
// Write puts exactly ByteLength() bytes into buf starting at *idx and
// advances *idx by that amount. A zero-length value writes nothing.
type Byteable interface {
	ByteLength() int
	Write(buf []byte, idx *int) error
}

// Encode allocates a buffer of the exact length and writes b into it.
func Encode(b Byteable) ([]byte, error) {
	buf := make([]byte, b.ByteLength())
	idx := 0
	if err := b.Write(buf, &idx); err != nil {
		return nil, err
	}
	return buf, nil
}

// MustEncode is Encode for values whose length is known to be consistent.
func MustEncode(b Byteable) []byte {
	out, err := Encode(b)
	if err != nil {
		panic(err)
	}
	return out
}

// Bytes is a fixed block of raw bytes.
type Bytes []byte

func (b Bytes) ByteLength() int { return len(b) }

func (b Bytes) Write(buf []byte, idx *int) error {
	if len(b) == 0 {
		return nil
	}
	if err := CheckRoom(buf, *idx, len(b)); err != nil {
		return err
	}
	*idx += copy(buf[*idx:], b)
	return nil
}

// Byte is a single octet.
type Byte uint8

func (Byte) ByteLength() int { return 1 }

func (v Byte) Write(buf []byte, idx *int) error {
	if err := CheckRoom(buf, *idx, 1); err != nil {
		return err
	}
	buf[*idx] = byte(v)
	*idx++
	return nil
}

// Uint16 is a little-endian 16-bit value.
type Uint16 uint16

func (Uint16) ByteLength() int { return 2 }

func (v Uint16) Write(buf []byte, idx *int) error {
	if err := CheckRoom(buf, *idx, 2); err != nil {
		return err
	}
	PutUint16(binary.LittleEndian, buf[*idx:], uint16(v))
	*idx += 2
	return nil
}

// Uint32 is a little-endian 32-bit value.
type Uint32 uint32

func (Uint32) ByteLength() int { return 4 }

func (v Uint32) Write(buf []byte, idx *int) error {
	if err := CheckRoom(buf, *idx, 4); err != nil {
		return err
	}
	PutUint32(binary.LittleEndian, buf[*idx:], uint32(v))
	*idx += 4
	return nil
}

// Concat writes its children back to back.
type Concat []Byteable

func (c Concat) ByteLength() int {
	n := 0
	for _, b := range c {
		if b != nil {
			n += b.ByteLength()
		}
	}
	return n
}

func (c Concat) Write(buf []byte, idx *int) error {
	if err := CheckRoom(buf, *idx, c.ByteLength()); err != nil {
		return err
	}
	for _, b := range c {
		if b == nil {
			continue
		}
		if err := b.Write(buf, idx); err != nil {
			return err
		}
	}
	return nil
}

// Lazy defers building its value until first use and caches the result.
type Lazy struct {
	once  sync.Once
	build func() Byteable
	value Byteable
}

// NewLazy returns a Lazy that calls build at most once.
func NewLazy(build func() Byteable) *Lazy {
	return &Lazy{build: build}
}

// Value returns the cached value, building it on the first call.
func (l *Lazy) Value() Byteable {
	l.once.Do(func() {
		l.value = l.build()
		if l.value == nil {
			l.value = Bytes(nil)
		}
	})
	return l.value
}

func (l *Lazy) ByteLength() int { return l.Value().ByteLength() }

func (l *Lazy) Write(buf []byte, idx *int) error { return l.Value().Write(buf, idx) }

var (
	_ Byteable = Bytes(nil)
	_ Byteable = Byte(0)
	_ Byteable = Uint16(0)
	_ Byteable = Uint32(0)
	_ Byteable = Concat(nil)
	_ Byteable = (*Lazy)(nil)
)
