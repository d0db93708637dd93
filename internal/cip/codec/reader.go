package codec

import "encoding/binary"

// Reader decodes values from a byte slice with bounds checking.
// Multi-byte reads are little-endian unless the method says otherwise.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// ExpectAtLeast fails unless n more bytes are available.
func (r *Reader) ExpectAtLeast(n int, what string) error {
	return CheckSource(r.buf, r.off, n, what)
}

func (r *Reader) Uint8(what string) (uint8, error) {
	if err := r.ExpectAtLeast(1, what); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16(what string) (uint16, error) {
	if err := r.ExpectAtLeast(2, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32(what string) (uint32, error) {
	if err := r.ExpectAtLeast(4, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Uint16BE reads a network-order 16-bit value.
func (r *Reader) Uint16BE(what string) (uint16, error) {
	if err := r.ExpectAtLeast(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

// Uint32BE reads a network-order 32-bit value.
func (r *Reader) Uint32BE(what string) (uint32, error) {
	if err := r.ExpectAtLeast(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Bytes returns the next n bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n int, what string) ([]byte, error) {
	if err := r.ExpectAtLeast(n, what); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int, what string) error {
	_, err := r.Bytes(n, what)
	return err
}

// Rest returns all unread bytes and moves to the end.
func (r *Reader) Rest() []byte {
	v := r.buf[r.off:]
	r.off = len(r.buf)
	return v
}
