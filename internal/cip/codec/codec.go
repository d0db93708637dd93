package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBufferTooSmall is returned when a destination cannot hold a value at the given offset.
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrSourceTooShort is returned when decoding runs past the end of the input.
	ErrSourceTooShort = errors.New("source too short")
)

// CheckRoom verifies that buf can hold n bytes starting at idx.
func CheckRoom(buf []byte, idx, n int) error {
	if idx < 0 || n < 0 || len(buf)-idx < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferTooSmall, n, idx, len(buf)-idx)
	}
	return nil
}

// CheckSource verifies that src has at least n bytes starting at idx.
func CheckSource(src []byte, idx, n int, what string) error {
	if idx < 0 || n < 0 || len(src)-idx < n {
		return fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d", ErrSourceTooShort, what, n, idx, max(len(src)-idx, 0))
	}
	return nil
}

// PutUint16 writes a uint16 to dst using the provided byte order.
func PutUint16(order binary.ByteOrder, dst []byte, value uint16) {
	order.PutUint16(dst, value)
}

// PutUint32 writes a uint32 to dst using the provided byte order.
func PutUint32(order binary.ByteOrder, dst []byte, value uint32) {
	order.PutUint32(dst, value)
}

// AppendUint16 appends a uint16 to dst using the provided byte order.
func AppendUint16(order binary.ByteOrder, dst []byte, value uint16) []byte {
	var buf [2]byte
	order.PutUint16(buf[:], value)
	return append(dst, buf[:]...)
}

// AppendUint32 appends a uint32 to dst using the provided byte order.
func AppendUint32(order binary.ByteOrder, dst []byte, value uint32) []byte {
	var buf [4]byte
	order.PutUint32(buf[:], value)
	return append(dst, buf[:]...)
}
