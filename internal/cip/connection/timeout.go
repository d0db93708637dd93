package connection

import (
	"fmt"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/codec"
)

// Timeout is the Connection Manager processing timeout: 2^Tick * Ticks ms.
type Timeout struct {
	Tick  uint8
	Ticks uint8
}

// DefaultTimeout is 2^3 * 250 ms = 2 s.
var DefaultTimeout = Timeout{Tick: 3, Ticks: 250}

// Duration returns the timeout as a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(1<<uint(t.Tick&0x0F)) * time.Duration(t.Ticks) * time.Millisecond
}

// TimeoutFromDuration picks the smallest tick whose tick count fits a byte.
// The result is rounded up to the next representable value.
func TimeoutFromDuration(d time.Duration) (Timeout, error) {
	if d <= 0 {
		return Timeout{}, fmt.Errorf("timeout must be positive, got %s", d)
	}
	ms := int64((d + time.Millisecond - 1) / time.Millisecond)
	for tick := uint8(0); tick <= 0x0F; tick++ {
		unit := int64(1) << tick
		ticks := (ms + unit - 1) / unit
		if ticks <= 0xFF {
			return Timeout{Tick: tick, Ticks: uint8(ticks)}, nil
		}
	}
	return Timeout{}, fmt.Errorf("timeout %s exceeds %s", d, Timeout{Tick: 0x0F, Ticks: 0xFF}.Duration())
}

func (Timeout) ByteLength() int { return 2 }

func (t Timeout) Write(buf []byte, idx *int) error {
	return codec.Concat{codec.Byte(t.Tick & 0x0F), codec.Byte(t.Ticks)}.Write(buf, idx)
}

func (t Timeout) String() string {
	return fmt.Sprintf("%d/%d (%s)", t.Tick, t.Ticks, t.Duration())
}
