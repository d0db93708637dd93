package connection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/path"
)

// DefaultPort is the EtherNet/IP implicit messaging UDP port.
const DefaultPort = 2222

// DefaultRPI is the default requested packet interval.
const DefaultRPI = 500 * time.Millisecond

var (
	// ErrDataSizeUnresolved is returned when a data size is needed but neither declared nor probed.
	ErrDataSizeUnresolved = errors.New("connection data size not resolved")
	// ErrMissingDataPath is returned for a non-null T->O connection without a data path.
	ErrMissingDataPath = errors.New("T->O connection requires a data path")
)

// Flow identifies the direction an IOConnection carries data.
type Flow uint8

const (
	FlowOToT Flow = iota
	FlowTToO
)

func (f Flow) String() string {
	if f == FlowTToO {
		return "T->O"
	}
	return "O->T"
}

// IOConnection describes one direction of an implicit connection.
// Runtime state (buffers, timestamps, resolved address) lives in the I/O engine.
type IOConnection struct {
	Flow           Flow
	ID             uint32
	RPI            time.Duration
	OwnerRedundant bool
	Type           ConnectionType
	Priority       Priority
	SizeType       SizeType
	RealTimeFormat RealTimeFormat
	// DataSize is the application data size without header. Nil means probe it.
	DataSize *uint16
	// ConfigPath is used by O->T only.
	ConfigPath path.EPath
	DataPath   path.EPath
	Port       uint16
}

// NewOToT returns an O->T connection with the originator defaults:
// point-to-point, 32-bit header, configuration path Assembly instance 1.
func NewOToT(dataPath path.EPath) *IOConnection {
	return &IOConnection{
		Flow:           FlowOToT,
		ID:             rand.Uint32(),
		RPI:            DefaultRPI,
		OwnerRedundant: true,
		Type:           TypePointToPoint,
		Priority:       PriorityScheduled,
		SizeType:       SizeVariable,
		RealTimeFormat: FormatHeader32Bit,
		ConfigPath:     path.ToObject(0x04, 1),
		DataPath:       dataPath,
		Port:           DefaultPort,
	}
}

// NewTToO returns a T->O connection with the target defaults: multicast, modeless.
func NewTToO(dataPath path.EPath) *IOConnection {
	return &IOConnection{
		Flow:           FlowTToO,
		ID:             rand.Uint32(),
		RPI:            DefaultRPI,
		OwnerRedundant: true,
		Type:           TypeMulticast,
		Priority:       PriorityScheduled,
		SizeType:       SizeVariable,
		RealTimeFormat: FormatModeless,
		DataPath:       dataPath,
		Port:           DefaultPort,
	}
}

// SetDataSize declares the application data size.
func (c *IOConnection) SetDataSize(n uint16) { c.DataSize = &n }

// HeaderOffset is the byte count the real-time format adds ahead of the data.
func (c *IOConnection) HeaderOffset() int { return c.RealTimeFormat.HeaderOffset() }

// Path returns the application path this direction contributes to the
// connection path. O->T uses the configuration path followed by the data
// path when the two differ; T->O uses the data path.
func (c *IOConnection) Path() (path.EPath, error) {
	if c.Flow == FlowTToO {
		if c.Type == TypeNull {
			return path.New(), nil
		}
		if c.DataPath.IsEmpty() {
			return path.EPath{}, ErrMissingDataPath
		}
		return c.DataPath, nil
	}
	if c.Type == TypeNull || c.DataPath.IsEmpty() || c.DataPath.Equal(c.ConfigPath) {
		return c.ConfigPath, nil
	}
	return path.Concat(c.ConfigPath, c.DataPath), nil
}

// ProbePath returns the path whose attribute length gives the data size.
// It is empty for a Null connection or when no data path is set, which
// resolves to a zero size.
func (c *IOConnection) ProbePath() path.EPath {
	if c.Type == TypeNull {
		return path.New()
	}
	return c.DataPath
}

// RPIMicros returns the RPI as the wire u32 microsecond count.
func (c *IOConnection) RPIMicros() (uint32, error) {
	us := c.RPI.Microseconds()
	if us < 0 || us > math.MaxUint32 {
		return 0, fmt.Errorf("%s RPI %s does not fit 32-bit microseconds", c.Flow, c.RPI)
	}
	return uint32(us), nil
}

// ConnectionSize is the data size plus the header offset.
func (c *IOConnection) ConnectionSize() (int, error) {
	if c.DataSize == nil {
		return 0, fmt.Errorf("%s: %w", c.Flow, ErrDataSizeUnresolved)
	}
	return int(*c.DataSize) + c.HeaderOffset(), nil
}

// ValidateDataSize checks that the declared size plus header fits max.
func (c *IOConnection) ValidateDataSize(max int) error {
	size, err := c.ConnectionSize()
	if err != nil {
		return err
	}
	if size > max {
		return fmt.Errorf("%s connection size %d (data %d + header %d) exceeds %d",
			c.Flow, size, *c.DataSize, c.HeaderOffset(), max)
	}
	return nil
}

// NetworkParameters packs the network connection parameters word.
// The large form is 32 bits, the small form 16 bits.
func (c *IOConnection) NetworkParameters(large bool) (codec.Byteable, error) {
	size, err := c.ConnectionSize()
	if err != nil {
		return nil, err
	}
	owner := uint32(0)
	if c.OwnerRedundant {
		owner = 1
	}
	sizeType := uint32(c.SizeType & 0x01)
	prio := uint32(c.Priority & 0x03)
	typ := uint32(c.Type & 0x03)
	if large {
		return codec.Uint32(uint32(size&0xFFFF) | sizeType<<25 | prio<<26 | typ<<29 | owner<<31), nil
	}
	return codec.Uint16(uint32(size&0x1FF) | sizeType<<9 | prio<<10 | typ<<13 | owner<<15), nil
}
