package enip

// EtherNet/IP encapsulation framing.

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/spec"
)

// Encapsulation command codes.
const (
	CommandNOP               uint16 = 0x0000
	CommandListServices      uint16 = 0x0004
	CommandListIdentity      uint16 = 0x0063
	CommandListInterfaces    uint16 = 0x0064
	CommandRegisterSession   uint16 = 0x0065
	CommandUnRegisterSession uint16 = 0x0066
	CommandSendRRData        uint16 = 0x006F
	CommandSendUnitData      uint16 = 0x0070
	CommandIndicateStatus    uint16 = 0x0072
	CommandCancel            uint16 = 0x0073
)

// Encapsulation status codes.
const (
	StatusSuccess              = spec.EncapStatusSuccess
	StatusInvalidCommand       = spec.EncapStatusInvalidCommand
	StatusInsufficientMemory   = spec.EncapStatusInsufficientMemory
	StatusIncorrectData        = spec.EncapStatusIncorrectData
	StatusInvalidSessionHandle = spec.EncapStatusInvalidSessionHandle
	StatusInvalidLength        = spec.EncapStatusInvalidLength
	StatusUnsupportedProtocol  = spec.EncapStatusUnsupportedProtocol
)

// HeaderSize is the fixed encapsulation header length.
const HeaderSize = 24

// DefaultPort is the registered EtherNet/IP TCP and UDP port.
const DefaultPort = 44818

// Encapsulation is one EtherNet/IP encapsulation message.
type Encapsulation struct {
	Command       uint16
	Length        uint16
	SessionID     uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
	Data          []byte
}

// StatusError is a nonzero encapsulation status.
type StatusError struct {
	Command uint16
	Status  uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("encapsulation %s failed: 0x%04X: %s",
		spec.CommandName(e.Command), e.Status, spec.EncapsulationStatusText(e.Status))
}

// StatusErr returns a *StatusError when the status is nonzero.
func (e Encapsulation) StatusErr() error {
	if e.Status == StatusSuccess {
		return nil
	}
	return &StatusError{Command: e.Command, Status: e.Status}
}

// ErrDataTooLong is returned by Encode when Data does not fit the length field.
var ErrDataTooLong = errors.New("encapsulation data exceeds length field")

// Encode writes the header and data. Length is taken from len(Data).
func (e Encapsulation) Encode() ([]byte, error) {
	if len(e.Data) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(e.Data))
	}
	packet := make([]byte, HeaderSize+len(e.Data))
	binary.LittleEndian.PutUint16(packet[0:2], e.Command)
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(e.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], e.SessionID)
	binary.LittleEndian.PutUint32(packet[8:12], e.Status)
	copy(packet[12:20], e.SenderContext[:])
	binary.LittleEndian.PutUint32(packet[20:24], e.Options)
	copy(packet[HeaderSize:], e.Data)
	return packet, nil
}

// Decode parses one encapsulation message. Bytes past the declared length are ignored.
func Decode(data []byte) (Encapsulation, error) {
	if err := codec.CheckSource(data, 0, HeaderSize, "encapsulation header"); err != nil {
		return Encapsulation{}, err
	}
	var e Encapsulation
	e.Command = binary.LittleEndian.Uint16(data[0:2])
	e.Length = binary.LittleEndian.Uint16(data[2:4])
	e.SessionID = binary.LittleEndian.Uint32(data[4:8])
	e.Status = binary.LittleEndian.Uint32(data[8:12])
	copy(e.SenderContext[:], data[12:20])
	e.Options = binary.LittleEndian.Uint32(data[20:24])

	if err := codec.CheckSource(data, HeaderSize, int(e.Length), "encapsulation data"); err != nil {
		return Encapsulation{}, err
	}
	if e.Length > 0 {
		e.Data = append([]byte(nil), data[HeaderSize:HeaderSize+int(e.Length)]...)
	}
	return e, nil
}

// PayloadLength reads the length field of a header without decoding it.
func PayloadLength(header []byte) (int, error) {
	if err := codec.CheckSource(header, 0, HeaderSize, "encapsulation header"); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(header[2:4])), nil
}

// BuildRegisterSession returns a RegisterSession request: protocol version 1, no options.
func BuildRegisterSession() Encapsulation {
	return Encapsulation{
		Command: CommandRegisterSession,
		Data:    []byte{0x01, 0x00, 0x00, 0x00},
	}
}

// BuildUnRegisterSession returns an UnRegisterSession request.
func BuildUnRegisterSession(sessionID uint32) Encapsulation {
	return Encapsulation{Command: CommandUnRegisterSession, SessionID: sessionID}
}

// BuildListIdentity returns a ListIdentity request.
func BuildListIdentity() Encapsulation {
	return Encapsulation{Command: CommandListIdentity}
}

// BuildListServices returns a ListServices request.
func BuildListServices() Encapsulation {
	return Encapsulation{Command: CommandListServices}
}
