// Package dynamixel provides a Go library for communicating with Dynamixel
// servo motors over protocol 1.0 and 2.0.
package dynamixel

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolVersion selects the wire format spoken on a port.
type ProtocolVersion int

// Protocol versions.
const (
	Protocol1 ProtocolVersion = 1
	Protocol2 ProtocolVersion = 2
)

func (v ProtocolVersion) String() string {
	switch v {
	case Protocol1:
		return "1.0"
	case Protocol2:
		return "2.0"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Instruction is an instruction packet opcode.
type Instruction byte

// Instruction codes. Availability per protocol version is decided by the codec.
const (
	InstPing         Instruction = 0x01
	InstRead         Instruction = 0x02
	InstWrite        Instruction = 0x03
	InstRegWrite     Instruction = 0x04
	InstAction       Instruction = 0x05
	InstFactoryReset Instruction = 0x06
	InstReboot       Instruction = 0x08
	InstClear        Instruction = 0x10
	InstStatus       Instruction = 0x55
	InstSyncRead     Instruction = 0x82
	InstSyncWrite    Instruction = 0x83
	InstFastSyncRead Instruction = 0x8A
	InstBulkRead     Instruction = 0x92
	InstBulkWrite    Instruction = 0x93
	InstFastBulkRead Instruction = 0x9A
)

// Special ID values.
const (
	BroadcastID = 0xFE
	MaxID       = 0xFC // highest unicast ID usable on both protocol versions
)

// Factory reset options (protocol 2.0 only).
const (
	ResetAll          byte = 0xFF
	ResetExceptID     byte = 0x01
	ResetExceptIDBaud byte = 0x02
)

// Packet is an instruction packet sent host to device(s).
type Packet struct {
	ID          byte
	Instruction Instruction
	Params      []byte
}

// StatusPacket is a status packet sent by a device.
type StatusPacket struct {
	ID     byte
	Error  byte
	Params []byte

	// Frame holds the received bytes from header through checksum, before
	// byte stuffing is removed.
	Frame []byte
}

// Codec frames and parses packets for one protocol version and knows the
// parameter layout of every instruction it supports.
type Codec interface {
	Version() ProtocolVersion

	// EncodeInstruction frames pkt for the wire.
	EncodeInstruction(pkt Packet) ([]byte, error)
	// EncodeStatus frames a status packet the way a device would.
	EncodeStatus(st StatusPacket) ([]byte, error)

	// MinStatusLength is the shortest well-formed status frame.
	MinStatusLength() int
	// MaxPacketLength bounds any frame in either direction.
	MaxPacketLength() int
	// StatusLength is the wire length of a status frame carrying n parameter bytes.
	StatusLength(n int) int

	// FindHeader returns the offset of the first header in buf. When none is
	// found it returns the offset of the trailing bytes that may still begin one.
	FindHeader(buf []byte) int
	// HeaderPlausible checks the structural fields of a header-aligned buffer
	// holding at least MinStatusLength bytes.
	HeaderPlausible(buf []byte) bool
	// FrameLength is the total frame length declared by a header-aligned buffer.
	FrameLength(buf []byte) int
	// VerifyFrame checks the checksum or CRC of a complete frame.
	VerifyFrame(frame []byte) bool
	// DecodeStatus splits a verified frame into its fields.
	DecodeStatus(frame []byte, skipStuffing bool) StatusPacket

	PingPacket(id byte) Packet
	// PingInfo extracts the model number and firmware version from a ping
	// status. ok is false when the protocol does not carry them there.
	PingInfo(st StatusPacket) (info PingInfo, ok bool)
	ReadPacket(id byte, address, length uint16) Packet
	// ReadLength returns the data length requested by a read packet.
	ReadLength(pkt Packet) int
	WritePacket(inst Instruction, id byte, address uint16, data []byte) Packet
	FactoryResetPacket(id, option byte) Packet
	RebootPacket(id byte) (Packet, error)
	ClearMultiTurnPacket(id byte) (Packet, error)

	SyncReadPacket(inst Instruction, address, length uint16, ids []byte) (Packet, error)
	SyncWritePacket(address, length uint16, param []byte) Packet
	BulkReadPacket(inst Instruction, param []byte) (Packet, error)
	BulkReadDescriptor(id byte, address, length uint16) []byte
	BulkWritePacket(param []byte) (Packet, error)
	BulkWriteDescriptor(id byte, address uint16, data []byte) ([]byte, error)
}

// PingInfo is what a device reports about itself in a ping status.
type PingInfo struct {
	ModelNumber uint16
	Firmware    byte
}

// NewCodec returns the codec for the given protocol version.
func NewCodec(version ProtocolVersion) (Codec, error) {
	switch version {
	case Protocol1:
		return ProtocolV1{}, nil
	case Protocol2:
		return ProtocolV2{}, nil
	default:
		return nil, errors.Errorf("unsupported protocol version %d", int(version))
	}
}

// expectsStatus reports whether a device answers pkt with a status packet.
func expectsStatus(pkt Packet) bool {
	if pkt.Instruction == InstAction {
		return false
	}
	if pkt.ID != BroadcastID {
		return true
	}
	switch pkt.Instruction {
	case InstSyncRead, InstFastSyncRead, InstBulkRead, InstFastBulkRead:
		return true
	}
	return false
}

// Uint16LE encodes v as two little-endian bytes.
func Uint16LE(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// Uint32LE encodes v as four little-endian bytes.
func Uint32LE(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// decodeLE decodes 1, 2 or 4 little-endian bytes. Any other length is zero.
func decodeLE(data []byte) uint32 {
	switch len(data) {
	case 1:
		return uint32(data[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(data))
	case 4:
		return binary.LittleEndian.Uint32(data)
	default:
		return 0
	}
}
