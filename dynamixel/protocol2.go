package dynamixel

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Protocol 2.0 framing:
// FF FF FD 00 | ID | LEN_L LEN_H | INST | PARAM* | CRC_L CRC_H
// LEN counts INST, PARAM and CRC. Status packets carry ERR after INST=0x55.
const (
	v2MinStatusLength = 11
	v2MaxPacketLength = 1024
	v2MaxID           = 0xFC

	v2PosReserved = 3
	v2PosID       = 4
	v2PosLength   = 5
	v2PosInst     = 7
	v2PosError    = 8

	// header(4) + id + length(2)
	v2PrefixLength = 7

	// A fast read record is [err][id][data...][crc_l crc_h].
	fastRecordOverhead = 4
)

var clearMultiTurnKey = []byte{0x01, 0x44, 0x58, 0x4C, 0x22}

// ProtocolV2 implements Codec for protocol 2.0: a four-byte header, a
// two-byte length, CRC-16 and byte stuffing of accidental headers.
type ProtocolV2 struct{}

func (ProtocolV2) Version() ProtocolVersion { return Protocol2 }
func (ProtocolV2) MinStatusLength() int     { return v2MinStatusLength }
func (ProtocolV2) MaxPacketLength() int     { return v2MaxPacketLength }
func (ProtocolV2) StatusLength(n int) int   { return v2MinStatusLength + n }

func (ProtocolV2) EncodeInstruction(pkt Packet) ([]byte, error) {
	return encodeV2(pkt.ID, byte(pkt.Instruction), pkt.Params)
}

func (ProtocolV2) EncodeStatus(st StatusPacket) ([]byte, error) {
	payload := make([]byte, 0, len(st.Params)+1)
	payload = append(payload, st.Error)
	payload = append(payload, st.Params...)
	return encodeV2(st.ID, byte(InstStatus), payload)
}

func encodeV2(id, inst byte, payload []byte) ([]byte, error) {
	stuffed := addStuffing(payload)
	total := v2PrefixLength + 1 + len(stuffed) + 2
	if total > v2MaxPacketLength {
		return nil, errors.Errorf("packet length %d exceeds %d", total, v2MaxPacketLength)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, 0xFF, 0xFF, 0xFD, 0x00, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(stuffed)+3))
	buf = append(buf, inst)
	buf = append(buf, stuffed...)
	buf = binary.LittleEndian.AppendUint16(buf, checksumCRC(buf))
	return buf, nil
}

// addStuffing inserts 0xFD after every FF FF FD sequence so the payload
// can never be mistaken for a header.
func addStuffing(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/3)
	for i, b := range payload {
		out = append(out, b)
		if i >= 2 && b == 0xFD && payload[i-1] == 0xFF && payload[i-2] == 0xFF {
			out = append(out, 0xFD)
		}
	}
	return out
}

// removeStuffing drops the 0xFD following every FF FF FD sequence.
func removeStuffing(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		out = append(out, data[i])
		if i >= 2 && data[i] == 0xFD && data[i-1] == 0xFF && data[i-2] == 0xFF &&
			i+1 < len(data) && data[i+1] == 0xFD {
			i++
		}
	}
	return out
}

// FindHeader looks for FF FF FD followed by anything but another FD, which
// would mark a stuffed sequence inside a payload.
func (ProtocolV2) FindHeader(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xFF && buf[i+2] == 0xFD && buf[i+3] != 0xFD {
			return i
		}
	}
	return max(len(buf)-3, 0)
}

func (ProtocolV2) HeaderPlausible(buf []byte) bool {
	if len(buf) < v2MinStatusLength {
		return false
	}
	id := buf[v2PosID]
	length := int(binary.LittleEndian.Uint16(buf[v2PosLength:]))
	return buf[v2PosReserved] == 0x00 &&
		(id <= v2MaxID || id == BroadcastID) &&
		length >= 4 &&
		length+v2PrefixLength <= v2MaxPacketLength &&
		Instruction(buf[v2PosInst]) == InstStatus
}

func (ProtocolV2) FrameLength(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[v2PosLength:])) + v2PrefixLength
}

func (ProtocolV2) VerifyFrame(frame []byte) bool {
	n := len(frame)
	if n < v2MinStatusLength {
		return false
	}
	return checksumCRC(frame[:n-2]) == binary.LittleEndian.Uint16(frame[n-2:])
}

func (ProtocolV2) DecodeStatus(frame []byte, skipStuffing bool) StatusPacket {
	n := len(frame)
	body := frame[v2PosError : n-2]
	if skipStuffing {
		body = append([]byte(nil), body...)
	} else {
		body = removeStuffing(body)
	}
	return StatusPacket{
		ID:     frame[v2PosID],
		Error:  body[0],
		Params: body[1:],
		Frame:  append([]byte(nil), frame...),
	}
}

func (ProtocolV2) PingPacket(id byte) Packet {
	return Packet{ID: id, Instruction: InstPing}
}

func (ProtocolV2) PingInfo(st StatusPacket) (PingInfo, bool) {
	if len(st.Params) < 3 {
		return PingInfo{}, false
	}
	return PingInfo{
		ModelNumber: binary.LittleEndian.Uint16(st.Params),
		Firmware:    st.Params[2],
	}, true
}

func (ProtocolV2) ReadPacket(id byte, address, length uint16) Packet {
	params := binary.LittleEndian.AppendUint16(nil, address)
	params = binary.LittleEndian.AppendUint16(params, length)
	return Packet{ID: id, Instruction: InstRead, Params: params}
}

func (ProtocolV2) ReadLength(pkt Packet) int {
	if pkt.Instruction != InstRead || len(pkt.Params) < 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(pkt.Params[2:]))
}

func (ProtocolV2) WritePacket(inst Instruction, id byte, address uint16, data []byte) Packet {
	params := make([]byte, 0, len(data)+2)
	params = binary.LittleEndian.AppendUint16(params, address)
	params = append(params, data...)
	return Packet{ID: id, Instruction: inst, Params: params}
}

func (ProtocolV2) FactoryResetPacket(id, option byte) Packet {
	return Packet{ID: id, Instruction: InstFactoryReset, Params: []byte{option}}
}

func (ProtocolV2) RebootPacket(id byte) (Packet, error) {
	return Packet{ID: id, Instruction: InstReboot}, nil
}

func (ProtocolV2) ClearMultiTurnPacket(id byte) (Packet, error) {
	return Packet{ID: id, Instruction: InstClear, Params: append([]byte(nil), clearMultiTurnKey...)}, nil
}

func (ProtocolV2) SyncReadPacket(inst Instruction, address, length uint16, ids []byte) (Packet, error) {
	if inst != InstSyncRead && inst != InstFastSyncRead {
		return Packet{}, ErrNotAvailable
	}
	return Packet{ID: BroadcastID, Instruction: inst, Params: syncParamsV2(address, length, ids)}, nil
}

func (ProtocolV2) SyncWritePacket(address, length uint16, param []byte) Packet {
	return Packet{ID: BroadcastID, Instruction: InstSyncWrite, Params: syncParamsV2(address, length, param)}
}

func syncParamsV2(address, length uint16, param []byte) []byte {
	params := make([]byte, 0, len(param)+4)
	params = binary.LittleEndian.AppendUint16(params, address)
	params = binary.LittleEndian.AppendUint16(params, length)
	return append(params, param...)
}

func (ProtocolV2) BulkReadPacket(inst Instruction, param []byte) (Packet, error) {
	if inst != InstBulkRead && inst != InstFastBulkRead {
		return Packet{}, ErrNotAvailable
	}
	return Packet{ID: BroadcastID, Instruction: inst, Params: append([]byte(nil), param...)}, nil
}

// BulkReadDescriptor lays out one device as [id][addr_l addr_h][len_l len_h].
func (ProtocolV2) BulkReadDescriptor(id byte, address, length uint16) []byte {
	d := []byte{id}
	d = binary.LittleEndian.AppendUint16(d, address)
	return binary.LittleEndian.AppendUint16(d, length)
}

func (ProtocolV2) BulkWritePacket(param []byte) (Packet, error) {
	return Packet{ID: BroadcastID, Instruction: InstBulkWrite, Params: append([]byte(nil), param...)}, nil
}

func (p ProtocolV2) BulkWriteDescriptor(id byte, address uint16, data []byte) ([]byte, error) {
	d := p.BulkReadDescriptor(id, address, uint16(len(data)))
	return append(d, data...), nil
}

// fastStatusLength is the wire length of an aggregate status carrying one
// record per data length.
func fastStatusLength(lengths []int) int {
	n := v2PosError
	for _, l := range lengths {
		n += l + fastRecordOverhead
	}
	return n
}
