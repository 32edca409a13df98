package dynamixel

import "github.com/pkg/errors"

// Protocol 1.0 framing: FF FF | ID | LEN | INST/ERR | PARAM* | CHKSUM.
const (
	v1HeaderLen       = 2
	v1MinStatusLength = 6
	v1MaxPacketLength = 250
	v1MaxID           = 0xFD
	v1MaxError        = 0x7F

	v1PosID     = 2
	v1PosLength = 3
	v1PosInst   = 4
	v1PosParam  = 5
)

// ProtocolV1 implements Codec for protocol 1.0: a fixed two-byte header, a
// one-byte length and a one's complement checksum.
type ProtocolV1 struct{}

func (ProtocolV1) Version() ProtocolVersion { return Protocol1 }
func (ProtocolV1) MinStatusLength() int     { return v1MinStatusLength }
func (ProtocolV1) MaxPacketLength() int     { return v1MaxPacketLength }
func (ProtocolV1) StatusLength(n int) int   { return v1MinStatusLength + n }

func (ProtocolV1) EncodeInstruction(pkt Packet) ([]byte, error) {
	return encodeV1(pkt.ID, byte(pkt.Instruction), pkt.Params)
}

func (ProtocolV1) EncodeStatus(st StatusPacket) ([]byte, error) {
	return encodeV1(st.ID, st.Error, st.Params)
}

func encodeV1(id, code byte, params []byte) ([]byte, error) {
	total := len(params) + v1MinStatusLength
	if total > v1MaxPacketLength {
		return nil, errors.Errorf("packet length %d exceeds %d", total, v1MaxPacketLength)
	}

	buf := make([]byte, total)
	buf[0], buf[1] = 0xFF, 0xFF
	buf[v1PosID] = id
	buf[v1PosLength] = byte(len(params) + 2)
	buf[v1PosInst] = code
	copy(buf[v1PosParam:], params)
	buf[total-1] = checksumV1(buf[v1HeaderLen : total-1])
	return buf, nil
}

// checksumV1 is the bitwise NOT of the byte sum.
func checksumV1(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

func (ProtocolV1) FindHeader(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xFF {
			return i
		}
	}
	return max(len(buf)-1, 0)
}

func (ProtocolV1) HeaderPlausible(buf []byte) bool {
	if len(buf) < v1MinStatusLength {
		return false
	}
	length := int(buf[v1PosLength])
	return buf[v1PosID] <= v1MaxID &&
		length >= 2 &&
		length+4 <= v1MaxPacketLength &&
		buf[v1PosInst] <= v1MaxError
}

func (ProtocolV1) FrameLength(buf []byte) int {
	return int(buf[v1PosLength]) + 4
}

func (ProtocolV1) VerifyFrame(frame []byte) bool {
	n := len(frame)
	if n < v1MinStatusLength {
		return false
	}
	return checksumV1(frame[v1HeaderLen:n-1]) == frame[n-1]
}

func (ProtocolV1) DecodeStatus(frame []byte, _ bool) StatusPacket {
	n := len(frame)
	return StatusPacket{
		ID:     frame[v1PosID],
		Error:  frame[v1PosInst],
		Params: append([]byte(nil), frame[v1PosParam:n-1]...),
		Frame:  append([]byte(nil), frame...),
	}
}

func (ProtocolV1) PingPacket(id byte) Packet {
	return Packet{ID: id, Instruction: InstPing}
}

// PingInfo is never carried by a protocol 1.0 ping; the model number lives
// at control table address 0.
func (ProtocolV1) PingInfo(StatusPacket) (PingInfo, bool) {
	return PingInfo{}, false
}

func (ProtocolV1) ReadPacket(id byte, address, length uint16) Packet {
	return Packet{ID: id, Instruction: InstRead, Params: []byte{byte(address), byte(length)}}
}

func (ProtocolV1) ReadLength(pkt Packet) int {
	if pkt.Instruction != InstRead || len(pkt.Params) < 2 {
		return 0
	}
	return int(pkt.Params[1])
}

func (ProtocolV1) WritePacket(inst Instruction, id byte, address uint16, data []byte) Packet {
	params := make([]byte, 0, len(data)+1)
	params = append(params, byte(address))
	params = append(params, data...)
	return Packet{ID: id, Instruction: inst, Params: params}
}

// FactoryResetPacket ignores option; protocol 1.0 always resets everything.
func (ProtocolV1) FactoryResetPacket(id, _ byte) Packet {
	return Packet{ID: id, Instruction: InstFactoryReset}
}

func (ProtocolV1) RebootPacket(byte) (Packet, error) {
	return Packet{}, ErrNotAvailable
}

func (ProtocolV1) ClearMultiTurnPacket(byte) (Packet, error) {
	return Packet{}, ErrNotAvailable
}

func (ProtocolV1) SyncReadPacket(Instruction, uint16, uint16, []byte) (Packet, error) {
	return Packet{}, ErrNotAvailable
}

func (ProtocolV1) SyncWritePacket(address, length uint16, param []byte) Packet {
	params := make([]byte, 0, len(param)+2)
	params = append(params, byte(address), byte(length))
	params = append(params, param...)
	return Packet{ID: BroadcastID, Instruction: InstSyncWrite, Params: params}
}

func (ProtocolV1) BulkReadPacket(inst Instruction, param []byte) (Packet, error) {
	if inst != InstBulkRead {
		return Packet{}, ErrNotAvailable
	}
	params := make([]byte, 0, len(param)+1)
	params = append(params, 0x00)
	params = append(params, param...)
	return Packet{ID: BroadcastID, Instruction: InstBulkRead, Params: params}, nil
}

// BulkReadDescriptor lays out one device as [len][id][addr].
func (ProtocolV1) BulkReadDescriptor(id byte, address, length uint16) []byte {
	return []byte{byte(length), id, byte(address)}
}

func (ProtocolV1) BulkWritePacket([]byte) (Packet, error) {
	return Packet{}, ErrNotAvailable
}

func (ProtocolV1) BulkWriteDescriptor(byte, uint16, []byte) ([]byte, error) {
	return nil, ErrNotAvailable
}
