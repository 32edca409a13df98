package dynamixel

import "github.com/pkg/errors"

// broadcastPingStatusLength is the length of one ping status in protocol 2.0.
const broadcastPingStatusLength = 14

func checkUnicast(op string, id byte) error {
	if id >= BroadcastID {
		return newCommError(op, CommNotAvailable, errors.Wrapf(ErrInvalidID, "id %d", id))
	}
	return nil
}

// Ping pings id and returns its model number. Protocol 1.0 devices do not
// report it in the ping status, so it is read from address 0.
func (h *PacketHandler) Ping(port *Port, id byte) (uint16, DeviceError, error) {
	info, devErr, err := h.PingInfo(port, id)
	return info.ModelNumber, devErr, err
}

// PingInfo pings id and returns its model number and, on protocol 2.0, its
// firmware version.
func (h *PacketHandler) PingInfo(port *Port, id byte) (PingInfo, DeviceError, error) {
	const op = "ping"
	if err := checkUnicast(op, id); err != nil {
		return PingInfo{}, DeviceError{}, err
	}

	st, err := h.txRx(op, port, h.codec.PingPacket(id))
	if err != nil {
		return PingInfo{}, DeviceError{}, err
	}
	if info, ok := h.codec.PingInfo(st); ok {
		return info, h.deviceError(st.Error), nil
	}

	model, devErr, err := h.Read2ByteTxRx(port, id, 0)
	return PingInfo{ModelNumber: model}, devErr, err
}

// BroadcastPing pings every device at once and collects the answers that
// arrive before the deadline, keyed by id. Protocol 2.0 only.
func (h *PacketHandler) BroadcastPing(port *Port) (map[byte]PingInfo, error) {
	const op = "broadcast_ping"
	if h.codec.Version() == Protocol1 {
		return nil, newCommError(op, CommNotAvailable, nil)
	}

	if err := h.transmit(op, port, h.codec.PingPacket(BroadcastID)); err != nil {
		return nil, err
	}
	defer port.release()

	waitLength := broadcastPingStatusLength * MaxID
	perByteMs := float64(port.TxTimePerByte()) / 1e6
	port.SetPacketTimeoutMillis(float64(waitLength)*perByteMs + 3*MaxID + 16)

	buf := make([]byte, waitLength)
	n := 0
	for n < waitLength {
		read, err := port.read(buf[n:])
		if err != nil {
			return nil, newCommError(op, CommRxFail, err)
		}
		n += read
		if read == 0 && port.IsPacketTimeout() {
			break
		}
	}
	if n == 0 {
		return nil, newCommError(op, CommRxTimeout, nil)
	}

	found := h.parsePingStatuses(buf[:n])
	h.logger.Debugw("broadcast ping finished", "port", port.Name(), "bytes", n, "devices", len(found))
	return found, nil
}

// parsePingStatuses extracts every valid ping status from a burst of bytes.
func (h *PacketHandler) parsePingStatuses(buf []byte) map[byte]PingInfo {
	c := h.codec
	found := make(map[byte]PingInfo)
	for len(buf) >= c.MinStatusLength() {
		if idx := c.FindHeader(buf); idx > 0 {
			buf = buf[idx:]
			continue
		}
		if !c.HeaderPlausible(buf) {
			buf = buf[1:]
			continue
		}
		need := c.FrameLength(buf)
		if len(buf) < need {
			break
		}
		if !c.VerifyFrame(buf[:need]) {
			buf = buf[1:]
			continue
		}
		st := c.DecodeStatus(buf[:need], false)
		if info, ok := c.PingInfo(st); ok {
			found[st.ID] = info
		}
		buf = buf[need:]
	}
	return found
}

// Action triggers instructions previously queued with RegWrite.
func (h *PacketHandler) Action(port *Port, id byte) error {
	_, err := h.txRx("action", port, Packet{ID: id, Instruction: InstAction})
	return err
}

// Reboot restarts the device. Protocol 2.0 only.
func (h *PacketHandler) Reboot(port *Port, id byte) (DeviceError, error) {
	const op = "reboot"
	pkt, err := h.codec.RebootPacket(id)
	if err != nil {
		return DeviceError{}, newCommError(op, CommNotAvailable, nil)
	}
	return h.statusOnly(op, port, pkt)
}

// ClearMultiTurn resets the multi-turn position count. Protocol 2.0 only.
func (h *PacketHandler) ClearMultiTurn(port *Port, id byte) (DeviceError, error) {
	const op = "clear_multi_turn"
	pkt, err := h.codec.ClearMultiTurnPacket(id)
	if err != nil {
		return DeviceError{}, newCommError(op, CommNotAvailable, nil)
	}
	return h.statusOnly(op, port, pkt)
}

// FactoryReset restores the control table defaults. option selects what is
// kept on protocol 2.0 and is ignored on protocol 1.0.
func (h *PacketHandler) FactoryReset(port *Port, id, option byte) (DeviceError, error) {
	return h.statusOnly("factory_reset", port, h.codec.FactoryResetPacket(id, option))
}

func (h *PacketHandler) statusOnly(op string, port *Port, pkt Packet) (DeviceError, error) {
	st, err := h.txRx(op, port, pkt)
	if err != nil {
		return DeviceError{}, err
	}
	return h.deviceError(st.Error), nil
}

// ReadTx sends a read request and leaves the port busy for ReadRx.
func (h *PacketHandler) ReadTx(port *Port, id byte, address, length uint16) error {
	const op = "read"
	if err := checkUnicast(op, id); err != nil {
		return err
	}
	if err := h.transmit(op, port, h.codec.ReadPacket(id, address, length)); err != nil {
		return err
	}
	port.SetPacketTimeout(h.codec.StatusLength(int(length)))
	return nil
}

// ReadRx receives the status for an earlier ReadTx and frees the port.
func (h *PacketHandler) ReadRx(port *Port, id byte, length uint16) ([]byte, DeviceError, error) {
	defer port.release()
	return h.readRx("read", port, id, length)
}

func (h *PacketHandler) readRx(op string, port *Port, id byte, length uint16) ([]byte, DeviceError, error) {
	st, err := h.receiveFrom(op, port, id)
	if err != nil {
		return nil, DeviceError{}, err
	}
	return h.readData(op, st, length)
}

// readData takes length bytes out of a read status. A device that refuses
// the read answers with an error and no data, which is not a comm failure.
func (h *PacketHandler) readData(op string, st StatusPacket, length uint16) ([]byte, DeviceError, error) {
	if len(st.Params) < int(length) {
		if st.Error != 0 {
			return nil, h.deviceError(st.Error), nil
		}
		return nil, DeviceError{}, newCommError(op, CommRxCorrupt,
			errors.Errorf("status carries %d of %d bytes", len(st.Params), length))
	}
	return st.Params[:length], h.deviceError(st.Error), nil
}

// ReadTxRx reads length bytes starting at address.
func (h *PacketHandler) ReadTxRx(port *Port, id byte, address, length uint16) ([]byte, DeviceError, error) {
	const op = "read"
	if err := checkUnicast(op, id); err != nil {
		return nil, DeviceError{}, err
	}
	st, err := h.txRx(op, port, h.codec.ReadPacket(id, address, length))
	if err != nil {
		return nil, DeviceError{}, err
	}
	return h.readData(op, st, length)
}

// Read1ByteTx sends a one-byte read request.
func (h *PacketHandler) Read1ByteTx(port *Port, id byte, address uint16) error {
	return h.ReadTx(port, id, address, 1)
}

// Read1ByteRx receives a one-byte read status.
func (h *PacketHandler) Read1ByteRx(port *Port, id byte) (uint8, DeviceError, error) {
	data, devErr, err := h.ReadRx(port, id, 1)
	return uint8(decodeLE(data)), devErr, err
}

// Read1ByteTxRx reads one byte.
func (h *PacketHandler) Read1ByteTxRx(port *Port, id byte, address uint16) (uint8, DeviceError, error) {
	data, devErr, err := h.ReadTxRx(port, id, address, 1)
	return uint8(decodeLE(data)), devErr, err
}

// Read2ByteTx sends a two-byte read request.
func (h *PacketHandler) Read2ByteTx(port *Port, id byte, address uint16) error {
	return h.ReadTx(port, id, address, 2)
}

// Read2ByteRx receives a two-byte read status.
func (h *PacketHandler) Read2ByteRx(port *Port, id byte) (uint16, DeviceError, error) {
	data, devErr, err := h.ReadRx(port, id, 2)
	return uint16(decodeLE(data)), devErr, err
}

// Read2ByteTxRx reads a little-endian word.
func (h *PacketHandler) Read2ByteTxRx(port *Port, id byte, address uint16) (uint16, DeviceError, error) {
	data, devErr, err := h.ReadTxRx(port, id, address, 2)
	return uint16(decodeLE(data)), devErr, err
}

// Read4ByteTx sends a four-byte read request.
func (h *PacketHandler) Read4ByteTx(port *Port, id byte, address uint16) error {
	return h.ReadTx(port, id, address, 4)
}

// Read4ByteRx receives a four-byte read status.
func (h *PacketHandler) Read4ByteRx(port *Port, id byte) (uint32, DeviceError, error) {
	data, devErr, err := h.ReadRx(port, id, 4)
	return decodeLE(data), devErr, err
}

// Read4ByteTxRx reads a little-endian double word.
func (h *PacketHandler) Read4ByteTxRx(port *Port, id byte, address uint16) (uint32, DeviceError, error) {
	data, devErr, err := h.ReadTxRx(port, id, address, 4)
	return decodeLE(data), devErr, err
}

// WriteTxOnly writes data starting at address without waiting for a status.
func (h *PacketHandler) WriteTxOnly(port *Port, id byte, address uint16, data []byte) error {
	return h.TxPacket(port, h.codec.WritePacket(InstWrite, id, address, data))
}

// WriteTxRx writes data starting at address and waits for the status.
func (h *PacketHandler) WriteTxRx(port *Port, id byte, address uint16, data []byte) (DeviceError, error) {
	return h.statusOnly("write", port, h.codec.WritePacket(InstWrite, id, address, data))
}

// Write1ByteTxOnly writes one byte without waiting for a status.
func (h *PacketHandler) Write1ByteTxOnly(port *Port, id byte, address uint16, value uint8) error {
	return h.WriteTxOnly(port, id, address, []byte{value})
}

// Write1ByteTxRx writes one byte.
func (h *PacketHandler) Write1ByteTxRx(port *Port, id byte, address uint16, value uint8) (DeviceError, error) {
	return h.WriteTxRx(port, id, address, []byte{value})
}

// Write2ByteTxOnly writes a little-endian word without waiting for a status.
func (h *PacketHandler) Write2ByteTxOnly(port *Port, id byte, address, value uint16) error {
	return h.WriteTxOnly(port, id, address, Uint16LE(value))
}

// Write2ByteTxRx writes a little-endian word.
func (h *PacketHandler) Write2ByteTxRx(port *Port, id byte, address, value uint16) (DeviceError, error) {
	return h.WriteTxRx(port, id, address, Uint16LE(value))
}

// Write4ByteTxOnly writes a little-endian double word without waiting for a status.
func (h *PacketHandler) Write4ByteTxOnly(port *Port, id byte, address uint16, value uint32) error {
	return h.WriteTxOnly(port, id, address, Uint32LE(value))
}

// Write4ByteTxRx writes a little-endian double word.
func (h *PacketHandler) Write4ByteTxRx(port *Port, id byte, address uint16, value uint32) (DeviceError, error) {
	return h.WriteTxRx(port, id, address, Uint32LE(value))
}

// RegWriteTxOnly queues a write until Action without waiting for a status.
func (h *PacketHandler) RegWriteTxOnly(port *Port, id byte, address uint16, data []byte) error {
	return h.TxPacket(port, h.codec.WritePacket(InstRegWrite, id, address, data))
}

// RegWriteTxRx queues a write until Action.
func (h *PacketHandler) RegWriteTxRx(port *Port, id byte, address uint16, data []byte) (DeviceError, error) {
	return h.statusOnly("reg_write", port, h.codec.WritePacket(InstRegWrite, id, address, data))
}

// SyncReadTx broadcasts a sync read request for ids and leaves the port
// busy for the responses.
func (h *PacketHandler) SyncReadTx(port *Port, address, length uint16, ids []byte) error {
	return h.syncReadTx("sync_read", InstSyncRead, port, address, length, ids)
}

// FastSyncReadTx is SyncReadTx asking for a single aggregate status.
func (h *PacketHandler) FastSyncReadTx(port *Port, address, length uint16, ids []byte) error {
	return h.syncReadTx("fast_sync_read", InstFastSyncRead, port, address, length, ids)
}

func (h *PacketHandler) syncReadTx(op string, inst Instruction, port *Port, address, length uint16, ids []byte) error {
	pkt, err := h.codec.SyncReadPacket(inst, address, length, ids)
	if err != nil {
		return newCommError(op, CommNotAvailable, nil)
	}
	if err := h.transmit(op, port, pkt); err != nil {
		return err
	}

	lengths := make([]int, len(ids))
	for i := range lengths {
		lengths[i] = int(length)
	}
	port.SetPacketTimeout(h.statusBurstLength(inst, lengths))
	return nil
}

// SyncWriteTxOnly broadcasts a sync write of [id][data...] records.
func (h *PacketHandler) SyncWriteTxOnly(port *Port, address, length uint16, param []byte) error {
	const op = "sync_write"
	if err := h.transmit(op, port, h.codec.SyncWritePacket(address, length, param)); err != nil {
		return err
	}
	port.release()
	return nil
}

// BulkReadTx broadcasts a bulk read built from codec descriptors. lengths
// lists the data length of every device, in order.
func (h *PacketHandler) BulkReadTx(port *Port, param []byte, lengths []int) error {
	return h.bulkReadTx("bulk_read", InstBulkRead, port, param, lengths)
}

// FastBulkReadTx is BulkReadTx asking for a single aggregate status.
func (h *PacketHandler) FastBulkReadTx(port *Port, param []byte, lengths []int) error {
	return h.bulkReadTx("fast_bulk_read", InstFastBulkRead, port, param, lengths)
}

func (h *PacketHandler) bulkReadTx(op string, inst Instruction, port *Port, param []byte, lengths []int) error {
	pkt, err := h.codec.BulkReadPacket(inst, param)
	if err != nil {
		return newCommError(op, CommNotAvailable, nil)
	}
	if err := h.transmit(op, port, pkt); err != nil {
		return err
	}
	port.SetPacketTimeout(h.statusBurstLength(inst, lengths))
	return nil
}

// BulkWriteTxOnly broadcasts a bulk write. Protocol 2.0 only.
func (h *PacketHandler) BulkWriteTxOnly(port *Port, param []byte) error {
	const op = "bulk_write"
	pkt, err := h.codec.BulkWritePacket(param)
	if err != nil {
		return newCommError(op, CommNotAvailable, nil)
	}
	if err := h.transmit(op, port, pkt); err != nil {
		return err
	}
	port.release()
	return nil
}

// statusBurstLength is the number of bytes the devices send back for a
// group read.
func (h *PacketHandler) statusBurstLength(inst Instruction, lengths []int) int {
	if inst == InstFastSyncRead || inst == InstFastBulkRead {
		return fastStatusLength(lengths)
	}
	total := 0
	for _, l := range lengths {
		total += h.codec.StatusLength(l)
	}
	return total
}
