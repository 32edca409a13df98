package dynamixel

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PacketHandler runs packet transactions on ports using one protocol codec.
// The codec is chosen once, at construction.
type PacketHandler struct {
	codec  Codec
	logger *zap.SugaredLogger
}

// NewPacketHandler returns a handler for the given protocol version.
func NewPacketHandler(version ProtocolVersion, logger *zap.SugaredLogger) (*PacketHandler, error) {
	codec, err := NewCodec(version)
	if err != nil {
		return nil, err
	}
	return NewPacketHandlerWithCodec(codec, logger), nil
}

// NewPacketHandlerWithCodec returns a handler using codec.
func NewPacketHandlerWithCodec(codec Codec, logger *zap.SugaredLogger) *PacketHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PacketHandler{codec: codec, logger: logger}
}

// Codec returns the protocol codec.
func (h *PacketHandler) Codec() Codec {
	return h.codec
}

// Version returns the protocol version.
func (h *PacketHandler) Version() ProtocolVersion {
	return h.codec.Version()
}

// deviceError wraps a status error byte.
func (h *PacketHandler) deviceError(code byte) DeviceError {
	return DeviceError{Version: h.codec.Version(), Code: code}
}

// TxPacket transmits pkt without waiting for a status.
func (h *PacketHandler) TxPacket(port *Port, pkt Packet) error {
	if err := h.transmit("tx", port, pkt); err != nil {
		return err
	}
	port.release()
	return nil
}

// RxPacket receives one status packet and frees the port.
func (h *PacketHandler) RxPacket(port *Port) (StatusPacket, error) {
	defer port.release()
	return h.receive("rx", port, false)
}

// TxRxPacket transmits pkt and waits for the matching status. Broadcasts
// other than reads, and Action, return immediately after transmission with
// an empty status.
func (h *PacketHandler) TxRxPacket(port *Port, pkt Packet) (StatusPacket, error) {
	return h.txRx("txrx", port, pkt)
}

// transmit takes the port and writes pkt. On success the port stays busy
// and the caller must release it.
func (h *PacketHandler) transmit(op string, port *Port, pkt Packet) error {
	if !port.acquire() {
		return newCommError(op, CommPortBusy, nil)
	}

	frame, err := h.codec.EncodeInstruction(pkt)
	if err != nil {
		port.release()
		return newCommError(op, CommTxError, err)
	}

	n, err := port.write(frame)
	if err != nil {
		port.release()
		return newCommError(op, CommTxFail, err)
	}
	if n != len(frame) {
		port.release()
		return newCommError(op, CommTxFail, errors.Errorf("incomplete write: %d of %d bytes", n, len(frame)))
	}
	return nil
}

func (h *PacketHandler) txRx(op string, port *Port, pkt Packet) (StatusPacket, error) {
	if err := h.transmit(op, port, pkt); err != nil {
		return StatusPacket{}, err
	}
	defer port.release()

	if !expectsStatus(pkt) {
		return StatusPacket{}, nil
	}

	port.SetPacketTimeout(h.codec.StatusLength(h.codec.ReadLength(pkt)))
	if pkt.ID == BroadcastID {
		return h.receive(op, port, false)
	}
	return h.receiveFrom(op, port, pkt.ID)
}

// receiveFrom receives a status and checks it came from id. A stale status
// from another device gets exactly one more receive.
func (h *PacketHandler) receiveFrom(op string, port *Port, id byte) (StatusPacket, error) {
	st, err := h.receive(op, port, false)
	if err != nil || st.ID == id {
		return st, err
	}

	h.logger.Debugw("status from unexpected device, receiving again",
		"port", port.Name(), "want", id, "got", st.ID)
	st, err = h.receive(op, port, false)
	if err != nil {
		return st, err
	}
	if st.ID != id {
		return st, newCommError(op, CommRxCorrupt,
			errors.Errorf("status from device %d, want %d", st.ID, id))
	}
	return st, nil
}

// receiveAggregate receives status packets until one carries the broadcast
// id, as sent by devices answering a fast read.
func (h *PacketHandler) receiveAggregate(op string, port *Port) (StatusPacket, error) {
	for {
		st, err := h.receive(op, port, true)
		if err != nil {
			return st, err
		}
		if st.ID == BroadcastID {
			return st, nil
		}
		h.logger.Debugw("discarding unicast status during fast read", "port", port.Name(), "id", st.ID)
	}
}

// receive reads one status packet before the port deadline. Leading noise
// and implausible headers are dropped and the search resumes.
func (h *PacketHandler) receive(op string, port *Port, skipStuffing bool) (StatusPacket, error) {
	c := h.codec
	buf := make([]byte, 0, c.MaxPacketLength())
	wait := c.MinStatusLength()

	for {
		if len(buf) < wait {
			n, err := port.read(buf[len(buf):wait])
			if err != nil {
				return StatusPacket{}, newCommError(op, CommRxFail, err)
			}
			buf = buf[:len(buf)+n]
		}

		if len(buf) < wait {
			if port.IsPacketTimeout() {
				if len(buf) == 0 {
					return StatusPacket{}, newCommError(op, CommRxTimeout, nil)
				}
				return StatusPacket{}, newCommError(op, CommRxCorrupt,
					errors.Errorf("incomplete status: %d of %d bytes", len(buf), wait))
			}
			continue
		}

		if idx := c.FindHeader(buf); idx > 0 {
			h.logger.Debugw("discarding bytes before header", "port", port.Name(), "count", idx)
			buf = append(buf[:0], buf[idx:]...)
			continue
		}

		if !c.HeaderPlausible(buf) {
			buf = append(buf[:0], buf[1:]...)
			continue
		}

		if need := c.FrameLength(buf); need != wait {
			wait = need
			continue
		}

		frame := buf[:wait]
		if !c.VerifyFrame(frame) {
			h.logger.Debugw("status checksum mismatch", "port", port.Name(), "frame", frame)
			return StatusPacket{}, newCommError(op, CommRxCorrupt, errors.New("checksum mismatch"))
		}
		return c.DecodeStatus(frame, skipStuffing), nil
	}
}
