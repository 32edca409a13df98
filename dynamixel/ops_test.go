package dynamixel

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

func TestPing_Protocol1ReadsModelNumber(t *testing.T) {
	mock := &transports.MockTransport{ReadData: concat(
		status(t, Protocol1, 1, 0),
		status(t, Protocol1, 1, 0, 0x0C, 0x00),
	)}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol1)

	model, devErr, err := h.Ping(port, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devErr.HasError(), test.ShouldBeFalse)
	test.That(t, model, test.ShouldEqual, uint16(12))
	test.That(t, mock.WriteData, test.ShouldResemble, []byte{
		0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB,
		0xFF, 0xFF, 0x01, 0x04, 0x02, 0x00, 0x02, 0xF6,
	})
}

func TestPingInfo_Protocol2(t *testing.T) {
	mock := &transports.MockTransport{ReadData: append([]byte(nil), pingStatusV2...)}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	info, devErr, err := h.PingInfo(port, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devErr.HasError(), test.ShouldBeFalse)
	test.That(t, info, test.ShouldResemble, PingInfo{ModelNumber: 1030, Firmware: 38})
}

func TestPing_BroadcastIDRejected(t *testing.T) {
	mock := &transports.MockTransport{}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	_, _, err := h.Ping(port, BroadcastID)
	shouldHaveResult(t, err, CommNotAvailable)
	test.That(t, errors.Is(err, ErrInvalidID), test.ShouldBeTrue)
	test.That(t, mock.WriteData, test.ShouldBeEmpty)
}

func TestRead(t *testing.T) {
	t.Run("four bytes", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0, 0x00, 0x08, 0x00, 0x00)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		v, devErr, err := h.Read4ByteTxRx(port, 1, 132)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, devErr.HasError(), test.ShouldBeFalse)
		test.That(t, v, test.ShouldEqual, uint32(2048))
		test.That(t, mock.WriteData, test.ShouldResemble, []byte{
			0xFF, 0xFF, 0xFD, 0x00, 0x01, 0x07, 0x00, 0x02, 0x84, 0x00, 0x04, 0x00, 0x1D, 0x15,
		})
	})

	t.Run("device error is reported with the data", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, ErrBitAlert|ErrCodeDataRange, 0x2A)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		v, devErr, err := h.Read1ByteTxRx(port, 1, 146)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, uint8(42))
		test.That(t, devErr.HasError(), test.ShouldBeTrue)
		test.That(t, devErr.Alert(), test.ShouldBeTrue)
		test.That(t, devErr.Error(), test.ShouldContainSubstring, "out of range")
	})

	t.Run("short status", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0, 0x00, 0x08)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		_, _, err := h.Read4ByteTxRx(port, 1, 132)
		shouldHaveResult(t, err, CommRxCorrupt)
	})

	t.Run("refused read carries the device error", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, ErrCodeAccess)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		v, devErr, err := h.Read4ByteTxRx(port, 1, 132)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, uint32(0))
		test.That(t, devErr.Code, test.ShouldEqual, ErrCodeAccess)
		test.That(t, devErr.Error(), test.ShouldContainSubstring, "read-only")
	})

	t.Run("refused split read", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		test.That(t, h.Read2ByteTx(port, 1, 36), test.ShouldBeNil)
		mock.ReadData = status(t, Protocol1, 1, ErrBitRange)
		_, devErr, err := h.Read2ByteRx(port, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, devErr.HasError(), test.ShouldBeTrue)
		test.That(t, port.InUse(), test.ShouldBeFalse)
	})

	t.Run("split transaction", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		test.That(t, h.Read2ByteTx(port, 1, 36), test.ShouldBeNil)
		test.That(t, port.InUse(), test.ShouldBeTrue)
		test.That(t, port.PacketTimeout(), test.ShouldEqual, port.TxTimePerByte()*8+2*DefaultLatencyTimer+2e6)

		mock.ReadData = status(t, Protocol1, 1, 0, 0x00, 0x02)
		v, _, err := h.Read2ByteRx(port, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, uint16(512))
		test.That(t, port.InUse(), test.ShouldBeFalse)
	})
}

func TestWrite(t *testing.T) {
	t.Run("protocol 1 word", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol1, 1, 0)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		devErr, err := h.Write2ByteTxRx(port, 1, 0x1E, 512)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, devErr.HasError(), test.ShouldBeFalse)
		test.That(t, mock.WriteData, test.ShouldResemble, []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x1E, 0x00, 0x02, 0xD6})
	})

	t.Run("protocol 1 device error", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol1, 1, ErrBitAngleLimit|ErrBitOverload)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		devErr, err := h.Write1ByteTxRx(port, 1, 0x18, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, devErr.HasError(), test.ShouldBeTrue)
		test.That(t, devErr.Error(), test.ShouldEqual, "angle limit, overload error")
	})

	t.Run("protocol 2 double word without status", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		test.That(t, h.Write4ByteTxOnly(port, 1, 116, 2048), test.ShouldBeNil)
		test.That(t, mock.WriteData[7:14], test.ShouldResemble, []byte{0x03, 0x74, 0x00, 0x00, 0x08, 0x00, 0x00})
		test.That(t, port.InUse(), test.ShouldBeFalse)
	})
}

func TestRegWriteAndAction(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0)}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	_, err := h.RegWriteTxRx(port, 1, 116, Uint32LE(1024))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mock.WriteData[7], test.ShouldEqual, byte(InstRegWrite))

	mock.WriteData = nil
	test.That(t, h.Action(port, BroadcastID), test.ShouldBeNil)
	test.That(t, mock.WriteData[4], test.ShouldEqual, byte(BroadcastID))
	test.That(t, mock.WriteData[7], test.ShouldEqual, byte(InstAction))
	test.That(t, port.InUse(), test.ShouldBeFalse)
}

func TestActionNeverWaits(t *testing.T) {
	mock := &transports.MockTransport{}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	test.That(t, h.Action(port, 1), test.ShouldBeNil)
	test.That(t, mock.WriteData[4], test.ShouldEqual, byte(1))
}

func TestReboot(t *testing.T) {
	t.Run("protocol 1", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		_, err := h.Reboot(port, 1)
		shouldHaveResult(t, err, CommNotAvailable)
		test.That(t, mock.WriteData, test.ShouldBeEmpty)
		test.That(t, port.InUse(), test.ShouldBeFalse)
	})

	t.Run("protocol 2", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		devErr, err := h.Reboot(port, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, devErr.HasError(), test.ShouldBeFalse)
		test.That(t, mock.WriteData[7], test.ShouldEqual, byte(InstReboot))
	})
}

func TestClearMultiTurn(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0)}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	_, err := h.ClearMultiTurn(port, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mock.WriteData[7:13], test.ShouldResemble, []byte{0x10, 0x01, 0x44, 0x58, 0x4C, 0x22})

	h1 := newTestHandler(t, Protocol1)
	_, err = h1.ClearMultiTurn(port, 1)
	shouldHaveResult(t, err, CommNotAvailable)
}

func TestFactoryReset(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0)}
	port := newTestPort(t, mock)
	h := newTestHandler(t, Protocol2)

	_, err := h.FactoryReset(port, 1, ResetExceptID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mock.WriteData[5:9], test.ShouldResemble, []byte{0x04, 0x00, 0x06, ResetExceptID})
}

func TestBroadcastPing(t *testing.T) {
	t.Run("collects every answer", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: concat(
			pingStatusV2,
			[]byte{0x00, 0x00},
			status(t, Protocol2, 3, 0, 0x2C, 0x01, 0x2A),
		)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		found, err := h.BroadcastPing(port)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, found, test.ShouldResemble, map[byte]PingInfo{
			1: {ModelNumber: 1030, Firmware: 38},
			3: {ModelNumber: 300, Firmware: 42},
		})
		test.That(t, mock.WriteData[4], test.ShouldEqual, byte(BroadcastID))
		test.That(t, port.InUse(), test.ShouldBeFalse)
	})

	t.Run("corrupt answer is skipped", func(t *testing.T) {
		bad := status(t, Protocol2, 2, 0, 0x2C, 0x01, 0x2A)
		bad[len(bad)-2] ^= 0xFF
		mock := &transports.MockTransport{ReadData: concat(bad, pingStatusV2)}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		found, err := h.BroadcastPing(port)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, found, test.ShouldHaveLength, 1)
		test.That(t, found[1].ModelNumber, test.ShouldEqual, uint16(1030))
	})

	t.Run("no answer", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol2)

		_, err := h.BroadcastPing(port)
		shouldHaveResult(t, err, CommRxTimeout)
	})

	t.Run("protocol 1", func(t *testing.T) {
		mock := &transports.MockTransport{}
		port := newTestPort(t, mock)
		h := newTestHandler(t, Protocol1)

		_, err := h.BroadcastPing(port)
		shouldHaveResult(t, err, CommNotAvailable)
		test.That(t, mock.WriteData, test.ShouldBeEmpty)
	})
}
