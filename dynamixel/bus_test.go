package dynamixel

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

func newTestBus(t *testing.T, version ProtocolVersion, mock *transports.MockTransport) *Bus {
	t.Helper()
	if mock.Clock == nil {
		mock.Clock = clock.NewMock()
	}
	bus, err := NewBus(BusConfig{
		Config:    Config{Protocol: version},
		Transport: mock,
		Clock:     mock.Clock,
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

// respondTo answers pings and model number reads from the given ids.
func respondTo(t *testing.T, version ProtocolVersion, model uint16, ids ...byte) func([]byte) []byte {
	codec, err := NewCodec(version)
	test.That(t, err, test.ShouldBeNil)
	return func(frame []byte) []byte {
		id := frame[2]
		inst := Instruction(frame[4])
		if version == Protocol2 {
			id, inst = frame[4], Instruction(frame[7])
		}
		for _, want := range ids {
			if id != want {
				continue
			}
			var params []byte
			switch {
			case inst == InstPing && version == Protocol2:
				params = append(Uint16LE(model), 0x2A)
			case inst == InstRead:
				params = Uint16LE(model)
			}
			st, err := codec.EncodeStatus(StatusPacket{ID: id, Params: params})
			test.That(t, err, test.ShouldBeNil)
			return st
		}
		return nil
	}
}

func TestBus_Ping(t *testing.T) {
	mock := &transports.MockTransport{ReadData: []byte{
		0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC, // Ping response
		0xFF, 0xFF, 0x01, 0x04, 0x00, 0x09, 0x03, 0xEE, // Model number 777 (0x0309)
	}}
	bus := newTestBus(t, Protocol1, mock)

	ctx := context.Background()
	modelNum, err := bus.Ping(ctx, 1)
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if modelNum != 777 {
		t.Errorf("model number: got %d, want 777", modelNum)
	}

	// Expected: FF FF 01 02 01 FB
	if len(mock.WriteData) < 6 {
		t.Fatalf("no packet written")
	}
	if Instruction(mock.WriteData[4]) != InstPing {
		t.Errorf("wrong instruction: got %02X, want %02X", mock.WriteData[4], InstPing)
	}
}

func TestBus_Read(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0, 0x00, 0x08, 0x00, 0x00)}
	bus := newTestBus(t, Protocol2, mock)

	data, err := bus.Read(context.Background(), 1, 132, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0x00, 0x08, 0x00, 0x00})
}

func TestBus_ReadDeviceError(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, ErrCodeAccess, 0x00)}
	bus := newTestBus(t, Protocol2, mock)

	data, err := bus.Read(context.Background(), 1, 132, 1)
	test.That(t, data, test.ShouldResemble, []byte{0x00})

	devErr, ok := GetDeviceStatusError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, devErr.ID, test.ShouldEqual, byte(1))
	test.That(t, devErr.Status.Code, test.ShouldEqual, ErrCodeAccess)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device 1 read failed")
}

func TestBus_Write(t *testing.T) {
	mock := &transports.MockTransport{ReadData: status(t, Protocol2, 1, 0)}
	bus := newTestBus(t, Protocol2, mock)

	err := bus.Write(context.Background(), 1, 116, Uint32LE(2048))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if Instruction(mock.WriteData[7]) != InstWrite {
		t.Errorf("wrong instruction: got %02X, want %02X", mock.WriteData[7], InstWrite)
	}
	if mock.WriteData[8] != 116 {
		t.Errorf("wrong address: got %d, want 116", mock.WriteData[8])
	}
}

func TestBus_RegWriteAction(t *testing.T) {
	mock := &transports.MockTransport{Respond: respondTo(t, Protocol2, 1030, 1, 2)}
	bus := newTestBus(t, Protocol2, mock)
	ctx := context.Background()

	test.That(t, bus.RegWrite(ctx, 1, 116, Uint32LE(1024)), test.ShouldBeNil)
	test.That(t, bus.RegWrite(ctx, 2, 116, Uint32LE(3072)), test.ShouldBeNil)
	mock.WriteData = nil
	test.That(t, bus.Action(ctx), test.ShouldBeNil)
	test.That(t, mock.WriteData[4], test.ShouldEqual, byte(BroadcastID))
	test.That(t, Instruction(mock.WriteData[7]), test.ShouldEqual, InstAction)
}

func TestBus_Closed(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, Protocol2, mock)
	_, handle := bus.NewSyncWrite(116, 4)
	test.That(t, bus.Groups().Len(), test.ShouldEqual, 1)

	test.That(t, bus.Close(), test.ShouldBeNil)
	test.That(t, bus.Close(), test.ShouldBeNil)
	test.That(t, mock.Closed, test.ShouldBeTrue)
	test.That(t, bus.Groups().Len(), test.ShouldEqual, 0)
	_, err := bus.Groups().Group(handle)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = bus.Ping(context.Background(), 1)
	test.That(t, errors.Is(err, ErrBusClosed), test.ShouldBeTrue)
}

func TestBus_CancelledContext(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, Protocol2, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Read(ctx, 1, 132, 4)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	_, err = bus.Scan(ctx, 0, 10)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, mock.WriteData, test.ShouldBeEmpty)
}

func TestBus_Scan(t *testing.T) {
	mock := &transports.MockTransport{Respond: respondTo(t, Protocol1, 12, 1, 3)}
	bus := newTestBus(t, Protocol1, mock)

	found, err := bus.Scan(context.Background(), 0, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, found, test.ShouldResemble, []FoundDevice{
		{ID: 1, PingInfo: PingInfo{ModelNumber: 12}, Status: DeviceError{Version: Protocol1}},
		{ID: 3, PingInfo: PingInfo{ModelNumber: 12}, Status: DeviceError{Version: Protocol1}},
	})

	_, err = bus.Scan(context.Background(), 5, 2)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = bus.Scan(context.Background(), 0, BroadcastID)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBus_ScanStopsOnLinkFailure(t *testing.T) {
	t.Run("port busy", func(t *testing.T) {
		mock := &transports.MockTransport{Respond: respondTo(t, Protocol1, 12, 1, 3)}
		bus := newTestBus(t, Protocol1, mock)
		test.That(t, bus.Port().acquire(), test.ShouldBeTrue)
		defer bus.Port().release()

		found, err := bus.Scan(context.Background(), 0, 5)
		shouldHaveResult(t, err, CommPortBusy)
		test.That(t, found, test.ShouldBeEmpty)
		test.That(t, mock.WriteData, test.ShouldBeEmpty)
	})

	t.Run("read error", func(t *testing.T) {
		mock := &transports.MockTransport{ReadErr: errors.New("device unplugged")}
		bus := newTestBus(t, Protocol2, mock)

		_, err := bus.Scan(context.Background(), 0, 5)
		shouldHaveResult(t, err, CommRxFail)
		test.That(t, err.Error(), test.ShouldContainSubstring, "device unplugged")
	})

	t.Run("corrupt status counts as empty", func(t *testing.T) {
		bad := status(t, Protocol2, 0, 0, 0x06, 0x04, 0x26)
		bad[len(bad)-1] ^= 0xFF
		mock := &transports.MockTransport{ReadData: bad}
		bus := newTestBus(t, Protocol2, mock)

		found, err := bus.Scan(context.Background(), 0, 2)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, found, test.ShouldBeEmpty)
	})
}

func TestBus_Discover(t *testing.T) {
	t.Run("broadcast ping", func(t *testing.T) {
		mock := &transports.MockTransport{ReadData: concat(
			status(t, Protocol2, 7, 0, 0x06, 0x04, 0x26),
			pingStatusV2,
		)}
		bus := newTestBus(t, Protocol2, mock)

		found, err := bus.Discover(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, found, test.ShouldHaveLength, 2)
		test.That(t, found[0].ID, test.ShouldEqual, byte(1))
		test.That(t, found[1].ID, test.ShouldEqual, byte(7))
		test.That(t, found[1].ModelNumber, test.ShouldEqual, uint16(1030))
	})

	t.Run("empty bus", func(t *testing.T) {
		mock := &transports.MockTransport{}
		bus := newTestBus(t, Protocol2, mock)

		found, err := bus.Discover(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, found, test.ShouldBeEmpty)
	})
}

func TestBus_Groups(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, Protocol2, mock)

	sw, swHandle := bus.NewSyncWrite(116, 4)
	_, brHandle := bus.NewBulkRead()

	got, err := GroupAs[*SyncWrite](bus.Groups(), swHandle)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, sw)
	test.That(t, got.Port(), test.ShouldEqual, bus.Port())

	_, err = GroupAs[*SyncWrite](bus.Groups(), brHandle)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, sw.AddParam(1, Uint32LE(2048)), test.ShouldBeTrue)
	test.That(t, sw.TxPacket(), test.ShouldBeNil)
	test.That(t, Instruction(mock.WriteData[7]), test.ShouldEqual, InstSyncWrite)
}

func TestBus_SharedPort(t *testing.T) {
	mock := &transports.MockTransport{Clock: clock.NewMock()}
	ports := NewPortRegistry()
	cfg := BusConfig{
		Config:    Config{Port: "/dev/ttyDXL"},
		Transport: mock,
		Ports:     ports,
		Clock:     mock.Clock,
	}

	cfg.Protocol = Protocol1
	b1, err := NewBus(cfg)
	test.That(t, err, test.ShouldBeNil)
	cfg.Protocol = Protocol2
	b2, err := NewBus(cfg)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, b1.Port(), test.ShouldEqual, b2.Port())
	test.That(t, ports.Len(), test.ShouldEqual, 1)
	test.That(t, b1.Protocol(), test.ShouldEqual, Protocol1)
	test.That(t, b2.Protocol(), test.ShouldEqual, Protocol2)

	// Closing one bus leaves the shared port to the other.
	test.That(t, b1.Close(), test.ShouldBeNil)
	test.That(t, mock.Closed, test.ShouldBeFalse)
	test.That(t, b2.Port().IsOpen(), test.ShouldBeTrue)

	mock.Respond = respondTo(t, Protocol2, 1030, 1)
	model, err := b2.Ping(context.Background(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model, test.ShouldEqual, uint16(1030))

	test.That(t, b2.Close(), test.ShouldBeNil)
	test.That(t, mock.Closed, test.ShouldBeFalse)
	test.That(t, ports.CloseAll(), test.ShouldBeNil)
	test.That(t, mock.Closed, test.ShouldBeTrue)
}

func TestNewBus_Errors(t *testing.T) {
	_, err := NewBus(BusConfig{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "either Transport or Port")

	_, err = NewBus(BusConfig{Config: Config{Protocol: 3}, Transport: &transports.MockTransport{}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewBus(BusConfig{
		Config: Config{Port: "/dev/ttyDXL"},
		Ports: NewPortRegistry(WithOpener(func(string, int) (Transport, error) {
			return nil, errors.New("no such device")
		})),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no such device")
}

func TestDevice(t *testing.T) {
	mock := &transports.MockTransport{ReadData: concat(
		status(t, Protocol2, 5, 0, 0x00, 0x08, 0x00, 0x00),
		status(t, Protocol2, 5, 0),
		status(t, Protocol2, 5, 0),
		status(t, Protocol2, 5, ErrCodeResultFail),
	)}
	bus := newTestBus(t, Protocol2, mock)
	dev := bus.Device(5)
	ctx := context.Background()

	test.That(t, dev.ID(), test.ShouldEqual, byte(5))

	pos, err := dev.ReadUint32(ctx, 132)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, uint32(2048))

	test.That(t, dev.WriteUint16(ctx, 84, 800), test.ShouldBeNil)
	test.That(t, dev.Reboot(ctx), test.ShouldBeNil)

	err = dev.FactoryReset(ctx, ResetExceptIDBaud)
	devErr, ok := GetDeviceStatusError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, devErr.Op, test.ShouldEqual, "factory_reset")
	test.That(t, devErr.Status.Code, test.ShouldEqual, ErrCodeResultFail)
}
