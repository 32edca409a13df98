package dynamixel

import (
	"testing"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

// newTestPort opens a port on mock, driven by a mock clock.
func newTestPort(t *testing.T, mock *transports.MockTransport) *Port {
	t.Helper()
	if mock.Clock == nil {
		mock.Clock = clock.NewMock()
	}
	p := NewPort("/dev/ttyTEST",
		WithTransport(mock),
		WithClock(mock.Clock),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	test.That(t, p.Open(), test.ShouldBeNil)
	return p
}

func newTestHandler(t *testing.T, version ProtocolVersion) *PacketHandler {
	t.Helper()
	h, err := NewPacketHandler(version, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	return h
}

// status frames a status packet the way a device on the bus would send it.
func status(t *testing.T, version ProtocolVersion, id, errByte byte, params ...byte) []byte {
	t.Helper()
	codec, err := NewCodec(version)
	test.That(t, err, test.ShouldBeNil)
	frame, err := codec.EncodeStatus(StatusPacket{ID: id, Error: errByte, Params: params})
	test.That(t, err, test.ShouldBeNil)
	return frame
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// shouldHaveResult asserts err carries want.
func shouldHaveResult(t *testing.T, err error, want CommResult) {
	t.Helper()
	test.That(t, ResultOf(err), test.ShouldEqual, want)
}
