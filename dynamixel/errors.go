package dynamixel

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CommResult is the outcome of one packet transaction on a port.
type CommResult int

// Communication results. Exactly one is produced per transaction.
const (
	CommSuccess      CommResult = 0
	CommPortBusy     CommResult = -1000
	CommTxFail       CommResult = -1001
	CommRxFail       CommResult = -1002
	CommTxError      CommResult = -2000
	CommRxWaiting    CommResult = -3000
	CommRxTimeout    CommResult = -3001
	CommRxCorrupt    CommResult = -3002
	CommNotAvailable CommResult = -9000
)

func (r CommResult) String() string {
	switch r {
	case CommSuccess:
		return "communication success"
	case CommPortBusy:
		return "port is in use"
	case CommTxFail:
		return "failed to transmit instruction packet"
	case CommRxFail:
		return "failed to receive status packet"
	case CommTxError:
		return "incorrect instruction packet"
	case CommRxWaiting:
		return "receiving status packet"
	case CommRxTimeout:
		return "no status packet"
	case CommRxCorrupt:
		return "incorrect status packet"
	case CommNotAvailable:
		return "not supported by this protocol version"
	default:
		return fmt.Sprintf("unknown communication result %d", int(r))
	}
}

// Sentinel errors, one per failing CommResult. Match with errors.Is.
var (
	ErrPortBusy     = &CommError{Result: CommPortBusy}
	ErrTxFail       = &CommError{Result: CommTxFail}
	ErrRxFail       = &CommError{Result: CommRxFail}
	ErrTxError      = &CommError{Result: CommTxError}
	ErrRxWaiting    = &CommError{Result: CommRxWaiting}
	ErrRxTimeout    = &CommError{Result: CommRxTimeout}
	ErrRxCorrupt    = &CommError{Result: CommRxCorrupt}
	ErrNotAvailable = &CommError{Result: CommNotAvailable}
)

// Errors raised outside a packet transaction.
var (
	ErrBusClosed  = errors.New("bus is closed")
	ErrInvalidID  = errors.New("invalid device ID")
	ErrPortClosed = errors.New("port is not open")
)

// CommError represents a communication-level failure.
type CommError struct {
	Op     string     // Operation that failed (e.g., "ping", "sync_read")
	Result CommResult // Outcome code
	Err    error      // Underlying transport error, if any
}

func newCommError(op string, result CommResult, err error) *CommError {
	return &CommError{Op: op, Result: result, Err: err}
}

func (e *CommError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Result.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a CommError with the same result. A target
// carrying an Op must match it too.
func (e *CommError) Is(target error) bool {
	t, ok := target.(*CommError)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return t.Result == e.Result
}

// ResultOf returns the CommResult carried by err. A nil error is CommSuccess and
// an error from outside the packet layer is CommRxFail.
func ResultOf(err error) CommResult {
	if err == nil {
		return CommSuccess
	}
	var ce *CommError
	if errors.As(err, &ce) {
		return ce.Result
	}
	return CommRxFail
}

// IsTimeout returns true if the error is a receive timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRxTimeout)
}

// DeviceError is the error byte reported by a responding device. Its meaning
// depends on the protocol version that carried it.
type DeviceError struct {
	Version ProtocolVersion
	Code    byte
}

// Protocol 1.0 error bits.
const (
	ErrBitVoltage     byte = 1 << 0
	ErrBitAngleLimit  byte = 1 << 1
	ErrBitOverheat    byte = 1 << 2
	ErrBitRange       byte = 1 << 3
	ErrBitChecksum    byte = 1 << 4
	ErrBitOverload    byte = 1 << 5
	ErrBitInstruction byte = 1 << 6
)

// Protocol 2.0 error codes. ErrBitAlert is or'ed onto any of them when the
// device is in a hardware error state.
const (
	ErrCodeResultFail  byte = 1
	ErrCodeInstruction byte = 2
	ErrCodeCRC         byte = 3
	ErrCodeDataRange   byte = 4
	ErrCodeDataLength  byte = 5
	ErrCodeDataLimit   byte = 6
	ErrCodeAccess      byte = 7

	ErrBitAlert byte = 0x80
)

var v1ErrorNames = []struct {
	bit  byte
	name string
}{
	{ErrBitVoltage, "input voltage"},
	{ErrBitAngleLimit, "angle limit"},
	{ErrBitOverheat, "overheat"},
	{ErrBitRange, "out of range"},
	{ErrBitChecksum, "checksum"},
	{ErrBitOverload, "overload"},
	{ErrBitInstruction, "instruction"},
}

var v2ErrorNames = map[byte]string{
	ErrCodeResultFail:  "failed to process the instruction packet",
	ErrCodeInstruction: "undefined instruction or action without reg_write",
	ErrCodeCRC:         "CRC does not match",
	ErrCodeDataRange:   "data is out of range",
	ErrCodeDataLength:  "data is shorter than the data length of the address",
	ErrCodeDataLimit:   "data is out of the range of the setting",
	ErrCodeAccess:      "write to read-only or read from write-only address",
}

// HasError reports whether the device flagged any fault.
func (e DeviceError) HasError() bool {
	return e.Code != 0
}

// Alert reports the protocol 2.0 hardware alert bit.
func (e DeviceError) Alert() bool {
	return e.Version == Protocol2 && e.Code&ErrBitAlert != 0
}

func (e DeviceError) Error() string {
	if e.Code == 0 {
		return "no error"
	}
	if e.Version == Protocol1 {
		var msgs []string
		for _, n := range v1ErrorNames {
			if e.Code&n.bit != 0 {
				msgs = append(msgs, n.name)
			}
		}
		if e.Code&0x80 != 0 {
			msgs = append(msgs, "unknown bit 0x80")
		}
		return strings.Join(msgs, ", ") + " error"
	}

	var msgs []string
	if e.Code&ErrBitAlert != 0 {
		msgs = append(msgs, "device is in hardware error state")
	}
	if code := e.Code &^ ErrBitAlert; code != 0 {
		if name, ok := v2ErrorNames[code]; ok {
			msgs = append(msgs, name)
		} else {
			msgs = append(msgs, fmt.Sprintf("unknown error code %d", code))
		}
	}
	return strings.Join(msgs, "; ")
}

// DeviceStatusError is a device-reported fault promoted to an error by the
// Bus and Device convenience layers.
type DeviceStatusError struct {
	ID     byte
	Op     string
	Status DeviceError
}

func (e *DeviceStatusError) Error() string {
	return fmt.Sprintf("device %d %s failed: %s", e.ID, e.Op, e.Status.Error())
}

// GetDeviceStatusError extracts a DeviceStatusError from an error chain, if present.
func GetDeviceStatusError(err error) (*DeviceStatusError, bool) {
	var devErr *DeviceStatusError
	if errors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}
