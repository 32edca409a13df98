package transports

import (
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/pkg/errors"
)

// rs485PollInterval is how long a single read may block. Longer waits are
// made of several reads.
const rs485PollInterval = 5 * time.Millisecond

// RS485Transport implements Transport on a serial port in kernel RS-485
// mode, letting the driver toggle RTS around every transmission.
type RS485Transport struct {
	mu     sync.Mutex
	config serial.Config
	port   serial.Port
}

// RS485Config holds configuration for opening an RS-485 port.
type RS485Config struct {
	Port               string
	BaudRate           int
	DelayRTSBeforeSend time.Duration
	DelayRTSAfterSend  time.Duration
	RTSHighDuringSend  bool
	RTSHighAfterSend   bool
	RxDuringTx         bool
}

// OpenRS485 opens a serial port with RS-485 line control enabled.
func OpenRS485(cfg RS485Config) (*RS485Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}

	t := &RS485Transport{
		config: serial.Config{
			Address:  cfg.Port,
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  rs485PollInterval,
			RS485: serial.RS485Config{
				Enabled:            true,
				DelayRtsBeforeSend: cfg.DelayRTSBeforeSend,
				DelayRtsAfterSend:  cfg.DelayRTSAfterSend,
				RtsHighDuringSend:  cfg.RTSHighDuringSend,
				RtsHighAfterSend:   cfg.RTSHighAfterSend,
				RxDuringTx:         cfg.RxDuringTx,
			},
		},
	}
	if err := t.reopen(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RS485Transport) reopen() error {
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	port, err := serial.Open(&t.config)
	if err != nil {
		return errors.Wrapf(err, "failed to open RS-485 port %s", t.config.Address)
	}
	t.port = port
	return nil
}

// Read waits at most one poll interval. A timeout is reported as zero bytes.
func (t *RS485Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.port.Read(p)
	if errors.Is(err, serial.ErrTimeout) {
		return n, nil
	}
	return n, err
}

func (t *RS485Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Write(p)
}

func (t *RS485Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// SetReadTimeout is a no-op: the port polls at a fixed interval and the
// caller loops until its own deadline.
func (t *RS485Transport) SetReadTimeout(time.Duration) error {
	return nil
}

// SetBaudRate reopens the port at the new speed.
func (t *RS485Transport) SetBaudRate(baudRate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.BaudRate = baudRate
	return t.reopen()
}

// Flush drains whatever is waiting in the receive buffer.
func (t *RS485Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}

// PortName returns the serial port name.
func (t *RS485Transport) PortName() string {
	return t.config.Address
}
