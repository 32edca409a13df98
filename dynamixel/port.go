package dynamixel

import (
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

// Port defaults.
const (
	DefaultBaudRate     = 1000000
	DefaultLatencyTimer = 16 * time.Millisecond

	// bits on the wire per byte: start + 8 data + stop
	bitsPerByte = 10
)

// Port is one serial connection shared by every device on the bus. Only one
// transaction may be in flight on a port; a second one fails with
// CommPortBusy instead of waiting.
type Port struct {
	name   string
	opener Opener
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu        sync.Mutex
	transport Transport
	open      bool

	baudRate      int
	latency       time.Duration
	txTimePerByte time.Duration

	packetStart   time.Time
	packetTimeout time.Duration

	busy *atomic.Bool
}

// PortOption configures a Port.
type PortOption func(*Port)

// WithTransport uses an already opened transport instead of the opener.
func WithTransport(t Transport) PortOption {
	return func(p *Port) {
		p.transport = t
	}
}

// WithOpener replaces the default serial opener.
func WithOpener(o Opener) PortOption {
	return func(p *Port) {
		p.opener = o
	}
}

// WithClock sets the clock used for packet deadlines.
func WithClock(c clock.Clock) PortOption {
	return func(p *Port) {
		p.clock = c
	}
}

// WithLogger sets the port logger.
func WithLogger(l *zap.SugaredLogger) PortOption {
	return func(p *Port) {
		p.logger = l
	}
}

// WithBaudRate sets the baud rate used when the port is opened.
func WithBaudRate(baud int) PortOption {
	return func(p *Port) {
		p.baudRate = baud
	}
}

// WithLatencyTimer sets the USB adapter latency added twice to every packet timeout.
func WithLatencyTimer(d time.Duration) PortOption {
	return func(p *Port) {
		p.latency = d
	}
}

// NewPort creates a port for the named serial device. It is not opened.
func NewPort(name string, opts ...PortOption) *Port {
	p := &Port{
		name:     name,
		opener:   openSerial,
		clock:    clock.New(),
		logger:   zap.NewNop().Sugar(),
		baudRate: DefaultBaudRate,
		latency:  DefaultLatencyTimer,
		busy:     atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.txTimePerByte = txTimePerByte(p.baudRate)
	return p
}

func openSerial(name string, baudRate int) (Transport, error) {
	t, err := transports.OpenSerial(transports.SerialConfig{
		Port:     name,
		BaudRate: baudRate,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func txTimePerByte(baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(bitsPerByte) * time.Second / time.Duration(baud)
}

// Name returns the serial device path.
func (p *Port) Name() string {
	return p.name
}

// Open opens the underlying transport. Opening an open port is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil
	}
	if p.transport == nil {
		t, err := p.opener(p.name, p.baudRate)
		if err != nil {
			return errors.Wrapf(err, "failed to open port %s", p.name)
		}
		p.transport = t
	}
	p.open = true
	p.logger.Infow("port opened", "port", p.name, "baud_rate", p.baudRate)
	return nil
}

// Close releases the transport. The port can be opened again afterwards.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}
	p.open = false
	err := p.transport.Close()
	p.transport = nil
	p.logger.Infow("port closed", "port", p.name)
	return errors.Wrapf(err, "failed to close port %s", p.name)
}

// IsOpen reports whether the port has an open transport.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// SetBaudRate reconfigures the line speed.
func (p *Port) SetBaudRate(baud int) error {
	if baud <= 0 {
		return errors.Errorf("invalid baud rate %d", baud)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		if err := p.transport.SetBaudRate(baud); err != nil {
			return errors.Wrapf(err, "failed to set baud rate on %s", p.name)
		}
	}
	p.baudRate = baud
	p.txTimePerByte = txTimePerByte(baud)
	p.logger.Infow("baud rate changed", "port", p.name, "baud_rate", baud)
	return nil
}

// TxTimePerByte is the time one byte occupies the line at the current baud rate.
func (p *Port) TxTimePerByte() time.Duration {
	return p.txTimePerByte
}

// SetPacketTimeout starts a deadline sized for a packet of length bytes.
func (p *Port) SetPacketTimeout(length int) {
	p.packetStart = p.clock.Now()
	p.packetTimeout = p.txTimePerByte*time.Duration(length) + 2*p.latency + 2*time.Millisecond
}

// SetPacketTimeoutMillis starts a deadline of a flat number of milliseconds.
func (p *Port) SetPacketTimeoutMillis(ms float64) {
	p.packetStart = p.clock.Now()
	p.packetTimeout = time.Duration(ms * float64(time.Millisecond))
}

// PacketTimeout returns the length of the current deadline.
func (p *Port) PacketTimeout() time.Duration {
	return p.packetTimeout
}

// IsPacketTimeout reports whether the current deadline has been reached.
func (p *Port) IsPacketTimeout() bool {
	return p.remaining() <= 0
}

func (p *Port) remaining() time.Duration {
	return p.packetTimeout - p.clock.Since(p.packetStart)
}

// InUse reports whether a transaction is in flight.
func (p *Port) InUse() bool {
	return p.busy.Load()
}

func (p *Port) acquire() bool {
	return p.busy.CompareAndSwap(false, true)
}

func (p *Port) release() {
	p.busy.Store(false)
}

func (p *Port) currentTransport() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, ErrPortClosed
	}
	return p.transport, nil
}

// write discards stale input and sends frame.
func (p *Port) write(frame []byte) (int, error) {
	t, err := p.currentTransport()
	if err != nil {
		return 0, err
	}
	if err := t.Flush(); err != nil {
		p.logger.Warnw("failed to flush input", "port", p.name, "error", err)
	}
	return t.Write(frame)
}

// read blocks until some bytes arrive or the packet deadline passes.
func (p *Port) read(buf []byte) (int, error) {
	remaining := p.remaining()
	if remaining <= 0 || len(buf) == 0 {
		return 0, nil
	}
	t, err := p.currentTransport()
	if err != nil {
		return 0, err
	}
	if err := t.SetReadTimeout(remaining); err != nil {
		return 0, err
	}
	n, err := t.Read(buf)
	if n == 0 && err == nil {
		runtime.Gosched()
	}
	return n, err
}
