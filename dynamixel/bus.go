package dynamixel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

// Bus is one protocol spoken on one port, with the groups created on it.
type Bus struct {
	port    *Port
	handler *PacketHandler
	groups  *GroupRegistry
	logger  *zap.SugaredLogger

	// ownsPort is false when the port came from a caller's registry.
	ownsPort bool

	mu     sync.Mutex
	closed bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	Config

	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Ports is the registry the bus port is taken from. Buses sharing a
	// registry and a port path share the port, and Close leaves it open;
	// the registry owner closes it with CloseAll. If nil, a private
	// registry is used and Close closes the port.
	Ports *PortRegistry

	// Clock drives packet deadlines. Default is the wall clock.
	Clock clock.Clock

	Logger *zap.SugaredLogger
}

// NewBus creates a new servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	ownsPort := cfg.Ports == nil
	if ownsPort {
		cfg.Ports = NewPortRegistry()
	}

	name := cfg.Port
	opts := []PortOption{
		WithBaudRate(cfg.BaudRate),
		WithLatencyTimer(cfg.LatencyTimer),
		WithClock(cfg.Clock),
		WithLogger(cfg.Logger),
	}
	switch {
	case cfg.Transport != nil:
		if name == "" {
			name = fmt.Sprintf("transport-%p", cfg.Transport)
		}
		opts = append(opts, WithTransport(cfg.Transport))
	case name == "":
		return nil, errors.New("either Transport or Port must be specified")
	case cfg.RS485 != nil:
		opts = append(opts, WithOpener(rs485Opener(*cfg.RS485)))
	}

	port, err := cfg.Ports.Port(cfg.Ports.Register(name, opts...))
	if err != nil {
		return nil, err
	}
	if err := port.Open(); err != nil {
		return nil, err
	}

	handler, err := NewPacketHandler(cfg.Protocol, cfg.Logger)
	if err != nil {
		if ownsPort {
			err = multierr.Combine(err, port.Close())
		}
		return nil, err
	}

	return &Bus{
		port:     port,
		handler:  handler,
		groups:   NewGroupRegistry(),
		logger:   cfg.Logger,
		ownsPort: ownsPort,
	}, nil
}

func rs485Opener(rc RS485Config) Opener {
	return func(name string, baudRate int) (Transport, error) {
		t, err := transports.OpenRS485(transports.RS485Config{
			Port:               name,
			BaudRate:           baudRate,
			DelayRTSBeforeSend: rc.DelayRTSBeforeSend,
			DelayRTSAfterSend:  rc.DelayRTSAfterSend,
			RTSHighDuringSend:  rc.RTSHighDuringSend,
			RTSHighAfterSend:   rc.RTSHighAfterSend,
			RxDuringTx:         rc.RxDuringTx,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Close clears every group and closes the port unless it is shared
// through a caller's PortRegistry.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.groups.ClearAll()
	if !b.ownsPort {
		return nil
	}
	return b.port.Close()
}

// Port returns the bus port.
func (b *Bus) Port() *Port {
	return b.port
}

// Handler returns the packet handler for this bus.
func (b *Bus) Handler() *PacketHandler {
	return b.handler
}

// Protocol returns the protocol version spoken on the bus.
func (b *Bus) Protocol() ProtocolVersion {
	return b.handler.Version()
}

// Groups returns the registry of groups created on this bus.
func (b *Bus) Groups() *GroupRegistry {
	return b.groups
}

// Device returns a handle for the device with the given id.
func (b *Bus) Device(id byte) *Device {
	return NewDevice(b, id)
}

// NewSyncRead creates and registers a sync read group.
func (b *Bus) NewSyncRead(startAddress, dataLength uint16) (*SyncRead, GroupHandle) {
	g := NewSyncRead(b.port, b.handler, startAddress, dataLength)
	return g, b.groups.Add(g)
}

// NewSyncWrite creates and registers a sync write group.
func (b *Bus) NewSyncWrite(startAddress, dataLength uint16) (*SyncWrite, GroupHandle) {
	g := NewSyncWrite(b.port, b.handler, startAddress, dataLength)
	return g, b.groups.Add(g)
}

// NewBulkRead creates and registers a bulk read group.
func (b *Bus) NewBulkRead() (*BulkRead, GroupHandle) {
	g := NewBulkRead(b.port, b.handler)
	return g, b.groups.Add(g)
}

// NewBulkWrite creates and registers a bulk write group.
func (b *Bus) NewBulkWrite() (*BulkWrite, GroupHandle) {
	g := NewBulkWrite(b.port, b.handler)
	return g, b.groups.Add(g)
}

// Ping sends a ping to the specified device and returns the model number.
func (b *Bus) Ping(ctx context.Context, id byte) (uint16, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	model, devErr, err := b.handler.Ping(b.port, id)
	if err != nil {
		return 0, err
	}
	if devErr.HasError() {
		return model, &DeviceStatusError{ID: id, Op: "ping", Status: devErr}
	}
	return model, nil
}

// Read reads length bytes from a device starting at address.
func (b *Bus) Read(ctx context.Context, id byte, address, length uint16) ([]byte, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	data, devErr, err := b.handler.ReadTxRx(b.port, id, address, length)
	if err != nil {
		return nil, err
	}
	if devErr.HasError() {
		return data, &DeviceStatusError{ID: id, Op: "read", Status: devErr}
	}
	return data, nil
}

// Write writes data to a device starting at address.
func (b *Bus) Write(ctx context.Context, id byte, address uint16, data []byte) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return statusError(id, "write")(b.handler.WriteTxRx(b.port, id, address, data))
}

// RegWrite writes data to a device's buffer without immediate execution.
// Call Action() to execute all buffered writes.
func (b *Bus) RegWrite(ctx context.Context, id byte, address uint16, data []byte) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return statusError(id, "reg_write")(b.handler.RegWriteTxRx(b.port, id, address, data))
}

// Action triggers execution of all buffered RegWrite commands.
func (b *Bus) Action(ctx context.Context) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.handler.Action(b.port, BroadcastID)
}

// Scan searches for devices by pinging each ID in the range. An ID that
// times out or answers with a corrupt status is treated as empty; any
// other failure stops the scan.
func (b *Bus) Scan(ctx context.Context, startID, endID byte) ([]FoundDevice, error) {
	if endID > MaxID || startID > endID {
		return nil, errors.Errorf("invalid ID range: %d to %d", startID, endID)
	}

	var found []FoundDevice
	for id := int(startID); id <= int(endID); id++ {
		if err := b.ready(ctx); err != nil {
			return found, err
		}
		info, devErr, err := b.handler.PingInfo(b.port, byte(id))
		if err != nil {
			switch ResultOf(err) {
			case CommRxTimeout, CommRxCorrupt:
				continue // No response at this ID
			}
			return found, err
		}
		found = append(found, FoundDevice{ID: byte(id), PingInfo: info, Status: devErr})
	}
	return found, nil
}

// Discover finds every device on the bus. Protocol 2.0 uses a single
// broadcast ping; protocol 1.0 falls back to scanning every ID.
func (b *Bus) Discover(ctx context.Context) ([]FoundDevice, error) {
	if b.Protocol() == Protocol1 {
		return b.Scan(ctx, 0, MaxID)
	}
	if err := b.ready(ctx); err != nil {
		return nil, err
	}

	infos, err := b.handler.BroadcastPing(b.port)
	if err != nil {
		if IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}

	ids := lo.Keys(infos)
	slices.Sort(ids)
	return lo.Map(ids, func(id byte, _ int) FoundDevice {
		return FoundDevice{ID: id, PingInfo: infos[id]}
	}), nil
}

// FoundDevice represents a device discovered during scanning.
type FoundDevice struct {
	ID byte
	PingInfo
	Status DeviceError
}

func (b *Bus) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// statusError promotes a device error to a DeviceStatusError.
func statusError(id byte, op string) func(DeviceError, error) error {
	return func(devErr DeviceError, err error) error {
		if err != nil {
			return err
		}
		if devErr.HasError() {
			return &DeviceStatusError{ID: id, Op: op, Status: devErr}
		}
		return nil
	}
}
