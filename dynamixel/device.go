package dynamixel

import "context"

// Device provides a high-level interface for one device on a bus. Device
// faults are returned as *DeviceStatusError.
type Device struct {
	bus *Bus
	id  byte
}

// NewDevice creates a new Device instance.
func NewDevice(bus *Bus, id byte) *Device {
	return &Device{bus: bus, id: id}
}

// ID returns the device's ID.
func (d *Device) ID() byte {
	return d.id
}

// Ping verifies communication with the device and returns the model number.
func (d *Device) Ping(ctx context.Context) (uint16, error) {
	return d.bus.Ping(ctx, d.id)
}

// PingInfo returns the model number and firmware version.
func (d *Device) PingInfo(ctx context.Context) (PingInfo, error) {
	if err := d.bus.ready(ctx); err != nil {
		return PingInfo{}, err
	}
	info, devErr, err := d.bus.handler.PingInfo(d.bus.port, d.id)
	return info, statusError(d.id, "ping")(devErr, err)
}

// Read reads length bytes starting at address.
func (d *Device) Read(ctx context.Context, address, length uint16) ([]byte, error) {
	return d.bus.Read(ctx, d.id, address, length)
}

// Write writes data starting at address.
func (d *Device) Write(ctx context.Context, address uint16, data []byte) error {
	return d.bus.Write(ctx, d.id, address, data)
}

// RegWrite queues a write until the bus Action.
func (d *Device) RegWrite(ctx context.Context, address uint16, data []byte) error {
	return d.bus.RegWrite(ctx, d.id, address, data)
}

// ReadUint8 reads one byte.
func (d *Device) ReadUint8(ctx context.Context, address uint16) (uint8, error) {
	data, err := d.Read(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return uint8(decodeLE(data)), nil
}

// ReadUint16 reads a little-endian word.
func (d *Device) ReadUint16(ctx context.Context, address uint16) (uint16, error) {
	data, err := d.Read(ctx, address, 2)
	if err != nil {
		return 0, err
	}
	return uint16(decodeLE(data)), nil
}

// ReadUint32 reads a little-endian double word.
func (d *Device) ReadUint32(ctx context.Context, address uint16) (uint32, error) {
	data, err := d.Read(ctx, address, 4)
	if err != nil {
		return 0, err
	}
	return decodeLE(data), nil
}

// WriteUint8 writes one byte.
func (d *Device) WriteUint8(ctx context.Context, address uint16, v uint8) error {
	return d.Write(ctx, address, []byte{v})
}

// WriteUint16 writes a little-endian word.
func (d *Device) WriteUint16(ctx context.Context, address, v uint16) error {
	return d.Write(ctx, address, Uint16LE(v))
}

// WriteUint32 writes a little-endian double word.
func (d *Device) WriteUint32(ctx context.Context, address uint16, v uint32) error {
	return d.Write(ctx, address, Uint32LE(v))
}

// Reboot restarts the device. Protocol 2.0 only.
func (d *Device) Reboot(ctx context.Context) error {
	if err := d.bus.ready(ctx); err != nil {
		return err
	}
	return statusError(d.id, "reboot")(d.bus.handler.Reboot(d.bus.port, d.id))
}

// ClearMultiTurn resets the multi-turn position count. Protocol 2.0 only.
func (d *Device) ClearMultiTurn(ctx context.Context) error {
	if err := d.bus.ready(ctx); err != nil {
		return err
	}
	return statusError(d.id, "clear_multi_turn")(d.bus.handler.ClearMultiTurn(d.bus.port, d.id))
}

// FactoryReset restores the control table defaults.
func (d *Device) FactoryReset(ctx context.Context, option byte) error {
	if err := d.bus.ready(ctx); err != nil {
		return err
	}
	return statusError(d.id, "factory_reset")(d.bus.handler.FactoryReset(d.bus.port, d.id, option))
}
