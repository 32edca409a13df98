package dynamixel

// SyncRead reads the same register window from many devices with one
// broadcast request. Protocol 2.0 only.
type SyncRead struct {
	readGroup
	startAddress uint16
	dataLength   uint16
}

// NewSyncRead creates a sync read group for [startAddress, startAddress+dataLength).
func NewSyncRead(port *Port, handler *PacketHandler, startAddress, dataLength uint16) *SyncRead {
	return &SyncRead{
		readGroup:    newReadGroup(port, handler),
		startAddress: startAddress,
		dataLength:   dataLength,
	}
}

// StartAddress returns the first register of the shared window.
func (g *SyncRead) StartAddress() uint16 { return g.startAddress }

// DataLength returns the length of the shared window.
func (g *SyncRead) DataLength() uint16 { return g.dataLength }

// AddParam adds device id. It returns false if id is already a member, is
// not a device id, or the protocol has no sync read.
func (g *SyncRead) AddParam(id byte) bool {
	if g.handler.Version() == Protocol1 || !isDeviceID(id) {
		return false
	}
	if _, ok := g.members.get(id); ok {
		return false
	}
	g.members.put(id, &readEntry{address: g.startAddress, length: g.dataLength})
	g.markChanged()
	return true
}

// RemoveParam removes device id.
func (g *SyncRead) RemoveParam(id byte) {
	if g.members.remove(id) {
		g.markChanged()
	}
}

// ClearParam removes every device.
func (g *SyncRead) ClearParam() {
	g.clear()
}

func (g *SyncRead) makeParam() {
	g.param = g.members.ids()
	g.changed = false
}

// TxPacket broadcasts the request and leaves the port busy for RxPacket.
func (g *SyncRead) TxPacket() error {
	return g.tx("sync_read", g.handler.SyncReadTx)
}

// RxPacket receives one status per member.
func (g *SyncRead) RxPacket() error {
	if g.handler.Version() == Protocol1 {
		return newCommError("sync_read", CommNotAvailable, nil)
	}
	return g.rxSequential("sync_read")
}

// TxRxPacket runs a complete sync read.
func (g *SyncRead) TxRxPacket() error {
	if err := g.TxPacket(); err != nil {
		return err
	}
	return g.RxPacket()
}

// FastTxPacket broadcasts a fast sync read request.
func (g *SyncRead) FastTxPacket() error {
	return g.tx("fast_sync_read", g.handler.FastSyncReadTx)
}

// FastRxPacket receives the aggregate status of a fast sync read.
func (g *SyncRead) FastRxPacket() error {
	if g.handler.Version() == Protocol1 {
		return newCommError("fast_sync_read", CommNotAvailable, nil)
	}
	return g.rxFast("fast_sync_read")
}

// FastTxRxPacket runs a complete fast sync read.
func (g *SyncRead) FastTxRxPacket() error {
	if err := g.FastTxPacket(); err != nil {
		return err
	}
	return g.FastRxPacket()
}

func (g *SyncRead) tx(op string, send func(*Port, uint16, uint16, []byte) error) error {
	if g.handler.Version() == Protocol1 || g.members.len() == 0 {
		return newCommError(op, CommNotAvailable, nil)
	}
	if g.changed || g.param == nil {
		g.makeParam()
	}
	return send(g.port, g.startAddress, g.dataLength, g.param)
}
