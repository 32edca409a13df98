package dynamixel

// BulkRead reads a different register window from each device with one
// broadcast request.
type BulkRead struct {
	readGroup
}

// NewBulkRead creates an empty bulk read group.
func NewBulkRead(port *Port, handler *PacketHandler) *BulkRead {
	return &BulkRead{readGroup: newReadGroup(port, handler)}
}

// AddParam sets the window of device id, replacing any previous one. It
// returns false for the broadcast id and other non-device ids.
func (g *BulkRead) AddParam(id byte, startAddress, dataLength uint16) bool {
	if !isDeviceID(id) {
		return false
	}
	g.members.put(id, &readEntry{address: startAddress, length: dataLength})
	g.markChanged()
	return true
}

// RemoveParam removes device id.
func (g *BulkRead) RemoveParam(id byte) {
	if g.members.remove(id) {
		g.markChanged()
	}
}

// ClearParam removes every device.
func (g *BulkRead) ClearParam() {
	g.clear()
}

func (g *BulkRead) makeParam() {
	codec := g.handler.Codec()
	g.param = g.param[:0]
	for _, id := range g.members.order {
		e := g.members.byID[id]
		g.param = append(g.param, codec.BulkReadDescriptor(id, e.address, e.length)...)
	}
	g.changed = false
}

func (g *BulkRead) lengths() []int {
	out := make([]int, 0, g.members.len())
	for _, id := range g.members.order {
		out = append(out, int(g.members.byID[id].length))
	}
	return out
}

// TxPacket broadcasts the request and leaves the port busy for RxPacket.
func (g *BulkRead) TxPacket() error {
	return g.tx("bulk_read", g.handler.BulkReadTx)
}

// RxPacket receives one status per member.
func (g *BulkRead) RxPacket() error {
	return g.rxSequential("bulk_read")
}

// TxRxPacket runs a complete bulk read.
func (g *BulkRead) TxRxPacket() error {
	if err := g.TxPacket(); err != nil {
		return err
	}
	return g.RxPacket()
}

// FastTxPacket broadcasts a fast bulk read request. Protocol 2.0 only.
func (g *BulkRead) FastTxPacket() error {
	return g.tx("fast_bulk_read", g.handler.FastBulkReadTx)
}

// FastRxPacket receives the aggregate status of a fast bulk read.
func (g *BulkRead) FastRxPacket() error {
	if g.handler.Version() == Protocol1 {
		return newCommError("fast_bulk_read", CommNotAvailable, nil)
	}
	return g.rxFast("fast_bulk_read")
}

// FastTxRxPacket runs a complete fast bulk read.
func (g *BulkRead) FastTxRxPacket() error {
	if err := g.FastTxPacket(); err != nil {
		return err
	}
	return g.FastRxPacket()
}

func (g *BulkRead) tx(op string, send func(*Port, []byte, []int) error) error {
	if g.members.len() == 0 {
		return newCommError(op, CommNotAvailable, nil)
	}
	if g.changed || g.param == nil {
		g.makeParam()
	}
	return send(g.port, g.param, g.lengths())
}
