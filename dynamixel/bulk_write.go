package dynamixel

type bulkWriteEntry struct {
	address uint16
	data    []byte
}

// BulkWrite writes a different register window of each device with one
// broadcast instruction. Protocol 2.0 only; no status is returned.
type BulkWrite struct {
	port    *Port
	handler *PacketHandler

	members members[*bulkWriteEntry]
	param   []byte
	changed bool
}

// NewBulkWrite creates an empty bulk write group.
func NewBulkWrite(port *Port, handler *PacketHandler) *BulkWrite {
	return &BulkWrite{
		port:    port,
		handler: handler,
		members: newMembers[*bulkWriteEntry](),
	}
}

// Port returns the port the group is bound to.
func (g *BulkWrite) Port() *Port { return g.port }

// IDs returns member ids in wire order.
func (g *BulkWrite) IDs() []byte { return g.members.ids() }

// AddParam sets the window and data of device id, replacing any previous
// entry. It returns false on protocol 1.0, for a non-device id or when
// data is empty.
func (g *BulkWrite) AddParam(id byte, startAddress uint16, data []byte) bool {
	if g.handler.Version() == Protocol1 || !isDeviceID(id) || len(data) == 0 {
		return false
	}
	g.members.put(id, &bulkWriteEntry{address: startAddress, data: append([]byte(nil), data...)})
	g.changed = true
	return true
}

// ChangeParam overwrites part of the data of device id at offset pos.
func (g *BulkWrite) ChangeParam(id byte, data []byte, pos int) bool {
	e, ok := g.members.get(id)
	if !ok || pos < 0 || pos+len(data) > len(e.data) {
		return false
	}
	copy(e.data[pos:], data)
	g.changed = true
	return true
}

// RemoveParam removes device id.
func (g *BulkWrite) RemoveParam(id byte) {
	if g.members.remove(id) {
		g.changed = true
	}
}

// ClearParam removes every device.
func (g *BulkWrite) ClearParam() {
	g.members.clear()
	g.param = nil
	g.changed = false
}

func (g *BulkWrite) makeParam() error {
	codec := g.handler.Codec()
	param := make([]byte, 0, len(g.param))
	for _, id := range g.members.order {
		e := g.members.byID[id]
		d, err := codec.BulkWriteDescriptor(id, e.address, e.data)
		if err != nil {
			return err
		}
		param = append(param, d...)
	}
	g.param = param
	g.changed = false
	return nil
}

// TxPacket broadcasts the write.
func (g *BulkWrite) TxPacket() error {
	const op = "bulk_write"
	if g.handler.Version() == Protocol1 || g.members.len() == 0 {
		return newCommError(op, CommNotAvailable, nil)
	}
	if g.changed || g.param == nil {
		if err := g.makeParam(); err != nil {
			return newCommError(op, CommNotAvailable, err)
		}
	}
	return g.handler.BulkWriteTxOnly(g.port, g.param)
}
