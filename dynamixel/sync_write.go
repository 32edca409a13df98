package dynamixel

// syncWriteEntry is the pending data of one device. end marks how much of
// data has been filled by AddParam.
type syncWriteEntry struct {
	data []byte
	end  int
}

// SyncWrite writes the same register window of many devices with one
// broadcast instruction. No status is returned.
type SyncWrite struct {
	port         *Port
	handler      *PacketHandler
	startAddress uint16
	dataLength   uint16

	members members[*syncWriteEntry]
	param   []byte
	changed bool
}

// NewSyncWrite creates a sync write group for [startAddress, startAddress+dataLength).
func NewSyncWrite(port *Port, handler *PacketHandler, startAddress, dataLength uint16) *SyncWrite {
	return &SyncWrite{
		port:         port,
		handler:      handler,
		startAddress: startAddress,
		dataLength:   dataLength,
		members:      newMembers[*syncWriteEntry](),
	}
}

// Port returns the port the group is bound to.
func (g *SyncWrite) Port() *Port { return g.port }

// IDs returns member ids in wire order.
func (g *SyncWrite) IDs() []byte { return g.members.ids() }

// AddParam appends data to the buffer of device id, adding the device if
// needed. It returns false for a non-device id or when data would overrun
// the window.
func (g *SyncWrite) AddParam(id byte, data []byte) bool {
	if !isDeviceID(id) {
		return false
	}
	e, ok := g.members.get(id)
	if !ok {
		e = &syncWriteEntry{data: make([]byte, g.dataLength)}
	}
	if e.end+len(data) > int(g.dataLength) {
		return false
	}
	copy(e.data[e.end:], data)
	e.end += len(data)
	if !ok {
		g.members.put(id, e)
	}
	g.changed = true
	return true
}

// ChangeParam overwrites the buffer of device id at offset pos.
func (g *SyncWrite) ChangeParam(id byte, data []byte, pos int) bool {
	e, ok := g.members.get(id)
	if !ok || pos < 0 || pos+len(data) > int(g.dataLength) {
		return false
	}
	copy(e.data[pos:], data)
	e.end = max(e.end, pos+len(data))
	g.changed = true
	return true
}

// RemoveParam removes device id.
func (g *SyncWrite) RemoveParam(id byte) {
	if g.members.remove(id) {
		g.changed = true
	}
}

// ClearParam removes every device.
func (g *SyncWrite) ClearParam() {
	g.members.clear()
	g.param = nil
	g.changed = false
}

func (g *SyncWrite) makeParam() {
	g.param = g.param[:0]
	for _, id := range g.members.order {
		g.param = append(g.param, id)
		g.param = append(g.param, g.members.byID[id].data...)
	}
	g.changed = false
}

// TxPacket broadcasts the write.
func (g *SyncWrite) TxPacket() error {
	if g.members.len() == 0 {
		return newCommError("sync_write", CommNotAvailable, nil)
	}
	if g.changed || g.param == nil {
		g.makeParam()
	}
	return g.handler.SyncWriteTxOnly(g.port, g.startAddress, g.dataLength, g.param)
}
