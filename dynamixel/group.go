package dynamixel

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// members holds group entries keyed by device id. order is the sequence in
// which ids were added and is the order they are serialized on the wire.
type members[T any] struct {
	byID  map[byte]T
	order []byte
}

func newMembers[T any]() members[T] {
	return members[T]{byID: make(map[byte]T)}
}

func (m *members[T]) get(id byte) (T, bool) {
	v, ok := m.byID[id]
	return v, ok
}

// put stores v for id, appending id to the order when it is new.
func (m *members[T]) put(id byte, v T) {
	if _, ok := m.byID[id]; !ok {
		m.order = append(m.order, id)
	}
	m.byID[id] = v
}

func (m *members[T]) remove(id byte) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	m.order = lo.Without(m.order, id)
	return true
}

func (m *members[T]) clear() {
	clear(m.byID)
	m.order = nil
}

func (m *members[T]) ids() []byte {
	return append([]byte(nil), m.order...)
}

func (m *members[T]) len() int {
	return len(m.order)
}

// isDeviceID reports whether id can be a group member.
func isDeviceID(id byte) bool {
	return id <= MaxID
}

// readEntry is one device of a read group: its register window and the
// data last received for it.
type readEntry struct {
	address uint16
	length  uint16
	data    []byte
	err     byte
}

// covers reports whether [address, address+length) lies inside the entry
// window and data was received for it. A device that refused the read
// leaves its entry without data.
func (e *readEntry) covers(address, length uint16) bool {
	if length == 0 || len(e.data) < int(e.length) {
		return false
	}
	start, end := int(e.address), int(e.address)+int(e.length)
	return int(address) >= start && int(address)+int(length) <= end
}

// readGroup is the state shared by the sync and bulk read engines.
type readGroup struct {
	port    *Port
	handler *PacketHandler
	members members[*readEntry]

	param      []byte
	changed    bool
	lastResult bool
}

func newReadGroup(port *Port, handler *PacketHandler) readGroup {
	return readGroup{port: port, handler: handler, members: newMembers[*readEntry]()}
}

// Port returns the port the group is bound to.
func (g *readGroup) Port() *Port {
	return g.port
}

// IDs returns member ids in wire order.
func (g *readGroup) IDs() []byte {
	return g.members.ids()
}

// IsAvailable reports whether the last read succeeded and covered the
// window [address, address+length) of device id.
func (g *readGroup) IsAvailable(id byte, address, length uint16) bool {
	if !g.lastResult {
		return false
	}
	e, ok := g.members.get(id)
	if !ok {
		return false
	}
	return e.covers(address, length)
}

// GetData decodes 1, 2 or 4 bytes of device id at address. It returns 0
// when the window is not available.
func (g *readGroup) GetData(id byte, address, length uint16) uint32 {
	data, ok := g.Data(id, address, length)
	if !ok {
		return 0
	}
	return decodeLE(data)
}

// Data returns a copy of the raw bytes of device id at address.
func (g *readGroup) Data(id byte, address, length uint16) ([]byte, bool) {
	if !g.IsAvailable(id, address, length) {
		return nil, false
	}
	e, _ := g.members.get(id)
	off := int(address - e.address)
	return append([]byte(nil), e.data[off:off+int(length)]...), true
}

// DeviceError returns the error byte device id reported in the last read.
func (g *readGroup) DeviceError(id byte) (DeviceError, bool) {
	if !g.lastResult {
		return DeviceError{}, false
	}
	e, ok := g.members.get(id)
	if !ok {
		return DeviceError{}, false
	}
	return g.handler.deviceError(e.err), true
}

func (g *readGroup) markChanged() {
	g.changed = true
	g.lastResult = false
}

func (g *readGroup) clear() {
	g.members.clear()
	g.param = nil
	g.changed = false
	g.lastResult = false
}

// rxSequential reads one status per member, in order, and frees the port.
func (g *readGroup) rxSequential(op string) error {
	defer g.port.release()
	g.lastResult = false

	if g.members.len() == 0 {
		return newCommError(op, CommNotAvailable, nil)
	}
	for _, id := range g.members.order {
		e := g.members.byID[id]
		data, devErr, err := g.handler.readRx(op, g.port, id, e.length)
		if err != nil {
			return err
		}
		e.data = append(e.data[:0], data...)
		e.err = devErr.Code
	}
	g.lastResult = true
	return nil
}

// rxFast receives the single aggregate status of a fast read and frees the
// port. Each record is matched to a member by the id it carries; a record
// for an unknown device or a missing record fails the whole read.
func (g *readGroup) rxFast(op string) error {
	defer g.port.release()
	g.lastResult = false

	if g.members.len() == 0 {
		return newCommError(op, CommNotAvailable, nil)
	}
	st, err := g.handler.receiveAggregate(op, g.port)
	if err != nil {
		return err
	}

	type record struct {
		err  byte
		data []byte
	}
	payload := st.Frame[v2PosError:]
	records := make(map[byte]record, g.members.len())
	off := 0
	for range g.members.order {
		if off+2 > len(payload) {
			return newCommError(op, CommRxCorrupt, errors.Errorf("aggregate status holds %d of %d records", len(records), g.members.len()))
		}
		id := payload[off+1]
		e, ok := g.members.get(id)
		if !ok {
			return newCommError(op, CommRxCorrupt, errors.Errorf("record for device %d which is not in the group", id))
		}
		if _, dup := records[id]; dup {
			return newCommError(op, CommRxCorrupt, errors.Errorf("duplicate record for device %d", id))
		}
		end := off + 2 + int(e.length)
		if end+2 > len(payload) {
			return newCommError(op, CommRxCorrupt, errors.Errorf("record for device %d is truncated", id))
		}
		records[id] = record{err: payload[off], data: payload[off+2 : end]}
		off = end + 2
	}

	for id, r := range records {
		e := g.members.byID[id]
		e.data = append(e.data[:0], r.data...)
		e.err = r.err
	}
	g.lastResult = true
	return nil
}
