package transports

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// MockTransport implements Transport for testing.
//
// Bytes in ReadData are available immediately. Bytes added with Schedule
// become available once Clock reaches their arrival time. When a read finds
// nothing to return and Clock is set, the read "blocks" by advancing Clock
// up to the read timeout or the next arrival, whichever is first.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	ShortWrite  bool
	Closed      bool
	ReadTimeout time.Duration
	BaudRate    int
	Flushed     int

	// Clock drives scheduled arrivals and read timeouts.
	Clock *clock.Mock

	// ReadFunc allows custom read behavior for complex tests
	ReadFunc func(p []byte) (int, error)

	// Respond, when set, is called with every written frame and its result
	// is queued for reading, as a device on the bus would answer.
	Respond func(frame []byte) []byte

	pending []arrival
}

type arrival struct {
	at   time.Time
	data []byte
}

// Schedule queues data to arrive after delay, measured on Clock.
func (m *MockTransport) Schedule(delay time.Duration, data []byte) {
	m.pending = append(m.pending, arrival{at: m.Clock.Now().Add(delay), data: data})
	sort.SliceStable(m.pending, func(i, j int) bool {
		return m.pending[i].at.Before(m.pending[j].at)
	})
}

func (m *MockTransport) deliver() {
	if m.Clock == nil {
		return
	}
	now := m.Clock.Now()
	for len(m.pending) > 0 && !m.pending[0].at.After(now) {
		m.ReadData = append(m.ReadData, m.pending[0].data...)
		m.pending = m.pending[1:]
	}
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}

	m.deliver()
	if len(m.ReadData) == 0 && m.Clock != nil {
		wait := m.ReadTimeout
		if wait <= 0 {
			wait = time.Millisecond
		}
		if len(m.pending) > 0 {
			if next := m.pending[0].at.Sub(m.Clock.Now()); next < wait {
				wait = next
			}
		}
		m.Clock.Add(wait)
		m.deliver()
	}

	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	if m.Respond != nil {
		m.ReadData = append(m.ReadData, m.Respond(append([]byte(nil), p...))...)
	}
	if m.ShortWrite && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) SetBaudRate(baudRate int) error {
	m.BaudRate = baudRate
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed++
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}
