package sink

import (
	"errors"
	"net/netip"
	"sync"
)

// MockSocket implements Socket for testing.
type MockSocket struct {
	mu sync.Mutex
	// Options holds what the socket was opened with.
	Options Options
	// Sent records every datagram accepted in full.
	Sent [][]byte
	// SendErrors are returned by successive Send calls; nil entries succeed.
	SendErrors []error
	// ShortBy makes the next Send report that many bytes fewer than given.
	ShortBy int
	closed  bool
}

// Opener returns an Opener that records its options and hands out m.
func (m *MockSocket) Opener() Opener {
	return func(opts Options) (Socket, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Options = opts
		return m, nil
	}
}

func (m *MockSocket) Send(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("send on closed socket")
	}
	if len(m.SendErrors) > 0 {
		err := m.SendErrors[0]
		m.SendErrors = m.SendErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if m.ShortBy > 0 {
		n := len(b) - m.ShortBy
		m.ShortBy = 0
		if n < 0 {
			n = 0
		}
		return n, nil
	}
	m.Sent = append(m.Sent, append([]byte(nil), b...))
	return len(b), nil
}

func (m *MockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Datagrams returns a copy of the sent datagrams.
func (m *MockSocket) Datagrams() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.Sent...)
}

// RecordingTap implements Tap in memory.
type RecordingTap struct {
	Dest     []netip.AddrPort
	Payloads [][]byte
	Err      error
}

func (r *RecordingTap) WriteDatagram(dst netip.AddrPort, payload []byte) error {
	if r.Err != nil {
		return r.Err
	}
	r.Dest = append(r.Dest, dst)
	r.Payloads = append(r.Payloads, append([]byte(nil), payload...))
	return nil
}
