package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/udpbridge/internal/packet"
)

// mockHandles hands out descriptor numbers that cannot collide with real ones
// in a test process.
var mockHandles atomic.Int64

func init() { mockHandles.Store(10000) }

// NextMockHandle returns a unique fake descriptor.
func NextMockHandle() int { return int(mockHandles.Add(1)) }

// MockBus emulates a set of CAN interfaces. Frames sent on an interface are
// delivered to every socket bound to it whose filters accept them, the way
// the kernel fans out CAN_RAW traffic.
type MockBus struct {
	mu sync.Mutex
	// Interfaces lists the interfaces that exist. Opening any other name
	// fails.
	Interfaces map[string]bool
	// FDCapable lists interfaces that accept CAN_RAW_FD_FRAMES.
	FDCapable map[string]bool
	// Sockets records every socket opened, in order.
	Sockets []*MockBusSocket
}

// NewMockBus returns a bus with the named interfaces, all FD capable.
func NewMockBus(ifaces ...string) *MockBus {
	b := &MockBus{Interfaces: map[string]bool{}, FDCapable: map[string]bool{}}
	for _, name := range ifaces {
		b.Interfaces[name] = true
		b.FDCapable[name] = true
	}
	return b
}

// Open implements BusSocketOpener.
func (b *MockBus) Open(opts SocketOptions) (BusSocket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.Interfaces[opts.Interface] {
		return nil, fmt.Errorf("lookup interface: no such network interface %q", opts.Interface)
	}
	s := &MockBusSocket{
		Options: opts,
		fd:      NextMockHandle(),
		fdOn:    opts.FD && b.FDCapable[opts.Interface],
	}
	b.Sockets = append(b.Sockets, s)
	return s, nil
}

// Send delivers a raw frame to every matching socket on iface and returns how
// many sockets received it.
func (b *MockBus) Send(iface string, raw []byte, timestampNs uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for _, s := range b.Sockets {
		if s.Options.Interface != iface || s.Closed() {
			continue
		}
		if s.Deliver(raw, timestampNs) {
			delivered++
		}
	}
	return delivered
}

// MockFrame is a queued frame.
type MockFrame struct {
	Raw         []byte
	TimestampNs uint64
}

// MockBusSocket implements BusSocket over an in-memory queue.
type MockBusSocket struct {
	mu      sync.Mutex
	Options SocketOptions
	Queue   []MockFrame
	// ReadError is returned by the next ReadFrame if set.
	ReadError error
	fd        int
	fdOn      bool
	closed    bool
}

// NewMockBusSocket returns a standalone socket with the given options.
func NewMockBusSocket(opts SocketOptions) *MockBusSocket {
	return &MockBusSocket{Options: opts, fd: NextMockHandle(), fdOn: opts.FD}
}

// Deliver queues raw if the socket's filters accept it. FD frames are dropped
// on sockets without FD enabled.
func (s *MockBusSocket) Deliver(raw []byte, timestampNs uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(raw) < packet.CANFrameSize {
		return false
	}
	if len(raw) == packet.CANFDFrameSize && !s.fdOn {
		return false
	}
	if !MatchAny(s.Options.Filters, binary.NativeEndian.Uint32(raw[0:4])) {
		return false
	}
	s.Queue = append(s.Queue, MockFrame{Raw: append([]byte(nil), raw...), TimestampNs: timestampNs})
	return true
}

// Pending reports the number of queued frames.
func (s *MockBusSocket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Queue)
}

func (s *MockBusSocket) Fd() int { return s.fd }

func (s *MockBusSocket) FDEnabled() bool { return s.fdOn }

func (s *MockBusSocket) ReadFrame(buf []byte) (int, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, errors.New("read on closed socket")
	}
	if s.ReadError != nil {
		err := s.ReadError
		s.ReadError = nil
		return 0, 0, err
	}
	if len(s.Queue) == 0 {
		return 0, 0, ErrTransient
	}
	f := s.Queue[0]
	s.Queue = s.Queue[1:]
	return copy(buf, f.Raw), f.TimestampNs, nil
}

func (s *MockBusSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockBusSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockTicker implements Ticker. Fire adds expirations that the next
// Expirations call consumes.
type MockTicker struct {
	mu      sync.Mutex
	pending uint64
	fd      int
	closed  bool
}

// NewMockTicker returns a ticker with a fresh handle.
func NewMockTicker() *MockTicker { return &MockTicker{fd: NextMockHandle()} }

// Fire records n expirations.
func (t *MockTicker) Fire(n uint64) {
	t.mu.Lock()
	t.pending += n
	t.mu.Unlock()
}

func (t *MockTicker) Fd() int { return t.fd }

func (t *MockTicker) Expirations() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.pending
	t.pending = 0
	return n, nil
}

func (t *MockTicker) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (t *MockTicker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockMeasurement is a scripted Measurement.
type MockMeasurement struct {
	Raw      float64
	RawErr   error
	Internal float64
	ScaleErr error
}

func (m *MockMeasurement) ReadRaw() (float64, error) { return m.Raw, m.RawErr }

func (m *MockMeasurement) Scale() (float64, error) { return m.Internal, m.ScaleErr }

// MockSource serves measurements keyed by "device/channel".
type MockSource map[string]*MockMeasurement

func (s MockSource) Find(device, ch string) (Measurement, error) {
	m, ok := s[device+"/"+ch]
	if !ok {
		return nil, fmt.Errorf("measurement %s/%s not found", device, ch)
	}
	return m, nil
}
