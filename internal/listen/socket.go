package listen

import (
	"net"
	"time"
)

// UDPSocket is the part of *net.UDPConn the listener uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// ListenFunc opens the receive socket. ListenUDP is the production
// implementation.
type ListenFunc func(address string) (UDPSocket, error)

// ListenUDP binds a UDP socket on address.
func ListenUDP(address string) (UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. Reads past the end of
// Packets time out.
type MockUDPSocket struct {
	Packets        []MockUDPPacket
	ReadIndex      int
	Closed         bool
	ReadBufferSize int
	ReadDeadline   time.Time
	LocalAddress   *net.UDPAddr
	// ReadError is returned once by the next ReadFromUDP.
	ReadError error
	// OnDrained is called the first time a read finds no packets left.
	OnDrained func()
	drained   bool
}

// MockUDPPacket is one datagram for MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets:      packets,
		LocalAddress: &net.UDPAddr{IP: net.IPv4zero, Port: 4858},
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		if !m.drained && m.OnDrained != nil {
			m.drained = true
			m.OnDrained()
		}
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return copy(b, pkt.Data), pkt.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.ReadDeadline = t
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.Closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.LocalAddress }

// Listen returns a ListenFunc handing out m.
func (m *MockUDPSocket) Listen() ListenFunc {
	return func(string) (UDPSocket, error) { return m, nil }
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
