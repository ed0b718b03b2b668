// Package sink owns the outbound UDP broadcast socket.
//
// Sends are best effort: a failed or short write is counted, reported through
// a rate-limited warning and dropped. Nothing is retried or queued, so a dead
// network never stalls the dispatch loop.
package sink

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

var (
	// ErrSocketFailed is returned when the broadcast socket cannot be created.
	ErrSocketFailed = errors.New("broadcast socket failed")
	// ErrSendFailed is returned by Send when a datagram was dropped.
	ErrSendFailed = errors.New("send failed")
)

// DefaultAddress is the limited broadcast address.
const DefaultAddress = "255.255.255.255"

// DefaultLogInterval bounds how often send failures are logged.
const DefaultLogInterval = time.Second

// Socket is a datagram socket with a fixed destination.
type Socket interface {
	// Send writes one datagram and returns the number of bytes accepted.
	Send(b []byte) (int, error)
	Close() error
}

// Options configures a Socket.
type Options struct {
	// Interface, if set, restricts the socket to one network device.
	// Failing to bind is not an error.
	Interface string
	Dest      netip.AddrPort
}

// Opener creates the broadcast socket. OpenUDPSocket is the production
// implementation.
type Opener func(Options) (Socket, error)

// Tap receives a copy of every datagram that was sent.
type Tap interface {
	WriteDatagram(dst netip.AddrPort, payload []byte) error
}

// Config describes a Sink.
type Config struct {
	Port      uint16
	Interface string
	// Address overrides DefaultAddress.
	Address string
	// Tap is optional.
	Tap Tap
	// Clock and LogInterval control warning rate limiting.
	Clock       timeutil.Clock
	LogInterval time.Duration
}

// Sink sends packets to the broadcast destination.
type Sink struct {
	sock  Socket
	dest  netip.AddrPort
	iface string
	tap   Tap
	warn  *timeutil.Limiter

	sent    atomic.Uint64
	dropped atomic.Uint64

	pendingDrops int
	lastErr      error
	closed       bool
}

// Open resolves the destination and opens the socket.
func Open(cfg Config, open Opener) (*Sink, error) {
	if open == nil {
		open = OpenUDPSocket
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("%w: no destination port", ErrSocketFailed)
	}
	addr := cfg.Address
	if addr == "" {
		addr = DefaultAddress
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("%w: destination %q is not an IPv4 address", ErrSocketFailed, addr)
	}
	dest := netip.AddrPortFrom(ip, cfg.Port)

	sock, err := open(Options{Interface: cfg.Interface, Dest: dest})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSocketFailed, err)
	}

	logInterval := cfg.LogInterval
	if logInterval <= 0 {
		logInterval = DefaultLogInterval
	}

	if cfg.Interface != "" {
		monitoring.Logf("Broadcasting to %s via %s", dest, cfg.Interface)
	} else {
		monitoring.Logf("Broadcasting to %s", dest)
	}
	return &Sink{
		sock:  sock,
		dest:  dest,
		iface: cfg.Interface,
		tap:   cfg.Tap,
		warn:  timeutil.NewLimiter(cfg.Clock, logInterval),
	}, nil
}

// Destination returns where packets are sent.
func (s *Sink) Destination() netip.AddrPort { return s.dest }

// Send transmits one datagram. On failure the packet is dropped and
// ErrSendFailed returned; the sink stays usable.
func (s *Sink) Send(b []byte) error {
	if s.closed {
		return fmt.Errorf("%w: sink closed", ErrSendFailed)
	}

	n, err := s.sock.Send(b)
	if err == nil && n != len(b) {
		err = fmt.Errorf("short write %d of %d bytes", n, len(b))
	}
	if err != nil {
		s.drop(err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	s.sent.Add(1)

	if s.tap != nil {
		if err := s.tap.WriteDatagram(s.dest, b); err != nil {
			monitoring.Logf("Warning: capture failed, disabling: %v", err)
			s.tap = nil
		}
	}
	return nil
}

func (s *Sink) drop(err error) {
	s.dropped.Add(1)
	s.pendingDrops++
	s.lastErr = err

	if !s.warn.Allow() {
		return
	}
	monitoring.Logf("Warning: dropped %d packets to %s (latest: %v)", s.pendingDrops, s.dest, s.lastErr)
	s.pendingDrops = 0
	s.lastErr = nil
}

// Sent returns the number of datagrams sent.
func (s *Sink) Sent() uint64 { return s.sent.Load() }

// Dropped returns the number of datagrams dropped.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Close closes the socket. Unreported drops are logged first.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pendingDrops > 0 {
		monitoring.Logf("Warning: dropped %d packets to %s (latest: %v)", s.pendingDrops, s.dest, s.lastErr)
	}
	return s.sock.Close()
}
