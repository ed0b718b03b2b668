// Package listen is the receiving end of the bridge: it decodes broadcast
// packets from a UDP port or a capture file, counts them and optionally hands
// them to a Recorder.
package listen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/banshee-data/udpbridge/internal/capture"
	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/sink"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

// ErrUnknownPacket is returned by Handle for datagrams matching no layout.
var ErrUnknownPacket = errors.New("unknown packet")

// readTimeout bounds each blocking read so cancellation is noticed.
const readTimeout = 100 * time.Millisecond

// Recorder persists decoded packets.
type Recorder interface {
	RecordBus(src netip.AddrPort, at time.Time, p packet.BusPacket) error
	RecordSensor(src netip.AddrPort, at time.Time, p packet.SensorPacket) error
	RecordUnknown()
}

// Config configures a Listener.
type Config struct {
	// Address is the local UDP address, e.g. ":4858".
	Address string
	// RcvBuf sets the socket receive buffer when positive.
	RcvBuf      int
	LogInterval time.Duration
	Recorder    Recorder
	// Tap receives every datagram with its source address.
	Tap    sink.Tap
	Listen ListenFunc
	Clock  timeutil.Clock
}

// Counts are the listener's running totals.
type Counts struct {
	Bus          uint64 `json:"bus"`
	Sensor       uint64 `json:"sensor"`
	Unknown      uint64 `json:"unknown"`
	Malformed    uint64 `json:"malformed"`
	RecordErrors uint64 `json:"record_errors"`
	Bytes        uint64 `json:"bytes"`
}

// Listener receives and decodes bridge packets.
type Listener struct {
	cfg Config

	bus          atomic.Uint64
	sensor       atomic.Uint64
	unknown      atomic.Uint64
	malformed    atomic.Uint64
	recordErrors atomic.Uint64
	bytes        atomic.Uint64
}

// New fills in defaults: a one minute log interval, ListenUDP and the real
// clock.
func New(cfg Config) *Listener {
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Listen == nil {
		cfg.Listen = ListenUDP
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Listener{cfg: cfg}
}

// Run receives until ctx is cancelled. Read errors other than timeouts are
// logged and the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	sock, err := l.cfg.Listen(l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.cfg.Address, err)
	}
	defer sock.Close()

	if l.cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("Listening on %s", sock.LocalAddr())

	go l.logStats(ctx)

	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("Listener stopping: %s", l.summary())
			return err
		}
		sock.SetReadDeadline(l.cfg.Clock.Now().Add(readTimeout))

		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			monitoring.Logf("UDP read error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			continue
		}

		if err := l.Handle(sourceOf(addr), l.cfg.Clock.Now(), buf[:n]); err != nil {
			monitoring.Debugf("packet from %v: %v", addr, err)
		}
	}
}

func sourceOf(addr *net.UDPAddr) netip.AddrPort {
	if addr == nil {
		return netip.AddrPort{}
	}
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Replay feeds the datagrams of a capture file through Handle, using the
// capture timestamps. port 0 replays every UDP record.
func (l *Listener) Replay(ctx context.Context, path string, port uint16) (int, error) {
	n, err := capture.ReadFile(path, port, func(d capture.Datagram) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Handle(d.Src, d.Time, d.Payload); err != nil {
			monitoring.Debugf("packet from %v: %v", d.Src, err)
		}
		return nil
	})
	monitoring.Logf("Replayed %d datagrams from %s: %s", n, path, l.summary())
	return n, err
}

// Handle decodes, counts and records one datagram.
func (l *Listener) Handle(src netip.AddrPort, at time.Time, b []byte) error {
	l.bytes.Add(uint64(len(b)))
	if l.cfg.Tap != nil {
		if err := l.cfg.Tap.WriteDatagram(src, b); err != nil {
			monitoring.Logf("Warning: tap failed, disabling: %v", err)
			l.cfg.Tap = nil
		}
	}

	switch packet.Classify(b) {
	case packet.FamilyBus:
		p, err := packet.DecodeBus(b)
		if err != nil {
			l.malformed.Add(1)
			return err
		}
		l.bus.Add(1)
		monitoring.Debugf("%v %s", src, packet.Describe(b))
		if l.cfg.Recorder != nil {
			return l.record(l.cfg.Recorder.RecordBus(src, at, p))
		}
	case packet.FamilySensor:
		p, err := packet.DecodeSensor(b)
		if err != nil {
			l.malformed.Add(1)
			return err
		}
		l.sensor.Add(1)
		monitoring.Debugf("%v %s", src, packet.Describe(b))
		if l.cfg.Recorder != nil {
			return l.record(l.cfg.Recorder.RecordSensor(src, at, p))
		}
	default:
		l.unknown.Add(1)
		if l.cfg.Recorder != nil {
			l.cfg.Recorder.RecordUnknown()
		}
		return fmt.Errorf("%w: %d bytes", ErrUnknownPacket, len(b))
	}
	return nil
}

func (l *Listener) record(err error) error {
	if err != nil {
		l.recordErrors.Add(1)
	}
	return err
}

// Counts returns the running totals. Safe for concurrent use.
func (l *Listener) Counts() Counts {
	return Counts{
		Bus:          l.bus.Load(),
		Sensor:       l.sensor.Load(),
		Unknown:      l.unknown.Load(),
		Malformed:    l.malformed.Load(),
		RecordErrors: l.recordErrors.Load(),
		Bytes:        l.bytes.Load(),
	}
}

func (l *Listener) summary() string {
	c := l.Counts()
	return fmt.Sprintf("%d bus, %d sensor, %d unknown packets (%d bytes)", c.Bus, c.Sensor, c.Unknown, c.Bytes)
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := l.cfg.Clock.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			monitoring.Logf("Received %s", l.summary())
		}
	}
}
