package channel

import (
	"errors"
	"fmt"

	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/packet"
)

// BusSocket is a bound, non-blocking raw CAN socket.
type BusSocket interface {
	Fd() int
	// ReadFrame reads one kernel can_frame or canfd_frame into buf and
	// returns its size and receive timestamp in nanoseconds (0 if the
	// kernel did not supply one). It returns ErrTransient when nothing was
	// queued.
	ReadFrame(buf []byte) (n int, timestampNs uint64, err error)
	// FDEnabled reports whether CAN FD frames are delivered.
	FDEnabled() bool
	Close() error
}

// SocketOptions configures a BusSocket.
type SocketOptions struct {
	Interface string
	Filters   []Filter
	FD        bool
}

// BusSocketOpener creates bus sockets. OpenRawSocket is the production
// implementation; tests substitute MockBusSocket.
type BusSocketOpener func(SocketOptions) (BusSocket, error)

// BusConfig describes one bus channel.
type BusConfig struct {
	// Interface is the network interface name, e.g. "can0".
	Interface string
	// InterfaceID is carried in every packet.
	InterfaceID uint16
	// Filters lists CAN identifiers to accept. Empty accepts all frames.
	Filters []uint32
	// FD requests CAN FD frames. Ignored with LayoutClassic.
	FD bool
	// Layout selects the wire format.
	Layout packet.Layout
}

type busChannel struct {
	cfg      BusConfig
	sock     BusSocket
	readSize int
	state    State
	buf      [packet.CANFDFrameSize]byte
}

// OpenBus opens a raw CAN socket for cfg. Filter lists longer than
// MaxFilters are truncated with a warning; socket-level failures are
// wrapped in ErrOpenFailed.
func OpenBus(cfg BusConfig, open BusSocketOpener) (Channel, error) {
	if open == nil {
		open = OpenRawSocket
	}
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: bus channel has no interface", ErrOpenFailed)
	}

	ids := cfg.Filters
	if len(ids) > MaxFilters {
		monitoring.Logf("Warning: %d filters configured for %s, only the first %d are used", len(ids), cfg.Interface, MaxFilters)
		ids = ids[:MaxFilters]
	}

	fd := cfg.FD && cfg.Layout != packet.LayoutClassic
	sock, err := open(SocketOptions{
		Interface: cfg.Interface,
		Filters:   BuildFilters(ids),
		FD:        fd,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can %q: %w", ErrOpenFailed, cfg.Interface, err)
	}

	c := &busChannel{cfg: cfg, sock: sock, readSize: packet.CANFrameSize, state: StateActive}
	if sock.FDEnabled() {
		c.readSize = packet.CANFDFrameSize
	}
	monitoring.Debugf("opened bus channel %s (id %d, fd %v, %d filters)", cfg.Interface, cfg.InterfaceID, sock.FDEnabled(), len(ids))
	return c, nil
}

func (c *busChannel) Name() string { return c.cfg.Interface }

func (c *busChannel) Handle() int { return c.sock.Fd() }

// Process reads one frame and encodes it. Anything other than a full
// can_frame or canfd_frame is reported as ErrUnavailable.
func (c *busChannel) Process() ([]byte, error) {
	if c.state != StateActive {
		return nil, ErrClosed
	}

	n, ts, err := c.sock.ReadFrame(c.buf[:c.readSize])
	if err != nil {
		if errors.Is(err, ErrTransient) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, c.cfg.Interface, err)
	}
	if n == 0 {
		return nil, ErrTransient
	}
	if n != packet.CANFrameSize && n != packet.CANFDFrameSize {
		return nil, fmt.Errorf("%w: %s: unexpected frame size %d", ErrUnavailable, c.cfg.Interface, n)
	}

	return packet.EncodeBusFrame(c.cfg.Layout, c.cfg.InterfaceID, c.buf[:n], ts), nil
}

func (c *busChannel) Close() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateClosed
	return c.sock.Close()
}
