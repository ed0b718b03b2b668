// Package packet defines the fixed-size UDP datagram layouts broadcast by the
// bridge daemons and the encoders that produce them.
//
// Two independent families exist: bus packets carrying a raw SocketCAN frame,
// and sensor packets carrying one sampled IIO reading. Every layout has a fixed
// size; the sizes below are a wire contract shared with receivers and must not
// change without bumping the family version.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultBusPort is the destination port for bus packets.
	DefaultBusPort = 4858

	// CANFrameSize is the size of struct can_frame (CAN_MTU).
	CANFrameSize = 16
	// CANFDFrameSize is the size of struct canfd_frame (CANFD_MTU).
	CANFDFrameSize = 72

	// BusPacketSizeClassic is the size of a version 1 bus packet.
	BusPacketSizeClassic = 4 + CANFrameSize
	// BusPacketSizeFD is the size of a version 2 bus packet.
	BusPacketSizeFD = 4 + CANFDFrameSize + 8

	busVersionClassic = 1
	busVersionFD      = 2
)

// ErrMalformed is returned by decoders for datagrams that match no layout.
var ErrMalformed = errors.New("malformed packet")

// Layout selects one of the two bus packet layouts. It is a static property of
// a running daemon: every packet it emits has the same layout and size.
type Layout int

const (
	// LayoutFD carries a full canfd_frame and a receive timestamp (version 2).
	LayoutFD Layout = iota
	// LayoutClassic carries a can_frame only (version 1).
	LayoutClassic
)

// ParseLayout maps a configuration string to a Layout. The empty string
// selects LayoutFD.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fd", "canfd":
		return LayoutFD, nil
	case "classic", "can":
		return LayoutClassic, nil
	}
	return LayoutFD, fmt.Errorf("unknown packet layout %q", s)
}

func (l Layout) String() string {
	switch l {
	case LayoutFD:
		return "fd"
	case LayoutClassic:
		return "classic"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Size is the encoded packet size for the layout.
func (l Layout) Size() int {
	if l == LayoutClassic {
		return BusPacketSizeClassic
	}
	return BusPacketSizeFD
}

// Version is the version byte written for the layout.
func (l Layout) Version() uint8 {
	if l == LayoutClassic {
		return busVersionClassic
	}
	return busVersionFD
}

// FrameSize is the size of the raw frame region for the layout.
func (l Layout) FrameSize() int {
	if l == LayoutClassic {
		return CANFrameSize
	}
	return CANFDFrameSize
}

// EncodeBusFrame builds a bus packet. rawFrame is copied verbatim into the
// frame region (bytes beyond the region are dropped, a shorter frame leaves the
// remainder zeroed); a nil frame yields a zero-filled payload. The timestamp is
// only present in LayoutFD and is zero when unknown.
func EncodeBusFrame(layout Layout, interfaceID uint16, rawFrame []byte, timestampNs uint64) []byte {
	buf := make([]byte, layout.Size())
	buf[0] = layout.Version()
	buf[1] = 0 // flags, reserved
	binary.BigEndian.PutUint16(buf[2:4], interfaceID)

	frameEnd := 4 + layout.FrameSize()
	copy(buf[4:frameEnd], rawFrame)

	if layout == LayoutFD {
		binary.NativeEndian.PutUint64(buf[frameEnd:], timestampNs)
	}
	return buf
}

// BusPacket is a decoded bus packet.
type BusPacket struct {
	Version     uint8
	Flags       uint8
	InterfaceID uint16
	// Frame aliases the raw frame region of the decoded datagram.
	Frame     []byte
	Timestamp uint64
}

// Layout reports which layout the packet was decoded from.
func (p BusPacket) Layout() Layout {
	if p.Version == busVersionClassic {
		return LayoutClassic
	}
	return LayoutFD
}

// DecodeBus parses a bus packet of either layout.
func DecodeBus(b []byte) (BusPacket, error) {
	var layout Layout
	switch {
	case len(b) == BusPacketSizeFD && b[0] == busVersionFD:
		layout = LayoutFD
	case len(b) == BusPacketSizeClassic && b[0] == busVersionClassic:
		layout = LayoutClassic
	default:
		return BusPacket{}, fmt.Errorf("%w: %d byte bus packet", ErrMalformed, len(b))
	}

	frameEnd := 4 + layout.FrameSize()
	p := BusPacket{
		Version:     b[0],
		Flags:       b[1],
		InterfaceID: binary.BigEndian.Uint16(b[2:4]),
		Frame:       b[4:frameEnd],
	}
	if layout == LayoutFD {
		p.Timestamp = binary.NativeEndian.Uint64(b[frameEnd:])
	}
	return p, nil
}
