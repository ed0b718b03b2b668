//go:build linux

package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/udpbridge/internal/monitoring"
)

type rawSocket struct {
	fd    int
	iface string
	fdOn  bool
	oob   []byte
}

// OpenRawSocket opens a non-blocking CAN_RAW socket bound to opts.Interface.
// A filter or FD mode the kernel refuses is logged and skipped; the socket is
// still usable.
func OpenRawSocket(opts SocketOptions) (BusSocket, error) {
	ifi, err := net.InterfaceByName(opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("lookup interface: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if len(opts.Filters) > 0 {
		kf := make([]unix.CanFilter, len(opts.Filters))
		for i, f := range opts.Filters {
			kf[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
			monitoring.Logf("Error setting filters on %s, receiving all frames: %v", opts.Interface, err)
		}
	}

	fdOn := false
	if opts.FD {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			monitoring.Logf("Error enabling CAN FD on %s, using classic frames: %v", opts.Interface, err)
		} else {
			fdOn = true
		}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1); err != nil {
		monitoring.Debugf("no receive timestamps on %s: %v", opts.Interface, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}

	return &rawSocket{
		fd:    fd,
		iface: opts.Interface,
		fdOn:  fdOn,
		oob:   make([]byte, unix.CmsgSpace(16)),
	}, nil
}

func (s *rawSocket) Fd() int { return s.fd }

func (s *rawSocket) FDEnabled() bool { return s.fdOn }

func (s *rawSocket) ReadFrame(buf []byte) (int, uint64, error) {
	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, s.oob, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, 0, ErrTransient
		}
		return 0, 0, err
	}
	return n, receiveTimestamp(s.oob[:oobn]), nil
}

func (s *rawSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// receiveTimestamp extracts SCM_TIMESTAMPNS from ancillary data.
func receiveTimestamp(oob []byte) uint64 {
	if len(oob) == 0 {
		return 0
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_TIMESTAMPNS {
			continue
		}
		switch {
		case len(m.Data) >= 16:
			sec := binary.NativeEndian.Uint64(m.Data[0:8])
			nsec := binary.NativeEndian.Uint64(m.Data[8:16])
			return sec*1e9 + nsec
		case len(m.Data) >= 8:
			sec := uint64(binary.NativeEndian.Uint32(m.Data[0:4]))
			nsec := uint64(binary.NativeEndian.Uint32(m.Data[4:8]))
			return sec*1e9 + nsec
		}
	}
	return 0
}
