//go:build linux

package sink

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/udpbridge/internal/monitoring"
)

type udpSocket struct {
	fd int
	to *unix.SockaddrInet4
}

// OpenUDPSocket opens a non-blocking IPv4 UDP socket with SO_BROADCAST set.
func OpenUDPSocket(opts Options) (Socket, error) {
	if !opts.Dest.Addr().Is4() {
		return nil, fmt.Errorf("destination %s is not IPv4", opts.Dest)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("enable broadcast: %w", err)
	}
	if opts.Interface != "" {
		if err := unix.BindToDevice(fd, opts.Interface); err != nil {
			monitoring.Logf("Warning: could not bind to %s, sending on all interfaces: %v", opts.Interface, err)
		}
	}

	return &udpSocket{
		fd: fd,
		to: &unix.SockaddrInet4{Port: int(opts.Dest.Port()), Addr: opts.Dest.Addr().As4()},
	}, nil
}

func (s *udpSocket) Send(b []byte) (int, error) {
	return unix.SendmsgN(s.fd, b, nil, s.to, 0)
}

func (s *udpSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
