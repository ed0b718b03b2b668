//go:build !linux

package channel

import (
	"errors"
	"fmt"
)

// OpenRawSocket is only available on Linux.
func OpenRawSocket(opts SocketOptions) (BusSocket, error) {
	return nil, fmt.Errorf("socketcan %s: %w", opts.Interface, errors.ErrUnsupported)
}
