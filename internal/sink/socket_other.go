//go:build !linux

package sink

import (
	"errors"
	"fmt"
)

// OpenUDPSocket is only available on Linux.
func OpenUDPSocket(opts Options) (Socket, error) {
	return nil, fmt.Errorf("broadcast to %s: %w", opts.Dest, errors.ErrUnsupported)
}
