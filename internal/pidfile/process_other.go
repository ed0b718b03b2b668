//go:build !unix

package pidfile

import (
	"errors"
	"syscall"
)

func processAlive(int) bool { return false }

func signalProcess(int, syscall.Signal) error { return errors.ErrUnsupported }
