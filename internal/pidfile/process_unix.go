//go:build unix

package pidfile

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func signalProcess(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}
