// Package pidfile guards against running two copies of a daemon and lets a
// later invocation stop the running one.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/banshee-data/udpbridge/internal/fsutil"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

var (
	// ErrAlreadyRunning is returned by Create when a live process owns the file.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Kill when no live process owns the file.
	ErrNotRunning = errors.New("not running")
	// ErrStillRunning is returned by Kill when the process outlives the timeout.
	ErrStillRunning = errors.New("still running after signal")
)

// DefaultDir holds pid files named after the daemon.
const DefaultDir = "/run"

// pollInterval is how often Kill checks whether the process has gone.
const pollInterval = 100 * time.Millisecond

// Path returns the default pid file for a daemon name.
func Path(name string) string {
	return DefaultDir + "/" + name + ".pid"
}

// File is a pid file at a fixed path.
type File struct {
	FS    fsutil.FileSystem
	Path  string
	Clock timeutil.Clock
	// Alive reports whether pid names a live process.
	Alive func(pid int) bool
	// Signal delivers sig to pid.
	Signal func(pid int, sig syscall.Signal) error
	// Pid is the current process id written by Create.
	Pid int
}

// New returns a File using the real filesystem and process table.
func New(path string) *File {
	return &File{
		FS:     fsutil.OSFileSystem{},
		Path:   path,
		Clock:  timeutil.RealClock{},
		Alive:  processAlive,
		Signal: signalProcess,
		Pid:    os.Getpid(),
	}
}

// Read returns the pid recorded in the file.
func (f *File) Read() (int, error) {
	s, err := fsutil.ReadAttr(f.FS, f.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid contents %q", f.Path, s)
	}
	return pid, nil
}

// Running returns the recorded pid if that process is alive. A missing,
// unreadable or stale file reports not running.
func (f *File) Running() (int, bool) {
	pid, err := f.Read()
	if err != nil {
		return 0, false
	}
	if pid == f.Pid {
		return pid, true
	}
	return pid, f.Alive(pid)
}

// Create writes the current pid. The file is created exclusively, so of two
// daemons starting together only one succeeds. A stale file is removed and
// creation retried once.
func (f *File) Create() error {
	data := []byte(strconv.Itoa(f.Pid) + "\n")
	for attempt := 0; ; attempt++ {
		err := fsutil.WriteExclusive(f.FS, f.Path, data, 0644)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("write pid file: %w", err)
		}

		pid, ok := f.Running()
		switch {
		case ok && pid == f.Pid:
			return nil
		case ok:
			return fmt.Errorf("%w, pid=%d", ErrAlreadyRunning, pid)
		case attempt > 0:
			return fmt.Errorf("write pid file: %w", err)
		}
		if err := f.FS.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale pid file: %w", err)
		}
	}
}

// Remove deletes the file if it still names this process.
func (f *File) Remove() error {
	pid, err := f.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && pid != f.Pid {
		return nil
	}
	if err := f.FS.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Kill sends sig to the recorded process and waits up to timeout for it to
// exit.
func (f *File) Kill(sig syscall.Signal, timeout time.Duration) error {
	pid, ok := f.Running()
	if !ok {
		return ErrNotRunning
	}
	if err := f.Signal(pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	start := f.Clock.Now()
	for f.Alive(pid) {
		if f.Clock.Since(start) >= timeout {
			return fmt.Errorf("%w: pid=%d after %v", ErrStillRunning, pid, timeout)
		}
		f.Clock.Sleep(pollInterval)
	}
	return nil
}
