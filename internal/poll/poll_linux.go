//go:build linux

package poll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is an epoll set watching descriptors for read readiness.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an empty epoll set.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Add registers fd for read readiness. Level triggered: a descriptor that is
// not drained stays ready on the next Wait.
func (p *Poller) Add(fd int) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	if p.epfd < 0 {
		return ErrClosed
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks without a timeout until at least one descriptor is ready.
// Interrupted waits are restarted.
func (p *Poller) Wait(ready []int) (int, error) {
	if p.epfd < 0 {
		return 0, ErrClosed
	}
	if len(ready) == 0 {
		return 0, errors.New("wait: empty ready buffer")
	}
	if cap(p.events) < len(ready) {
		p.events = make([]unix.EpollEvent, len(ready))
	}
	events := p.events[:len(ready)]

	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ready[i] = int(events[i].Fd)
		}
		return n, nil
	}
}

// Close releases the epoll descriptor. Registered descriptors are not closed.
func (p *Poller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// Notifier is an eventfd that becomes readable after Notify. It is how a
// signal delivered to another goroutine wakes a dispatch loop blocked in Wait.
// Close waits for in-flight Notify calls, so a late Notify never writes to a
// reused descriptor.
type Notifier struct {
	mu sync.RWMutex
	fd int
}

// NewNotifier creates a non-blocking eventfd.
func NewNotifier() (*Notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Notifier{fd: fd}, nil
}

// Fd is the readiness handle, -1 after Close.
func (n *Notifier) Fd() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fd
}

// Notify increments the counter, making Fd readable. Safe from any
// goroutine. After Close it returns ErrClosed.
func (n *Notifier) Notify() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.fd < 0 {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(n.fd, buf[:]); err != nil {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Drain reads and resets the counter, returning how many notifications were
// pending. A counter of zero is not an error.
func (n *Notifier) Drain() (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.fd < 0 {
		return 0, ErrClosed
	}
	var buf [8]byte
	_, err := unix.Read(n.fd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventfd read: %w", err)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close releases the eventfd.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fd < 0 {
		return nil
	}
	err := unix.Close(n.fd)
	n.fd = -1
	return err
}

// Timer is a periodic CLOCK_MONOTONIC timerfd.
type Timer struct {
	fd int
}

// NewTimer arms a non-blocking timer firing every interval, first expiry one
// interval from now.
func NewTimer(interval time.Duration) (*Timer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("timer interval must be positive, got %v", interval)
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}
	ts := unix.NsecToTimespec(interval.Nanoseconds())
	spec := unix.ItimerSpec{Interval: ts, Value: ts}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("timerfd_settime: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// Fd is the readiness handle.
func (t *Timer) Fd() int { return t.fd }

// Expirations consumes the expiry count. Zero with a nil error means the timer
// had not fired yet.
func (t *Timer) Expirations() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("timerfd read: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("timerfd read: short read of %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close disarms and releases the timer.
func (t *Timer) Close() error {
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}
