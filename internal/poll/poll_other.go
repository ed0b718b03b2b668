//go:build !linux

package poll

import (
	"errors"
	"time"
)

// Poller is unavailable off Linux; the bridge depends on epoll.
type Poller struct{}

func New() (*Poller, error) {
	return nil, errors.ErrUnsupported
}

func (p *Poller) Add(fd int) error {
	return errors.ErrUnsupported
}

func (p *Poller) Remove(fd int) error {
	return errors.ErrUnsupported
}

func (p *Poller) Wait(ready []int) (int, error) {
	return 0, errors.ErrUnsupported
}

func (p *Poller) Close() error {
	return nil
}

type Notifier struct{}

func NewNotifier() (*Notifier, error) {
	return nil, errors.ErrUnsupported
}

func (n *Notifier) Fd() int {
	return -1
}

func (n *Notifier) Notify() error {
	return errors.ErrUnsupported
}

func (n *Notifier) Drain() (uint64, error) {
	return 0, errors.ErrUnsupported
}

func (n *Notifier) Close() error {
	return nil
}

type Timer struct{}

func NewTimer(interval time.Duration) (*Timer, error) {
	return nil, errors.ErrUnsupported
}

func (t *Timer) Fd() int {
	return -1
}

func (t *Timer) Expirations() (uint64, error) {
	return 0, errors.ErrUnsupported
}

func (t *Timer) Close() error {
	return nil
}
