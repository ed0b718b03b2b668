// Package poll wraps the kernel readiness primitives the bridge is built on:
// an epoll set that blocks until one of many descriptors is readable, an
// eventfd used to funnel asynchronous notifications (signals) into that set,
// and a timerfd that turns a sampling interval into a readable descriptor.
//
// Everything here is single-consumer. A Poller is owned by one dispatch loop;
// only Notifier.Notify may be called from another goroutine.
package poll

import "errors"

// ErrClosed is returned by operations on a closed Poller.
var ErrClosed = errors.New("poller closed")

// Waiter is the subset of Poller used by the dispatcher, so tests can script
// readiness without real descriptors.
type Waiter interface {
	// Add registers fd for read readiness.
	Add(fd int) error
	// Remove deregisters fd.
	Remove(fd int) error
	// Wait blocks until at least one registered fd is readable and stores up
	// to len(ready) of them in ready, returning the count.
	Wait(ready []int) (int, error)
	Close() error
}

var _ Waiter = (*Poller)(nil)
