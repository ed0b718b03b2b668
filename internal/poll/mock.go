package poll

import (
	"fmt"
	"sort"
	"sync"
)

// MockWaiter implements Waiter without descriptors. Readiness is injected
// with Ready; Wait blocks until some is queued.
type MockWaiter struct {
	mu         sync.Mutex
	cond       *sync.Cond
	registered map[int]bool
	queue      [][]int
	closed     bool
	waits      int
	// AddErr is returned by Add if set.
	AddErr error
}

// NewMockWaiter returns an empty waiter.
func NewMockWaiter() *MockWaiter {
	w := &MockWaiter{registered: make(map[int]bool)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *MockWaiter) Add(fd int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.AddErr != nil {
		return w.AddErr
	}
	if w.registered[fd] {
		return fmt.Errorf("fd %d already registered", fd)
	}
	w.registered[fd] = true
	return nil
}

func (w *MockWaiter) Remove(fd int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.registered[fd] {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(w.registered, fd)
	return nil
}

// Ready queues one readiness set. Descriptors that are not registered when
// Wait picks the set up are left out, as epoll would.
func (w *MockWaiter) Ready(fds ...int) {
	w.mu.Lock()
	w.queue = append(w.queue, append([]int(nil), fds...))
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *MockWaiter) Wait(ready []int) (int, error) {
	if len(ready) == 0 {
		return 0, fmt.Errorf("empty ready buffer")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits++
	for {
		if w.closed {
			return 0, ErrClosed
		}
		for len(w.queue) > 0 {
			set := w.queue[0]
			w.queue = w.queue[1:]
			n := 0
			for _, fd := range set {
				if w.registered[fd] && n < len(ready) {
					ready[n] = fd
					n++
				}
			}
			if n > 0 {
				return n, nil
			}
		}
		w.cond.Wait()
	}
}

func (w *MockWaiter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
	return nil
}

// Registered returns the registered descriptors in ascending order.
func (w *MockWaiter) Registered() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fds := make([]int, 0, len(w.registered))
	for fd := range w.registered {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// Waits reports how many times Wait was entered.
func (w *MockWaiter) Waits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waits
}

// Closed reports whether Close was called.
func (w *MockWaiter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// MockNotifier is a shutdown handle that marks itself ready on a MockWaiter.
type MockNotifier struct {
	w       *MockWaiter
	fd      int
	mu      sync.Mutex
	pending uint64
	closed  bool
}

// NewMockNotifier returns a notifier using fd on w.
func NewMockNotifier(w *MockWaiter, fd int) *MockNotifier {
	return &MockNotifier{w: w, fd: fd}
}

func (n *MockNotifier) Fd() int { return n.fd }

func (n *MockNotifier) Notify() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.pending++
	n.mu.Unlock()
	n.w.Ready(n.fd)
	return nil
}

func (n *MockNotifier) Drain() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.pending
	n.pending = 0
	return v, nil
}

func (n *MockNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Closed reports whether Close was called.
func (n *MockNotifier) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
