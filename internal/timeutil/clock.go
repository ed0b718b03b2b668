// Package timeutil abstracts wall-clock time for the code that reads it:
// rate-limited warnings, capture timestamps, receive deadlines and the pid
// file shutdown wait, periodic stats. The dispatch loop itself never reads the clock;
// sampling runs on timerfd.
package timeutil

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// Limiter admits at most one event per Interval. It is not safe for
// concurrent use.
type Limiter struct {
	Clock    Clock
	Interval time.Duration
	last     time.Time
}

// NewLimiter returns a limiter on clock, or the real clock if nil.
func NewLimiter(clock Clock, interval time.Duration) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{Clock: clock, Interval: interval}
}

// Allow reports whether an event may happen now and, if so, starts a new
// interval. The first call is always allowed.
func (l *Limiter) Allow() bool {
	now := l.Clock.Now()
	if !l.last.IsZero() && now.Sub(l.last) < l.Interval {
		return false
	}
	l.last = now
	return true
}

// MockClock only moves when told to. Sleep returns at once, advancing the
// clock and recording the duration. Tickers fire as the clock passes their
// deadlines; like time.Ticker, a tick is dropped if the last one is unread.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	tickers []*mockTicker
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.fireLocked()
	c.mu.Unlock()
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.fireLocked()
	c.mu.Unlock()
}

// Sleeps returns a copy of the recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// NewTicker returns a ticker driven by Advance and Sleep.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{c: c, ch: make(chan time.Time, 1), period: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers reports how many tickers are running.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *MockClock) fireLocked() {
	for _, t := range c.tickers {
		for !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type mockTicker struct {
	c      *MockClock
	ch     chan time.Time
	period time.Duration
	next   time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, other := range t.c.tickers {
		if other == t {
			t.c.tickers = append(t.c.tickers[:i], t.c.tickers[i+1:]...)
			return
		}
	}
}
