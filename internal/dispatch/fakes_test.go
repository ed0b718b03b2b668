package dispatch

import (
	"errors"
	"fmt"

	"github.com/banshee-data/udpbridge/internal/channel"
)

// fakeWaiter replays scripted readiness sets.
type fakeWaiter struct {
	added   []int
	removed []int
	script  [][]int
	waits   int
	closed    bool
	addErr    error
	removeErr error
}

func (w *fakeWaiter) Add(fd int) error {
	if w.addErr != nil {
		return w.addErr
	}
	w.added = append(w.added, fd)
	return nil
}

func (w *fakeWaiter) Remove(fd int) error {
	w.removed = append(w.removed, fd)
	return w.removeErr
}

func (w *fakeWaiter) Wait(ready []int) (int, error) {
	w.waits++
	if len(w.script) == 0 {
		return 0, errors.New("fake waiter: script exhausted")
	}
	next := w.script[0]
	w.script = w.script[1:]
	return copy(ready, next), nil
}

func (w *fakeWaiter) Close() error {
	w.closed = true
	return nil
}

// fakeChannel returns scripted Process results and counts calls.
type fakeChannel struct {
	name     string
	fd       int
	results  []error
	payload  []byte
	calls    int
	closes   int
	closeErr error
	log      *[]string
}

func (c *fakeChannel) Name() string { return c.name }
func (c *fakeChannel) Handle() int  { return c.fd }

func (c *fakeChannel) Process() ([]byte, error) {
	c.calls++
	if c.log != nil {
		*c.log = append(*c.log, "process "+c.name)
	}
	if len(c.results) > 0 {
		err := c.results[0]
		c.results = c.results[1:]
		if err != nil {
			return nil, err
		}
	}
	if c.payload != nil {
		return c.payload, nil
	}
	return []byte(c.name), nil
}

func (c *fakeChannel) Close() error {
	c.closes++
	if c.log != nil {
		*c.log = append(*c.log, "close "+c.name)
	}
	return c.closeErr
}

// fakeSink records sent payloads; errs are returned in order.
type fakeSink struct {
	sent   [][]byte
	errs   []error
	closes int
	log    *[]string
}

func (s *fakeSink) Send(b []byte) error {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, b)
	return nil
}

func (s *fakeSink) Close() error {
	s.closes++
	if s.log != nil {
		*s.log = append(*s.log, "close sink")
	}
	return nil
}

type fakeShutdown struct {
	fd     int
	drains int
}

func (s *fakeShutdown) Fd() int { return s.fd }

func (s *fakeShutdown) Drain() (uint64, error) {
	s.drains++
	return 1, nil
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	processed, sent, failed int
	errors                  []string
	active                  []int
}

func (o *recordingObserver) PacketProcessed(string, int) { o.processed++ }
func (o *recordingObserver) PacketSent(string)           { o.sent++ }
func (o *recordingObserver) SendFailed(string)           { o.failed++ }
func (o *recordingObserver) ChannelError(ch, kind string) {
	o.errors = append(o.errors, fmt.Sprintf("%s:%s", ch, kind))
}
func (o *recordingObserver) ChannelsActive(n int) { o.active = append(o.active, n) }

var (
	errTransient   = fmt.Errorf("nothing queued: %w", channel.ErrTransient)
	errUnavailable = fmt.Errorf("unexpected frame size 3: %w", channel.ErrUnavailable)
)
