// Package dispatch runs the single-threaded readiness loop.
//
// A Dispatcher owns a set of channels, a Waiter they are registered with, and
// the sink their packets go to. Each Step blocks until at least one handle is
// readable, then services every ready channel in the order channels were
// added before waiting again. Errors from one channel never cut a cycle
// short. Shutdown arrives as one more readable handle, so a blocked wait
// always observes it.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/poll"
)

var (
	// ErrNoChannels is returned by Start when nothing was added.
	ErrNoChannels = errors.New("no channels opened")
	// ErrState is returned when an operation is not valid in the current
	// state.
	ErrState = errors.New("invalid dispatcher state")
)

// State is the dispatcher lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Outcome is the result of one Step.
type Outcome int

const (
	Continue Outcome = iota
	ShutdownRequested
)

func (o Outcome) String() string {
	if o == ShutdownRequested {
		return "ShutdownRequested"
	}
	return "Continue"
}

// Sender is the packet destination.
type Sender interface {
	Send(b []byte) error
	Close() error
}

// ShutdownSource is a handle that becomes readable when the process should
// stop. poll.Notifier implements it.
type ShutdownSource interface {
	Fd() int
	Drain() (uint64, error)
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Waiter   poll.Waiter
	Sink     Sender
	Observer Observer
}

type entry struct {
	ch        channel.Channel
	fd        int
	ready     bool
	closed    atomic.Bool
	processed atomic.Uint64
	errors    atomic.Uint64
}

// Dispatcher multiplexes channels onto one Waiter.
type Dispatcher struct {
	waiter   poll.Waiter
	sink     Sender
	obs      Observer
	shutdown ShutdownSource
	stopFd   int

	mu       sync.Mutex // guards channels against concurrent Channels calls
	channels []*entry
	byFd     map[int]*entry

	ready []int
	state atomic.Int32
	stats stats
}

// New returns an idle dispatcher.
func New(cfg Config) *Dispatcher {
	obs := cfg.Observer
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Dispatcher{
		waiter: cfg.Waiter,
		sink:   cfg.Sink,
		obs:    obs,
		stopFd: -1,
		byFd:   make(map[int]*entry),
	}
}

// State returns the current state. Safe for concurrent use.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
	monitoring.Debugf("dispatcher %s", s)
}

// Add registers ch. Channels may only be added while idle; on error the
// caller still owns ch.
func (d *Dispatcher) Add(ch channel.Channel) error {
	if d.State() != StateIdle {
		return fmt.Errorf("%w: add in %s", ErrState, d.State())
	}
	fd := ch.Handle()
	if _, dup := d.byFd[fd]; dup || fd == d.stopFd {
		return fmt.Errorf("handle %d of %s already registered", fd, ch.Name())
	}
	if err := d.waiter.Add(fd); err != nil {
		return fmt.Errorf("register %s: %w", ch.Name(), err)
	}

	e := &entry{ch: ch, fd: fd}
	d.mu.Lock()
	d.channels = append(d.channels, e)
	d.byFd[fd] = e
	d.mu.Unlock()
	return nil
}

// Watch registers the shutdown handle.
func (d *Dispatcher) Watch(src ShutdownSource) error {
	if d.State() != StateIdle {
		return fmt.Errorf("%w: watch in %s", ErrState, d.State())
	}
	if d.shutdown != nil {
		return errors.New("shutdown source already registered")
	}
	if err := d.waiter.Add(src.Fd()); err != nil {
		return fmt.Errorf("register shutdown handle: %w", err)
	}
	d.shutdown = src
	d.stopFd = src.Fd()
	return nil
}

// Start moves Idle to Running.
func (d *Dispatcher) Start() error {
	if d.State() != StateIdle {
		return fmt.Errorf("%w: start in %s", ErrState, d.State())
	}
	if len(d.channels) == 0 {
		return ErrNoChannels
	}
	if d.sink == nil {
		return errors.New("dispatcher has no sink")
	}
	d.ready = make([]int, len(d.channels)+1)
	d.obs.ChannelsActive(len(d.channels))
	d.setState(StateRunning)
	return nil
}

// Step runs one wait-service cycle. It blocks with no timeout. A ready
// shutdown handle is acted on only after every ready channel was serviced.
func (d *Dispatcher) Step() (Outcome, error) {
	if d.State() != StateRunning {
		return Continue, fmt.Errorf("%w: step in %s", ErrState, d.State())
	}

	n, err := d.waiter.Wait(d.ready)
	if err != nil {
		return Continue, fmt.Errorf("wait: %w", err)
	}
	d.stats.cycles.Add(1)

	shutdown := false
	for _, fd := range d.ready[:n] {
		if fd == d.stopFd && d.shutdown != nil {
			shutdown = true
			continue
		}
		if e, ok := d.byFd[fd]; ok {
			e.ready = true
		}
	}

	for _, e := range d.channels {
		if !e.ready {
			continue
		}
		e.ready = false
		d.service(e)
	}

	if shutdown {
		if _, err := d.shutdown.Drain(); err != nil {
			monitoring.Logf("Warning: draining shutdown handle: %v", err)
		}
		d.setState(StateDraining)
		return ShutdownRequested, nil
	}
	return Continue, nil
}

func (d *Dispatcher) service(e *entry) {
	name := e.ch.Name()
	b, err := e.ch.Process()
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrTransient):
		d.stats.transient.Add(1)
		monitoring.Debugf("%s: %v", name, err)
		return
	default:
		d.stats.unavailable.Add(1)
		e.errors.Add(1)
		d.obs.ChannelError(name, errorKind(err))
		monitoring.Logf("Warning: %s: %v", name, err)
		return
	}

	total := d.stats.processed.Add(1)
	e.processed.Add(1)
	d.obs.PacketProcessed(name, len(b))
	monitoring.Debugf("%s: processed %d packets", name, total)

	if err := d.sink.Send(b); err != nil {
		d.stats.dropped.Add(1)
		d.obs.SendFailed(name)
		return
	}
	d.stats.sent.Add(1)
	d.obs.PacketSent(name)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, channel.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, channel.ErrClosed):
		return "closed"
	default:
		return "other"
	}
}

// Stop deregisters and closes every channel once, in the order added, then
// closes the sink and the waiter. It is valid from any state and idempotent.
func (d *Dispatcher) Stop() error {
	if d.State() == StateStopped {
		return nil
	}
	d.setState(StateDraining)

	var errs []error
	for _, e := range d.channels {
		if e.closed.Load() {
			continue
		}
		if err := d.waiter.Remove(e.fd); err != nil {
			monitoring.Debugf("deregister %s: %v", e.ch.Name(), err)
		}
		e.closed.Store(true)
		if err := e.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.ch.Name(), err))
		}
	}
	d.obs.ChannelsActive(0)

	if d.shutdown != nil {
		if err := d.waiter.Remove(d.stopFd); err != nil {
			monitoring.Debugf("deregister shutdown notifier: %v", err)
		}
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if err := d.waiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close waiter: %w", err))
	}

	d.setState(StateStopped)
	return errors.Join(errs...)
}

// ChannelStatus describes one registered channel.
type ChannelStatus struct {
	Name      string `json:"name"`
	Handle    int    `json:"handle"`
	Processed uint64 `json:"processed"`
	Errors    uint64 `json:"errors"`
	Closed    bool   `json:"closed"`
}

// Channels returns per-channel status in registration order. Safe for
// concurrent use.
func (d *Dispatcher) Channels() []ChannelStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ChannelStatus, 0, len(d.channels))
	for _, e := range d.channels {
		out = append(out, ChannelStatus{
			Name:      e.ch.Name(),
			Handle:    e.fd,
			Processed: e.processed.Load(),
			Errors:    e.errors.Load(),
			Closed:    e.closed.Load(),
		})
	}
	return out
}
