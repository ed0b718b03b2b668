// Package bridge brings a configured set of channels up, runs them through a
// dispatcher into the broadcast sink, and tears everything down again.
//
// Start tolerates channels that fail to open as long as one succeeds. The
// only fatal conditions are an empty channel set (the sink is then never
// opened), a sink socket failure and failure to create the poller.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/dispatch"
	"github.com/banshee-data/udpbridge/internal/fsutil"
	"github.com/banshee-data/udpbridge/internal/iio"
	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/poll"
	"github.com/banshee-data/udpbridge/internal/sink"
)

// Errors surfaced by Start and by channels at runtime.
var (
	ErrOpenFailed   = channel.ErrOpenFailed
	ErrNoChannels   = dispatch.ErrNoChannels
	ErrTransient    = channel.ErrTransient
	ErrUnavailable  = channel.ErrUnavailable
	ErrSendFailed   = sink.ErrSendFailed
	ErrSocketFailed = sink.ErrSocketFailed
)

// Spec describes one channel. Exactly one of Bus and Sensor is set.
type Spec struct {
	Bus    *channel.BusConfig
	Sensor *channel.SensorConfig
}

// Name identifies the spec in logs.
func (s Spec) Name() string {
	switch {
	case s.Bus != nil:
		return s.Bus.Interface
	case s.Sensor != nil:
		return s.Sensor.Device + "/" + s.Sensor.Channel
	default:
		return "(empty)"
	}
}

// Config is everything Start needs.
type Config struct {
	// Channels are opened in order; that order is also the service and
	// close order.
	Channels []Spec
	Sink     sink.Config
}

// Notifier carries shutdown requests into the wait set.
type Notifier interface {
	Fd() int
	Notify() error
	Drain() (uint64, error)
	Close() error
}

// Deps are the OS-facing constructors. Zero values select the real
// implementations.
type Deps struct {
	BusSockets  channel.BusSocketOpener
	Timers      channel.TimerOpener
	Source      channel.Source
	SinkSocket  sink.Opener
	NewWaiter   func() (poll.Waiter, error)
	NewNotifier func() (Notifier, error)
	Observer    dispatch.Observer
}

func (d Deps) withDefaults() Deps {
	if d.BusSockets == nil {
		d.BusSockets = channel.OpenRawSocket
	}
	if d.Timers == nil {
		d.Timers = channel.OpenTimer
	}
	if d.Source == nil {
		d.Source = iio.NewContext(fsutil.OSFileSystem{}, iio.DefaultRoot)
	}
	if d.SinkSocket == nil {
		d.SinkSocket = sink.OpenUDPSocket
	}
	if d.NewWaiter == nil {
		d.NewWaiter = newPoller
	}
	if d.NewNotifier == nil {
		d.NewNotifier = newNotifier
	}
	return d
}

func newPoller() (poll.Waiter, error) {
	p, err := poll.New()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newNotifier() (Notifier, error) {
	n, err := poll.NewNotifier()
	if err != nil {
		return nil, err
	}
	return n, nil
}

// System is a running bridge.
type System struct {
	// ID distinguishes this run in logs and status output.
	ID      uuid.UUID
	Started time.Time

	d        *dispatch.Dispatcher
	sink     *sink.Sink
	notifier Notifier

	sigMu    sync.Mutex
	sigStops []func()

	stopOnce sync.Once
	stopErr  error
}

// Start opens channels, then the sink, and registers everything with a new
// poller. On success the system is Running.
func Start(cfg Config, deps Deps) (*System, error) {
	deps = deps.withDefaults()

	opened := openChannels(cfg.Channels, deps)
	if len(opened) == 0 {
		return nil, fmt.Errorf("%w (%d configured)", ErrNoChannels, len(cfg.Channels))
	}
	if len(opened) < len(cfg.Channels) {
		monitoring.Logf("Opened %d of %d channels", len(opened), len(cfg.Channels))
	}

	snk, err := sink.Open(cfg.Sink, deps.SinkSocket)
	if err != nil {
		closeAll(opened)
		return nil, err
	}

	w, err := deps.NewWaiter()
	if err != nil {
		closeAll(opened)
		snk.Close()
		return nil, fmt.Errorf("create poller: %w", err)
	}
	n, err := deps.NewNotifier()
	if err != nil {
		closeAll(opened)
		snk.Close()
		w.Close()
		return nil, fmt.Errorf("create shutdown notifier: %w", err)
	}

	d := dispatch.New(dispatch.Config{Waiter: w, Sink: snk, Observer: deps.Observer})
	for _, ch := range opened {
		if err := d.Add(ch); err != nil {
			monitoring.Logf("Warning: %v", err)
			ch.Close()
		}
	}
	if err := d.Watch(n); err != nil {
		d.Stop()
		n.Close()
		return nil, err
	}
	if err := d.Start(); err != nil {
		d.Stop()
		n.Close()
		return nil, err
	}

	s := &System{
		ID:       uuid.New(),
		Started:  time.Now(),
		d:        d,
		sink:     snk,
		notifier: n,
	}
	monitoring.Logf("Bridge %s running with %d channels", s.ID, len(d.Channels()))
	return s, nil
}

func openChannels(specs []Spec, deps Deps) []channel.Channel {
	var opened []channel.Channel
	for _, spec := range specs {
		var (
			ch  channel.Channel
			err error
		)
		switch {
		case spec.Bus != nil:
			ch, err = channel.OpenBus(*spec.Bus, deps.BusSockets)
		case spec.Sensor != nil:
			ch, err = channel.OpenSensor(*spec.Sensor, deps.Source, deps.Timers)
		default:
			err = fmt.Errorf("%w: empty channel spec", ErrOpenFailed)
		}
		if err != nil {
			monitoring.Logf("Warning: %v", err)
			continue
		}
		opened = append(opened, ch)
	}
	return opened
}

func closeAll(chans []channel.Channel) {
	for _, ch := range chans {
		if err := ch.Close(); err != nil {
			monitoring.Logf("Warning: close %s: %v", ch.Name(), err)
		}
	}
}

// Step runs one dispatch cycle.
func (s *System) Step() (dispatch.Outcome, error) {
	return s.d.Step()
}

// Stop closes every channel, the sink and the poller. Safe to call more
// than once; later calls return the first result.
func (s *System) Stop() error {
	s.stopOnce.Do(func() {
		s.stopSignals()
		err := s.d.Stop()
		if nerr := s.notifier.Close(); nerr != nil {
			err = errors.Join(err, fmt.Errorf("close shutdown notifier: %w", nerr))
		}
		st := s.d.Stats()
		monitoring.Logf("Bridge %s stopped: %d processed, %d sent, %d dropped", s.ID, st.Processed, st.Sent, st.Dropped)
		s.stopErr = err
	})
	return s.stopErr
}

// Run steps until shutdown is requested, then stops. A failed wait is
// fatal: the system is stopped and the error returned.
func (s *System) Run() error {
	for {
		out, err := s.Step()
		if err != nil {
			return errors.Join(err, s.Stop())
		}
		if out == dispatch.ShutdownRequested {
			return s.Stop()
		}
	}
}

// RequestShutdown asks the loop to stop at the end of its current cycle.
// Safe for concurrent use.
func (s *System) RequestShutdown() error {
	return s.notifier.Notify()
}

// Status is a point-in-time view of the system.
type Status struct {
	ID          string                   `json:"id"`
	State       string                   `json:"state"`
	Started     time.Time                `json:"started"`
	Destination string                   `json:"destination"`
	Stats       dispatch.Stats           `json:"stats"`
	SinkSent    uint64                   `json:"sink_sent"`
	SinkDropped uint64                   `json:"sink_dropped"`
	Channels    []dispatch.ChannelStatus `json:"channels"`
}

// Status reports the current state. Safe for concurrent use.
func (s *System) Status() Status {
	return Status{
		ID:          s.ID.String(),
		State:       s.d.State().String(),
		Started:     s.Started,
		Destination: s.sink.Destination().String(),
		Stats:       s.d.Stats(),
		SinkSent:    s.sink.Sent(),
		SinkDropped: s.sink.Dropped(),
		Channels:    s.d.Channels(),
	}
}
