//go:build linux

package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/poll"
)

// eventChannel is readable whenever its eventfd has been notified.
type eventChannel struct {
	name   string
	n      *poll.Notifier
	closes int
}

func (c *eventChannel) Name() string { return c.name }
func (c *eventChannel) Handle() int  { return c.n.Fd() }

func (c *eventChannel) Process() ([]byte, error) {
	v, err := c.n.Drain()
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, channel.ErrTransient
	}
	return []byte(c.name), nil
}

func (c *eventChannel) Close() error {
	c.closes++
	return c.n.Close()
}

func TestDispatcher_ShutdownWhileBlocked(t *testing.T) {
	p, err := poll.New()
	require.NoError(t, err)

	var chans []*eventChannel
	for _, name := range []string{"can0", "iio:device0/voltage0"} {
		n, err := poll.NewNotifier()
		require.NoError(t, err)
		chans = append(chans, &eventChannel{name: name, n: n})
	}
	stop, err := poll.NewNotifier()
	require.NoError(t, err)
	defer stop.Close()

	s := &fakeSink{}
	d := New(Config{Waiter: p, Sink: s})
	for _, c := range chans {
		require.NoError(t, d.Add(c))
	}
	require.NoError(t, d.Watch(stop))
	require.NoError(t, d.Start())

	// both channels ready in one cycle
	require.NoError(t, chans[0].n.Notify())
	require.NoError(t, chans[1].n.Notify())
	out, err := d.Step()
	require.NoError(t, err)
	assert.Equal(t, Continue, out)
	assert.Len(t, s.sent, 2)

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := d.Step()
		done <- result{out, err}
	}()

	// let the loop block, then request shutdown
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, stop.Notify())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, ShutdownRequested, r.out)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Step did not observe shutdown")
	}
	assert.Equal(t, StateDraining, d.State())

	require.NoError(t, d.Stop())
	for _, c := range chans {
		assert.Equal(t, 1, c.closes, c.name)
	}
	assert.Equal(t, 1, s.closes)
	assert.Equal(t, StateStopped, d.State())
}
