//go:build linux

package poll

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_NotifierWakesWait(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	n, err := NewNotifier()
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, p.Add(n.Fd()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, n.Notify())
	}()

	ready := make([]int, 4)
	count, err := p.Wait(ready)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.Equal(t, n.Fd(), ready[0])
	wg.Wait()

	pending, err := n.Drain()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pending)

	// drained eventfd reads as zero, not an error
	pending, err = n.Drain()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPoller_ReportsAllReady(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	var notifiers []*Notifier
	for i := 0; i < 3; i++ {
		n, err := NewNotifier()
		require.NoError(t, err)
		defer n.Close()
		require.NoError(t, p.Add(n.Fd()))
		require.NoError(t, n.Notify())
		notifiers = append(notifiers, n)
	}

	ready := make([]int, 8)
	count, err := p.Wait(ready)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	want := map[int]bool{}
	for _, n := range notifiers {
		want[n.Fd()] = true
	}
	for _, fd := range ready[:count] {
		assert.True(t, want[fd], "unexpected fd %d", fd)
	}
}

func TestPoller_Remove(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	a, err := NewNotifier()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewNotifier()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, p.Add(a.Fd()))
	require.NoError(t, p.Add(b.Fd()))
	require.NoError(t, p.Remove(a.Fd()))

	require.NoError(t, a.Notify())
	require.NoError(t, b.Notify())

	ready := make([]int, 4)
	count, err := p.Wait(ready)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.Equal(t, b.Fd(), ready[0])

	assert.Error(t, p.Remove(a.Fd()), "removing an unregistered fd should fail")
}

func TestPoller_Closed(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Wait(make([]int, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Add(0), ErrClosed)
}

func TestTimer_Fires(t *testing.T) {
	timer, err := NewTimer(10 * time.Millisecond)
	require.NoError(t, err)
	defer timer.Close()

	// not yet expired
	n, err := timer.Expirations()
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err := New()
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Add(timer.Fd()))

	ready := make([]int, 1)
	count, err := p.Wait(ready)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.Equal(t, timer.Fd(), ready[0])

	n, err = timer.Expirations()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, uint64(1))
}

func TestNewTimer_RejectsNonPositive(t *testing.T) {
	_, err := NewTimer(0)
	assert.Error(t, err)
}

func TestNotifier_NotifyAfterClose(t *testing.T) {
	n, err := NewNotifier()
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.ErrorIs(t, n.Notify(), ErrClosed)
	_, err = n.Drain()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, -1, n.Fd())
}

// Run with -race: Notify from one goroutine while another closes.
func TestNotifier_NotifyDuringClose(t *testing.T) {
	n, err := NewNotifier()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if err := n.Notify(); err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}
	}()
	time.Sleep(time.Millisecond)
	require.NoError(t, n.Close())
	wg.Wait()

	assert.ErrorIs(t, n.Notify(), ErrClosed)
}
