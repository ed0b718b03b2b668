package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockWaiter_ReportsOnlyRegistered(t *testing.T) {
	w := NewMockWaiter()
	require.NoError(t, w.Add(3))
	require.NoError(t, w.Add(4))
	assert.Error(t, w.Add(3))

	w.Ready(7, 4)
	ready := make([]int, 4)
	n, err := w.Wait(ready)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, ready[:n])

	require.NoError(t, w.Remove(4))
	assert.Error(t, w.Remove(4))
	assert.Equal(t, []int{3}, w.Registered())
}

func TestMockWaiter_BlocksUntilReady(t *testing.T) {
	w := NewMockWaiter()
	notifier := NewMockNotifier(w, 99)
	require.NoError(t, w.Add(notifier.Fd()))

	done := make(chan int, 1)
	go func() {
		ready := make([]int, 1)
		n, _ := w.Wait(ready)
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("Wait returned with nothing ready")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, notifier.Notify())
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake")
	}

	v, err := notifier.Drain()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestMockWaiter_CloseUnblocks(t *testing.T) {
	w := NewMockWaiter()
	errc := make(chan error, 1)
	go func() {
		_, err := w.Wait(make([]int, 1))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Wait")
	}
	assert.True(t, w.Closed())
}
