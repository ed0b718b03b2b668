package sink

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *logCapture) logf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *logCapture) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	c := &logCapture{}
	monitoring.SetLogger(c.logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return c
}

func TestOpen_Destination(t *testing.T) {
	captureLogs(t)
	m := &MockSocket{}

	s, err := Open(Config{Port: 4858, Interface: "eth0"}, m.Opener())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("255.255.255.255:4858"), s.Destination())
	assert.Equal(t, "eth0", m.Options.Interface)
	assert.Equal(t, s.Destination(), m.Options.Dest)

	s, err = Open(Config{Port: 4857, Address: "192.168.1.255"}, m.Opener())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.255:4857", s.Destination().String())
}

func TestOpen_Failures(t *testing.T) {
	captureLogs(t)
	m := &MockSocket{}

	tests := []struct {
		name string
		cfg  Config
		open Opener
	}{
		{"no port", Config{}, m.Opener()},
		{"bad address", Config{Port: 1, Address: "broadcast"}, m.Opener()},
		{"ipv6", Config{Port: 1, Address: "ff02::1"}, m.Opener()},
		{"socket error", Config{Port: 1}, func(Options) (Socket, error) { return nil, errors.New("EMFILE") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.cfg, tt.open)
			assert.ErrorIs(t, err, ErrSocketFailed)
		})
	}
}

func TestSink_Send(t *testing.T) {
	captureLogs(t)
	m := &MockSocket{}
	tap := &RecordingTap{}
	s, err := Open(Config{Port: 4858, Tap: tap}, m.Opener())
	require.NoError(t, err)

	require.NoError(t, s.Send([]byte{1, 2, 3}))
	require.NoError(t, s.Send([]byte{4}))

	assert.Equal(t, [][]byte{{1, 2, 3}, {4}}, m.Datagrams())
	assert.Equal(t, uint64(2), s.Sent())
	assert.Zero(t, s.Dropped())
	assert.Equal(t, [][]byte{{1, 2, 3}, {4}}, tap.Payloads)
	assert.Equal(t, s.Destination(), tap.Dest[0])
}

func TestSink_ShortWriteIsDropped(t *testing.T) {
	logs := captureLogs(t)
	m := &MockSocket{ShortBy: 4}
	s, err := Open(Config{Port: 4858}, m.Opener())
	require.NoError(t, err)

	err = s.Send(make([]byte, 84))
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "short write 80 of 84")
	assert.Equal(t, 1, logs.count("dropped 1 packets"))
	assert.Equal(t, uint64(1), s.Dropped())

	// the next send goes through normally
	require.NoError(t, s.Send(make([]byte, 84)))
	assert.Equal(t, uint64(1), s.Sent())
}

func TestSink_WarningsAreRateLimited(t *testing.T) {
	logs := captureLogs(t)
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	fail := errors.New("ENETUNREACH")
	m := &MockSocket{SendErrors: []error{fail, fail, fail, fail}}
	s, err := Open(Config{Port: 4858, Clock: clock, LogInterval: time.Second}, m.Opener())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Send([]byte{1}), fail)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 1, logs.count("dropped"), "only the first failure is logged inside the interval")

	clock.Advance(time.Second)
	assert.ErrorIs(t, s.Send([]byte{1}), ErrSendFailed)
	assert.Equal(t, 1, logs.count("dropped 3 packets"), "accumulated drops reported")
	assert.Equal(t, uint64(4), s.Dropped())
}

func TestSink_CloseReportsPendingDrops(t *testing.T) {
	logs := captureLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := &MockSocket{SendErrors: []error{errors.New("x"), errors.New("y")}}
	s, err := Open(Config{Port: 1, Clock: clock}, m.Opener())
	require.NoError(t, err)

	s.Send([]byte{1})
	s.Send([]byte{1})
	require.NoError(t, s.Close())
	assert.True(t, m.Closed())
	assert.Equal(t, 1, logs.count("dropped 1 packets to 255.255.255.255:1 (latest: y)"))

	assert.NoError(t, s.Close(), "second close is a no-op")
	assert.ErrorIs(t, s.Send([]byte{1}), ErrSendFailed)
}

func TestSink_TapFailureDisablesTap(t *testing.T) {
	logs := captureLogs(t)
	tap := &RecordingTap{Err: errors.New("disk full")}
	m := &MockSocket{}
	s, err := Open(Config{Port: 1, Tap: tap}, m.Opener())
	require.NoError(t, err)

	require.NoError(t, s.Send([]byte{1}))
	require.NoError(t, s.Send([]byte{2}))
	assert.Equal(t, 1, logs.count("capture failed"))
	assert.Len(t, m.Datagrams(), 2)
}
