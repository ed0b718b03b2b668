// Package channel implements the data sources multiplexed by the dispatcher.
//
// A Channel owns one readiness handle. When the dispatcher sees the handle
// readable it calls Process, which must not block, and gets back one encoded
// packet. Two variants exist: a bus channel reading SocketCAN frames and a
// sensor channel sampling an IIO measurement on a timerfd.
package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrOpenFailed wraps every failure to acquire a channel's resources. The
	// channel is left out of the active set; this is never fatal by itself.
	ErrOpenFailed = errors.New("channel open failed")
	// ErrTransient means the handle was ready but no data could be consumed
	// (spurious wakeup, interrupted read). Nothing is emitted.
	ErrTransient = errors.New("no data ready")
	// ErrUnavailable means data was read but could not be turned into a
	// packet. The channel stays open.
	ErrUnavailable = errors.New("data unavailable")
	// ErrClosed is returned by Process and Close on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// Channel is one source of packets.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Handle is the descriptor the dispatcher waits on.
	Handle() int
	// Process consumes one readiness event and returns an encoded packet.
	Process() ([]byte, error)
	// Close releases the handle. It must be called exactly once.
	Close() error
}

// State is the lifecycle of a channel.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Measurement is a readable sensor value.
type Measurement interface {
	// ReadRaw returns the current unscaled sample.
	ReadRaw() (float64, error)
	// Scale returns the device's internal scale.
	Scale() (float64, error)
}

// Source locates measurements by device and channel name.
type Source interface {
	Find(device, channel string) (Measurement, error)
}
