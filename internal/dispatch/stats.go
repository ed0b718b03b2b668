package dispatch

import "sync/atomic"

// Observer is told about every packet and error. Calls happen on the
// dispatch goroutine and must not block.
type Observer interface {
	PacketProcessed(channel string, size int)
	PacketSent(channel string)
	SendFailed(channel string)
	ChannelError(channel, kind string)
	ChannelsActive(n int)
}

// NoopObserver discards everything.
type NoopObserver struct{}

func (NoopObserver) PacketProcessed(string, int) {}
func (NoopObserver) PacketSent(string)           {}
func (NoopObserver) SendFailed(string)           {}
func (NoopObserver) ChannelError(string, string) {}
func (NoopObserver) ChannelsActive(int)          {}

type stats struct {
	cycles      atomic.Uint64
	processed   atomic.Uint64
	sent        atomic.Uint64
	dropped     atomic.Uint64
	transient   atomic.Uint64
	unavailable atomic.Uint64
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	// Cycles counts completed waits.
	Cycles      uint64 `json:"cycles"`
	Processed   uint64 `json:"processed"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	Transient   uint64 `json:"transient"`
	Unavailable uint64 `json:"unavailable"`
}

// Stats returns the current counters. Safe for concurrent use.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cycles:      d.stats.cycles.Load(),
		Processed:   d.stats.processed.Load(),
		Sent:        d.stats.sent.Load(),
		Dropped:     d.stats.dropped.Load(),
		Transient:   d.stats.transient.Load(),
		Unavailable: d.stats.unavailable.Load(),
	}
}
