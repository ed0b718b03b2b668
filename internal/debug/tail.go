package debug

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/udpbridge/internal/packet"
)

// tailBuffer is how many lines a slow subscriber may fall behind before
// lines are skipped for it.
const tailBuffer = 64

// Tail publishes a one-line description of every datagram written to it to
// live subscribers. It implements sink.Tap and never blocks the writer.
type Tail struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	skipped     atomic.Uint64
}

func NewTail() *Tail {
	return &Tail{subscribers: make(map[string]chan string)}
}

// Subscribe returns an id for Unsubscribe and the channel lines arrive on.
func (t *Tail) Subscribe() (string, <-chan string) {
	id := uuid.NewString()
	ch := make(chan string, tailBuffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes the subscriber's channel.
func (t *Tail) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Subscribers returns the number of live subscribers.
func (t *Tail) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Skipped counts lines not delivered because a subscriber was full.
func (t *Tail) Skipped() uint64 { return t.skipped.Load() }

func (t *Tail) WriteDatagram(dst netip.AddrPort, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) == 0 {
		return nil
	}
	line := dst.String() + " " + packet.Describe(payload)
	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
			t.skipped.Add(1)
		}
	}
	return nil
}
