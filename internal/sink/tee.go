package sink

import (
	"errors"
	"net/netip"

	"github.com/banshee-data/udpbridge/internal/monitoring"
)

// Tee fans datagrams out to several taps. A tap that fails is logged and
// removed; the others keep receiving.
type Tee struct {
	taps []Tap
}

// NewTee skips nil taps.
func NewTee(taps ...Tap) *Tee {
	t := &Tee{}
	for _, tap := range taps {
		if tap != nil {
			t.taps = append(t.taps, tap)
		}
	}
	return t
}

// Len returns the number of live taps.
func (t *Tee) Len() int { return len(t.taps) }

// WriteDatagram returns an error only once every tap has failed.
func (t *Tee) WriteDatagram(dst netip.AddrPort, payload []byte) error {
	live := t.taps[:0]
	for _, tap := range t.taps {
		if err := tap.WriteDatagram(dst, payload); err != nil {
			monitoring.Logf("Warning: tap failed, disabling: %v", err)
			continue
		}
		live = append(live, tap)
	}
	t.taps = live
	if len(t.taps) == 0 {
		return errors.New("no taps left")
	}
	return nil
}
