package debug

import (
	"net/netip"
	"testing"

	"github.com/banshee-data/udpbridge/internal/packet"
)

func TestTail_FanOut(t *testing.T) {
	tail := NewTail()
	dst := netip.MustParseAddrPort("255.255.255.255:4858")
	b := packet.EncodeBusFrame(packet.LayoutClassic, 2, packet.Frame{ID: 0x7FF}.Marshal(false), 0)

	// Nobody listening.
	if err := tail.WriteDatagram(dst, b); err != nil {
		t.Fatalf("WriteDatagram: %v", err)
	}

	id1, c1 := tail.Subscribe()
	_, c2 := tail.Subscribe()
	if tail.Subscribers() != 2 {
		t.Fatalf("Subscribers() = %d, want 2", tail.Subscribers())
	}
	tail.WriteDatagram(dst, b)

	want := "255.255.255.255:4858 bus if=2 7FF#"
	for i, c := range []<-chan string{c1, c2} {
		if got := <-c; got != want {
			t.Errorf("subscriber %d got %q, want %q", i, got, want)
		}
	}

	tail.Unsubscribe(id1)
	if _, ok := <-c1; ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	tail.Unsubscribe(id1)
	if tail.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", tail.Subscribers())
	}
}

func TestTail_SlowSubscriberSkips(t *testing.T) {
	tail := NewTail()
	_, c := tail.Subscribe()
	dst := netip.MustParseAddrPort("10.0.0.255:4857")
	b := packet.EncodeSensorShort(0, 0, packet.QualityGood, packet.Float(0))

	for i := 0; i < tailBuffer+5; i++ {
		tail.WriteDatagram(dst, b)
	}
	if tail.Skipped() != 5 {
		t.Errorf("Skipped() = %d, want 5", tail.Skipped())
	}
	if len(c) != tailBuffer {
		t.Errorf("buffered %d lines, want %d", len(c), tailBuffer)
	}
}
