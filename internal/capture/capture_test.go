package capture

import (
	"bytes"
	"errors"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/timeutil"
)

func TestWriter_RoundTrip(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC))
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{Source: netip.MustParseAddr("192.168.1.10"), Clock: clock})
	require.NoError(t, err)

	busDst := netip.MustParseAddrPort("255.255.255.255:4858")
	sensorDst := netip.MustParseAddrPort("255.255.255.255:4857")
	bus := packet.EncodeBusFrame(packet.LayoutFD, 1, packet.Frame{ID: 0x123, Len: 1}.Marshal(true), 42)
	sensor := packet.EncodeSensorShort(1, 0, packet.QualityGood, packet.Float(3.3))

	require.NoError(t, w.WriteDatagram(busDst, bus))
	clock.Advance(time.Millisecond)
	require.NoError(t, w.WriteDatagram(sensorDst, sensor))
	assert.Equal(t, 2, w.Count())

	var got []Datagram
	n, err := ReadDatagrams(bytes.NewReader(buf.Bytes()), 0, func(d Datagram) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	want := []Datagram{
		{
			Time:    time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
			Src:     netip.MustParseAddrPort("192.168.1.10:4858"),
			Dst:     busDst,
			Payload: bus,
		},
		{
			Time:    time.Date(2025, 6, 1, 12, 0, 0, 124456789, time.UTC),
			Src:     netip.MustParseAddrPort("192.168.1.10:4857"),
			Dst:     sensorDst,
			Payload: sensor,
		},
	}
	opt := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	if diff := cmp.Diff(want, got, opt, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
		t.Errorf("datagrams mismatch (-want +got):\n%s", diff)
	}
}

func TestReadDatagrams_PortFilter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{SourcePort: 5000})
	require.NoError(t, err)
	w.WriteDatagram(netip.MustParseAddrPort("10.0.0.255:4858"), []byte{1})
	w.WriteDatagram(netip.MustParseAddrPort("10.0.0.255:4857"), []byte{2})
	w.WriteDatagram(netip.MustParseAddrPort("10.0.0.255:4858"), []byte{3})

	var payloads [][]byte
	n, err := ReadDatagrams(&buf, 4858, func(d Datagram) error {
		assert.Equal(t, uint16(5000), d.Src.Port())
		assert.Equal(t, netip.IPv4Unspecified(), d.Src.Addr())
		payloads = append(payloads, d.Payload)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{1}, {3}}, payloads)
}

func TestReadDatagrams_StopsOnCallbackError(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		w.WriteDatagram(netip.MustParseAddrPort("10.0.0.255:4858"), []byte{byte(i)})
	}

	stop := errors.New("stop")
	n, err := ReadDatagrams(&buf, 0, func(Datagram) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestReadDatagrams_NotPcap(t *testing.T) {
	_, err := ReadDatagrams(bytes.NewReader([]byte("definitely not a capture")), 0, func(Datagram) error { return nil })
	assert.Error(t, err)
}

func TestWriter_Rejects(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Options{})
	require.NoError(t, err)

	assert.Error(t, w.WriteDatagram(netip.MustParseAddrPort("[::1]:4858"), []byte{1}))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.WriteDatagram(netip.MustParseAddrPort("10.0.0.255:4858"), []byte{1}))
	assert.Equal(t, 0, w.Count())
}

func TestCreate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pcap")
	w, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, w.WriteDatagram(netip.MustParseAddrPort("255.255.255.255:4857"), []byte("x")))
	require.NoError(t, w.Close())

	n, err := ReadFile(path, 4857, func(d Datagram) error {
		assert.Equal(t, []byte("x"), d.Payload)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.pcap"), 0, nil)
	assert.Error(t, err)
}
