package main

import (
	"bytes"
	"context"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/capture"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/recorddb"
)

func writeCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pcap")
	w, err := capture.Create(path, capture.Options{})
	require.NoError(t, err)

	bus := netip.AddrPortFrom(netip.IPv4Unspecified(), packet.DefaultBusPort)
	sensor := netip.AddrPortFrom(netip.IPv4Unspecified(), packet.DefaultSensorPort)
	raw := packet.Frame{ID: 0x123, Len: 1, Data: [64]byte{0x42}}.Marshal(true)
	require.NoError(t, w.WriteDatagram(bus, packet.EncodeBusFrame(packet.LayoutFD, 0, raw, 1)))
	require.NoError(t, w.WriteDatagram(bus, packet.EncodeBusFrame(packet.LayoutFD, 1, raw, 2)))
	require.NoError(t, w.WriteDatagram(sensor, packet.EncodeSensorShort(1, 0, packet.QualityGood, packet.Float(3.3))))
	require.NoError(t, w.Close())
	return path
}

func TestRun_ReplayToDatabase(t *testing.T) {
	in := writeCapture(t)
	dbPath := filepath.Join(t.TempDir(), "records.db")

	code := run(context.Background(), []string{"-replay", in, "-db", dbPath}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, 0, code)

	db, err := recorddb.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, in, s.ListenAddr)
	assert.Equal(t, int64(2), s.BusCount)
	assert.Equal(t, int64(1), s.SensorCount)
	assert.NotNil(t, s.EndedAt)
}

func TestRun_ReplayPortFilter(t *testing.T) {
	in := writeCapture(t)
	dbPath := filepath.Join(t.TempDir(), "records.db")

	code := run(context.Background(), []string{"-replay", in, "-port", "4857", "-db", dbPath}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, 0, code)

	db, err := recorddb.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].BusCount)
	assert.Equal(t, int64(1), sessions[0].SensorCount)
}

func TestRun_Flags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "bridge-listen")

	assert.Equal(t, 1, run(context.Background(), []string{"-port", "70000"}, &stdout, &stderr))
	assert.Equal(t, 1, run(context.Background(), []string{"stray"}, &stdout, &stderr))
	assert.Equal(t, 0, run(context.Background(), []string{"-h"}, &stdout, &stderr))
}

func TestRun_MissingReplay(t *testing.T) {
	code := run(context.Background(), []string{"-replay", filepath.Join(t.TempDir(), "none.pcap")}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, 1, code)
}

func TestRun_CancelledListen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, run(ctx, []string{"-listen", "127.0.0.1:0"}, &bytes.Buffer{}, &bytes.Buffer{}))
}
