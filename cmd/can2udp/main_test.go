package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/packet"
)

func TestLoad(t *testing.T) {
	var deps bridge.Deps
	cfg, err := load("../../config/can2udp.example.json", &deps)
	require.NoError(t, err)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "can1", cfg.Channels[1].Bus.Interface)
	assert.Equal(t, uint16(packet.DefaultBusPort), cfg.Sink.Port)
	assert.Nil(t, deps.Source)
}

func TestLoad_Missing(t *testing.T) {
	_, err := load("does-not-exist.json", &bridge.Deps{})
	assert.Error(t, err)
}
