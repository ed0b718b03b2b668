// Command can2udp forwards CAN frames from SocketCAN interfaces as UDP
// broadcasts.
package main

import (
	"os"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/config"
	"github.com/banshee-data/udpbridge/internal/daemon"
)

func load(path string, _ *bridge.Deps) (bridge.Config, error) {
	cfg, err := config.LoadBusFile(path)
	if err != nil {
		return bridge.Config{}, err
	}
	return cfg.Bridge(), nil
}

func main() {
	p := &daemon.Program{
		Name:          "can2udp",
		DefaultConfig: "/etc/can2udp.json",
		Load:          load,
	}
	os.Exit(p.Main(os.Args[1:]))
}
