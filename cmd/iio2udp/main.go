// Command iio2udp samples Linux IIO channels and broadcasts the readings
// over UDP.
package main

import (
	"os"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/config"
	"github.com/banshee-data/udpbridge/internal/daemon"
	"github.com/banshee-data/udpbridge/internal/fsutil"
	"github.com/banshee-data/udpbridge/internal/iio"
)

func load(path string, deps *bridge.Deps) (bridge.Config, error) {
	cfg, err := config.LoadSensorFile(path)
	if err != nil {
		return bridge.Config{}, err
	}
	if deps.Source == nil {
		deps.Source = iio.NewContext(fsutil.OSFileSystem{}, cfg.GetIIORoot())
	}
	return cfg.Bridge(), nil
}

func main() {
	p := &daemon.Program{
		Name:          "iio2udp",
		DefaultConfig: "/etc/iio2udp.json",
		Load:          load,
	}
	os.Exit(p.Main(os.Args[1:]))
}
