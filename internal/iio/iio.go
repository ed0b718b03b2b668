// Package iio reads Linux Industrial I/O devices through sysfs.
//
// A device is a directory under /sys/bus/iio/devices (iio:deviceN) whose
// "name" attribute identifies the driver instance. A channel such as
// "voltage0" is exposed as in_voltage0_raw plus an optional scale, either
// per channel (in_voltage0_scale) or shared by type (in_voltage_scale).
package iio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/fsutil"
)

// DefaultRoot is where the kernel publishes IIO devices.
const DefaultRoot = "/sys/bus/iio/devices"

// ErrNotFound is returned when a device or channel does not exist.
var ErrNotFound = errors.New("not found")

// Context enumerates devices below a sysfs root.
type Context struct {
	fs   fsutil.FileSystem
	root string
}

// NewContext returns a context over root. An empty root means DefaultRoot.
func NewContext(fsys fsutil.FileSystem, root string) *Context {
	if root == "" {
		root = DefaultRoot
	}
	return &Context{fs: fsys, root: root}
}

// Device is one iio:deviceN directory.
type Device struct {
	ctx  *Context
	ID   string
	Name string
	path string
}

// Devices lists every device below the root.
func (c *Context) Devices() ([]*Device, error) {
	entries, err := c.fs.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list iio devices: %w", err)
	}

	var devices []*Device
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "iio:device") {
			continue
		}
		path := filepath.Join(c.root, e.Name())
		name, err := c.readString(filepath.Join(path, "name"))
		if err != nil {
			name = ""
		}
		devices = append(devices, &Device{ctx: c, ID: e.Name(), Name: name, path: path})
	}
	return devices, nil
}

// FindDevice locates a device by its name attribute or its directory name,
// mirroring iio_context_find_device.
func (c *Context) FindDevice(name string) (*Device, error) {
	devices, err := c.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name || d.ID == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("iio device %q: %w", name, ErrNotFound)
}

// Find implements channel.Source.
func (c *Context) Find(device, ch string) (channel.Measurement, error) {
	d, err := c.FindDevice(device)
	if err != nil {
		return nil, err
	}
	m, err := d.FindChannel(ch)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Channel is one measurement of a device.
type Channel struct {
	dev *Device
	ID  string
	dir string
}

// FindChannel locates an input or output channel by id ("voltage0").
func (d *Device) FindChannel(id string) (*Channel, error) {
	for _, dir := range []string{"in", "out"} {
		ch := &Channel{dev: d, ID: id, dir: dir}
		if d.ctx.fs.Exists(ch.attrPath(id, "raw")) {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("iio channel %q/%q: %w", d.Name, id, ErrNotFound)
}

func (ch *Channel) attrPath(prefix, attr string) string {
	return filepath.Join(ch.dev.path, ch.dir+"_"+prefix+"_"+attr)
}

// ReadRaw reads the unscaled sample.
func (ch *Channel) ReadRaw() (float64, error) {
	return ch.dev.ctx.readFloat(ch.attrPath(ch.ID, "raw"))
}

// Scale reads the channel scale, falling back to the attribute shared by all
// channels of the same type.
func (ch *Channel) Scale() (float64, error) {
	v, err := ch.dev.ctx.readFloat(ch.attrPath(ch.ID, "scale"))
	if err == nil {
		return v, nil
	}
	if t := channelType(ch.ID); t != ch.ID {
		return ch.dev.ctx.readFloat(ch.attrPath(t, "scale"))
	}
	return 0, err
}

// channelType strips the index and modifier from a channel id:
// "voltage0" -> "voltage", "accel_x" -> "accel".
func channelType(id string) string {
	end := strings.IndexFunc(id, func(r rune) bool {
		return r == '_' || (r >= '0' && r <= '9')
	})
	if end <= 0 {
		return id
	}
	return id[:end]
}

func (c *Context) readString(path string) (string, error) {
	return fsutil.ReadAttr(c.fs, path)
}

func (c *Context) readFloat(path string) (float64, error) {
	s, err := c.readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
