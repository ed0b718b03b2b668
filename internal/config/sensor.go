package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/iio"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/sink"
)

// DefaultSensorPath is where iio2udp looks for its configuration.
const DefaultSensorPath = "/etc/iio2udp.json"

// Value types for SensorChannel.ValueType.
const (
	ValueDouble  = "double"
	ValueInteger = "integer"
)

// SensorFile is the iio2udp configuration.
type SensorFile struct {
	Port      *int    `json:"port,omitempty" yaml:"port,omitempty"`
	Interface *string `json:"interface,omitempty" yaml:"interface,omitempty"`
	Address   *string `json:"address,omitempty" yaml:"address,omitempty"`
	// IIORoot overrides the sysfs device directory.
	IIORoot *string `json:"iio_root,omitempty" yaml:"iio_root,omitempty"`

	Channels []SensorChannel `json:"channels" yaml:"channels"`
}

// SensorChannel is one sampled measurement.
type SensorChannel struct {
	Device  *string  `json:"device,omitempty" yaml:"device,omitempty"`
	Channel *string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	Scale   *float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	Offset  *float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	// SampleTime is the sampling interval in milliseconds.
	SampleTime   *int    `json:"sample_time,omitempty" yaml:"sample_time,omitempty"`
	LongFormat   *bool   `json:"long_format,omitempty" yaml:"long_format,omitempty"`
	DeviceIndex  *int    `json:"device_index,omitempty" yaml:"device_index,omitempty"`
	ChannelIndex *int    `json:"channel_index,omitempty" yaml:"channel_index,omitempty"`
	ValueType    *string `json:"value_type,omitempty" yaml:"value_type,omitempty"`
}

// LoadSensorFile loads and validates an iio2udp configuration.
func LoadSensorFile(path string) (*SensorFile, error) {
	cfg := &SensorFile{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SensorFile) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}

	type identity struct{ device, channel int }
	seen := make(map[identity]int)
	for i, ch := range c.Channels {
		if ch.GetDevice() == "" || ch.GetChannel() == "" {
			return fmt.Errorf("channels[%d]: device and channel are required", i)
		}
		if err := validateIndex(fmt.Sprintf("channels[%d].device_index", i), ch.DeviceIndex); err != nil {
			return err
		}
		if err := validateIndex(fmt.Sprintf("channels[%d].channel_index", i), ch.ChannelIndex); err != nil {
			return err
		}
		if ch.SampleTime != nil && *ch.SampleTime <= 0 {
			return fmt.Errorf("channels[%d]: sample_time must be positive, got %d", i, *ch.SampleTime)
		}
		if ch.ValueType != nil && *ch.ValueType != ValueDouble && *ch.ValueType != ValueInteger {
			return fmt.Errorf("channels[%d]: value_type must be %q or %q, got %q", i, ValueDouble, ValueInteger, *ch.ValueType)
		}

		id := identity{ch.GetDeviceIndex(), ch.GetChannelIndex(i)}
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("channels[%d]: device_index %d channel_index %d already used by channels[%d]", i, id.device, id.channel, prev)
		}
		seen[id] = i
	}
	return nil
}

// GetPort returns the destination port or DefaultSensorPort.
func (c *SensorFile) GetPort() int {
	if c.Port == nil {
		return packet.DefaultSensorPort
	}
	return *c.Port
}

// GetInterface returns the broadcast bind device, empty for all.
func (c *SensorFile) GetInterface() string {
	if c.Interface == nil {
		return ""
	}
	return *c.Interface
}

// GetAddress returns the broadcast destination address.
func (c *SensorFile) GetAddress() string {
	if c.Address == nil {
		return sink.DefaultAddress
	}
	return *c.Address
}

// GetIIORoot returns the sysfs device directory.
func (c *SensorFile) GetIIORoot() string {
	if c.IIORoot == nil || *c.IIORoot == "" {
		return iio.DefaultRoot
	}
	return *c.IIORoot
}

func (s SensorChannel) GetDevice() string {
	if s.Device == nil {
		return ""
	}
	return *s.Device
}

func (s SensorChannel) GetChannel() string {
	if s.Channel == nil {
		return ""
	}
	return *s.Channel
}

// GetScale returns the scale value or 1.0.
func (s SensorChannel) GetScale() float64 {
	if s.Scale == nil {
		return 1.0
	}
	return *s.Scale
}

// GetOffset returns the offset value or 0.
func (s SensorChannel) GetOffset() float64 {
	if s.Offset == nil {
		return 0
	}
	return *s.Offset
}

// GetSampleTime returns the sampling interval, 100ms by default.
func (s SensorChannel) GetSampleTime() time.Duration {
	if s.SampleTime == nil {
		return channel.DefaultSampleTime
	}
	return time.Duration(*s.SampleTime) * time.Millisecond
}

func (s SensorChannel) GetLongFormat() bool {
	return s.LongFormat != nil && *s.LongFormat
}

func (s SensorChannel) GetDeviceIndex() int {
	if s.DeviceIndex == nil {
		return 0
	}
	return *s.DeviceIndex
}

// GetChannelIndex returns the configured index or the entry's position.
func (s SensorChannel) GetChannelIndex(position int) int {
	if s.ChannelIndex == nil {
		return position
	}
	return *s.ChannelIndex
}

// GetInteger reports whether values are sent as integers.
func (s SensorChannel) GetInteger() bool {
	return s.ValueType != nil && *s.ValueType == ValueInteger
}

// SinkConfig returns the broadcast sink settings.
func (c *SensorFile) SinkConfig() sink.Config {
	return sink.Config{
		Port:      uint16(c.GetPort()),
		Interface: c.GetInterface(),
		Address:   c.GetAddress(),
	}
}

// Specs returns one sensor channel spec per entry, in file order.
func (c *SensorFile) Specs() []bridge.Spec {
	specs := make([]bridge.Spec, 0, len(c.Channels))
	for i, ch := range c.Channels {
		specs = append(specs, bridge.Spec{Sensor: &channel.SensorConfig{
			Device:       ch.GetDevice(),
			Channel:      ch.GetChannel(),
			DeviceIndex:  uint16(ch.GetDeviceIndex()),
			ChannelIndex: uint16(ch.GetChannelIndex(i)),
			Scale:        ch.GetScale(),
			Offset:       ch.GetOffset(),
			SampleTime:   ch.GetSampleTime(),
			LongFormat:   ch.GetLongFormat(),
			Integer:      ch.GetInteger(),
		}})
	}
	return specs
}

// Bridge returns the full bridge configuration.
func (c *SensorFile) Bridge() bridge.Config {
	return bridge.Config{Channels: c.Specs(), Sink: c.SinkConfig()}
}
