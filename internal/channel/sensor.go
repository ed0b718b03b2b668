package channel

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/poll"
)

// DefaultSampleTime is used when a sensor channel has no interval.
const DefaultSampleTime = 100 * time.Millisecond

// Ticker is a periodic timer whose descriptor becomes readable on expiry.
type Ticker interface {
	Fd() int
	// Expirations consumes and returns the number of expirations since the
	// last call. Zero means the descriptor was not actually ready.
	Expirations() (uint64, error)
	Close() error
}

// TimerOpener arms a Ticker.
type TimerOpener func(interval time.Duration) (Ticker, error)

// OpenTimer is the production TimerOpener, backed by a timerfd.
func OpenTimer(interval time.Duration) (Ticker, error) {
	t, err := poll.NewTimer(interval)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SensorConfig describes one sensor channel.
type SensorConfig struct {
	Device       string
	Channel      string
	DeviceIndex  uint16
	ChannelIndex uint16
	// Scale and Offset condition the scaled reading.
	Scale  float64
	Offset float64
	// SampleTime is the sampling interval.
	SampleTime time.Duration
	// LongFormat selects the 211-byte packet carrying names.
	LongFormat bool
	// Integer sends the value as an unsigned integer instead of a double.
	Integer bool
}

type sensorChannel struct {
	cfg      SensorConfig
	name     string
	m        Measurement
	devScale float64
	ticker   Ticker
	state    State
}

// OpenSensor locates the measurement through src and arms a timer at
// cfg.SampleTime. A device without a readable scale uses 1.0.
func OpenSensor(cfg SensorConfig, src Source, openTimer TimerOpener) (Channel, error) {
	if openTimer == nil {
		openTimer = OpenTimer
	}
	name := cfg.Device + "/" + cfg.Channel
	if src == nil {
		return nil, fmt.Errorf("%w: %s: no measurement source", ErrOpenFailed, name)
	}

	m, err := src.Find(cfg.Device, cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, name, err)
	}

	devScale, err := m.Scale()
	if err != nil {
		monitoring.Debugf("%s has no scale, using 1.0: %v", name, err)
		devScale = 1.0
	}

	interval := cfg.SampleTime
	if interval <= 0 {
		interval = DefaultSampleTime
	}
	t, err := openTimer(interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: timer: %w", ErrOpenFailed, name, err)
	}

	monitoring.Debugf("opened sensor channel %s (device %d channel %d every %v)", name, cfg.DeviceIndex, cfg.ChannelIndex, interval)
	return &sensorChannel{
		cfg:      cfg,
		name:     name,
		m:        m,
		devScale: devScale,
		ticker:   t,
		state:    StateActive,
	}, nil
}

func (c *sensorChannel) Name() string { return c.name }

func (c *sensorChannel) Handle() int { return c.ticker.Fd() }

// Process consumes the timer expiration and samples the measurement. A
// failed read still yields a packet, marked QualityBad, so consumers see
// every tick.
func (c *sensorChannel) Process() ([]byte, error) {
	if c.state != StateActive {
		return nil, ErrClosed
	}

	n, err := c.ticker.Expirations()
	if err != nil {
		return nil, fmt.Errorf("%w: %s timer: %w", ErrUnavailable, c.name, err)
	}
	if n == 0 {
		return nil, ErrTransient
	}
	if n > 1 {
		monitoring.Debugf("%s missed %d ticks", c.name, n-1)
	}

	quality := packet.QualityBad
	var value packet.Value
	valueString := ""

	raw, err := c.m.ReadRaw()
	if err != nil {
		monitoring.Debugf("read %s failed: %v", c.name, err)
		if c.cfg.Integer {
			value = packet.Uint(0)
		} else {
			value = packet.Float(0)
		}
	} else {
		quality = packet.QualityGood
		v := c.condition(raw)
		if c.cfg.Integer {
			value = packet.Uint(uint64(int64(math.Round(v))))
			valueString = strconv.FormatInt(int64(math.Round(v)), 10)
		} else {
			value = packet.Float(v)
			valueString = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}

	if c.cfg.LongFormat {
		return packet.EncodeSensorLong(c.cfg.DeviceIndex, c.cfg.ChannelIndex, quality, value, c.cfg.Device, c.cfg.Channel, valueString), nil
	}
	return packet.EncodeSensorShort(c.cfg.DeviceIndex, c.cfg.ChannelIndex, quality, value), nil
}

// condition applies the device scale then the configured scale and offset.
func (c *sensorChannel) condition(raw float64) float64 {
	div := c.devScale
	if div == 0 {
		div = 1
	}
	return raw/div*c.cfg.Scale + c.cfg.Offset
}

func (c *sensorChannel) Close() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateClosed
	return c.ticker.Close()
}
