package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// DefaultSensorPort is the destination port for sensor packets.
	DefaultSensorPort = 4857

	// SensorShortSize is the size of a short sensor packet.
	SensorShortSize = 16
	// NameFieldSize is the width of each NUL padded string field of a long
	// sensor packet (64 characters plus terminator).
	NameFieldSize = 64 + 1
	// SensorLongSize is the size of a long sensor packet.
	SensorLongSize = SensorShortSize + 3*NameFieldSize

	sensorVersion = 1
)

// OPC quality codes carried in sensor packets.
const (
	QualityGood uint16 = 0xC0
	QualityBad  uint16 = 0x00
)

// Kind tells which member of the numeric union a Value holds.
type Kind uint8

const (
	KindFloat Kind = iota
	KindUint
)

// Value is the numeric union of a sensor packet. The packet itself does not
// record the kind; the producing channel decides and the consumer must know.
type Value struct {
	kind Kind
	bits uint64
}

// Float returns a Value holding a double.
func Float(f float64) Value { return Value{kind: KindFloat, bits: math.Float64bits(f)} }

// Uint returns a Value holding a 64-bit integer.
func Uint(u uint64) Value { return Value{kind: KindUint, bits: u} }

// Kind reports which member is meaningful.
func (v Value) Kind() Kind { return v.kind }

// Bits is the raw 8 byte union content.
func (v Value) Bits() uint64 { return v.bits }

// Float64 interprets the union as a double.
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// Uint64 interprets the union as an integer.
func (v Value) Uint64() uint64 { return v.bits }

func (v Value) String() string {
	if v.kind == KindUint {
		return fmt.Sprintf("%d", v.bits)
	}
	return fmt.Sprintf("%g", v.Float64())
}

// EncodeSensorShort builds a 16 byte sensor packet.
func EncodeSensorShort(deviceID, channelID, quality uint16, value Value) []byte {
	buf := make([]byte, SensorShortSize)
	putSensorHeader(buf, deviceID, channelID, quality, value)
	return buf
}

// EncodeSensorLong builds a sensor packet with the human readable device
// name, channel name and value string appended. Strings longer than
// NameFieldSize are truncated to exactly the field width.
func EncodeSensorLong(deviceID, channelID, quality uint16, value Value, deviceName, channelName, valueString string) []byte {
	buf := make([]byte, SensorLongSize)
	putSensorHeader(buf, deviceID, channelID, quality, value)

	off := SensorShortSize
	for _, s := range []string{deviceName, channelName, valueString} {
		copy(buf[off:off+NameFieldSize], s)
		off += NameFieldSize
	}
	return buf
}

func putSensorHeader(buf []byte, deviceID, channelID, quality uint16, value Value) {
	buf[0] = sensorVersion
	buf[1] = 0 // flags, reserved
	binary.BigEndian.PutUint16(buf[2:4], quality)
	binary.BigEndian.PutUint16(buf[4:6], deviceID)
	binary.BigEndian.PutUint16(buf[6:8], channelID)
	binary.NativeEndian.PutUint64(buf[8:16], value.bits)
}

// SensorPacket is a decoded sensor packet.
type SensorPacket struct {
	Version   uint8
	Flags     uint8
	Quality   uint16
	DeviceID  uint16
	ChannelID uint16
	// Raw is the numeric union; use Float64 or Uint64 as appropriate.
	Raw uint64

	Long        bool
	DeviceName  string
	ChannelName string
	ValueString string
}

// Float64 interprets the value as a double.
func (p SensorPacket) Float64() float64 { return math.Float64frombits(p.Raw) }

// Uint64 interprets the value as an integer.
func (p SensorPacket) Uint64() uint64 { return p.Raw }

// Good reports whether the reading carries good quality.
func (p SensorPacket) Good() bool { return p.Quality == QualityGood }

// DecodeSensor parses a short or long sensor packet.
func DecodeSensor(b []byte) (SensorPacket, error) {
	if (len(b) != SensorShortSize && len(b) != SensorLongSize) || b[0] != sensorVersion {
		return SensorPacket{}, fmt.Errorf("%w: %d byte sensor packet", ErrMalformed, len(b))
	}
	p := SensorPacket{
		Version:   b[0],
		Flags:     b[1],
		Quality:   binary.BigEndian.Uint16(b[2:4]),
		DeviceID:  binary.BigEndian.Uint16(b[4:6]),
		ChannelID: binary.BigEndian.Uint16(b[6:8]),
		Raw:       binary.NativeEndian.Uint64(b[8:16]),
	}
	if len(b) == SensorLongSize {
		p.Long = true
		off := SensorShortSize
		p.DeviceName = cString(b[off : off+NameFieldSize])
		off += NameFieldSize
		p.ChannelName = cString(b[off : off+NameFieldSize])
		off += NameFieldSize
		p.ValueString = cString(b[off : off+NameFieldSize])
	}
	return p, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
