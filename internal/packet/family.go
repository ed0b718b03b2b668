package packet

import "fmt"

// Family identifies which packet family a datagram belongs to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyBus
	FamilySensor
)

func (f Family) String() string {
	switch f {
	case FamilyBus:
		return "bus"
	case FamilySensor:
		return "sensor"
	default:
		return "unknown"
	}
}

// Classify picks the family from the datagram size and version byte. All four
// layouts have distinct sizes so no out-of-band hint is needed.
func Classify(b []byte) Family {
	if len(b) == 0 {
		return FamilyUnknown
	}
	switch len(b) {
	case BusPacketSizeFD:
		if b[0] == busVersionFD {
			return FamilyBus
		}
	case BusPacketSizeClassic:
		if b[0] == busVersionClassic {
			return FamilyBus
		}
	case SensorShortSize, SensorLongSize:
		if b[0] == sensorVersion {
			return FamilySensor
		}
	}
	return FamilyUnknown
}

// Describe renders a datagram as one line for logs and live tails. The
// numeric sensor value is shown both as a double and as raw bits since the
// packet does not say which interpretation applies.
func Describe(b []byte) string {
	switch Classify(b) {
	case FamilyBus:
		p, err := DecodeBus(b)
		if err != nil {
			return err.Error()
		}
		f, err := ParseFrame(p.Frame)
		if err != nil {
			return err.Error()
		}
		if p.Layout() == LayoutClassic {
			return fmt.Sprintf("bus if=%d %s", p.InterfaceID, f)
		}
		return fmt.Sprintf("bus if=%d %s ts=%d", p.InterfaceID, f, p.Timestamp)
	case FamilySensor:
		p, err := DecodeSensor(b)
		if err != nil {
			return err.Error()
		}
		q := "good"
		if !p.Good() {
			q = fmt.Sprintf("bad(0x%02X)", p.Quality)
		}
		if p.Long {
			return fmt.Sprintf("sensor %d/%d %s/%s %s %s", p.DeviceID, p.ChannelID, p.DeviceName, p.ChannelName, p.ValueString, q)
		}
		return fmt.Sprintf("sensor %d/%d %g (%#x) %s", p.DeviceID, p.ChannelID, p.Float64(), p.Raw, q)
	}
	return fmt.Sprintf("unknown %d bytes", len(b))
}
