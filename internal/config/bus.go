package config

import (
	"fmt"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/channel"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/sink"
)

// DefaultBusPath is where can2udp looks for its configuration.
const DefaultBusPath = "/etc/can2udp.json"

// DefaultBusInterface is used for an interface entry without a name.
const DefaultBusInterface = "vcan0"

// BusFile is the can2udp configuration.
type BusFile struct {
	// Port is the UDP destination port.
	Port *int `json:"port,omitempty" yaml:"port,omitempty"`
	// Interface optionally binds the broadcast socket to a network device.
	Interface *string `json:"interface,omitempty" yaml:"interface,omitempty"`
	// Address overrides the broadcast destination address.
	Address *string `json:"address,omitempty" yaml:"address,omitempty"`
	// CanFD is the default for every interface.
	CanFD *bool `json:"can_fd,omitempty" yaml:"can_fd,omitempty"`
	// PacketLayout is "fd" (84 byte packets) or "classic" (20 byte packets).
	PacketLayout *string `json:"packet_layout,omitempty" yaml:"packet_layout,omitempty"`

	Interfaces []BusInterface `json:"interfaces" yaml:"interfaces"`
}

// BusInterface is one CAN interface to forward.
type BusInterface struct {
	Name           *string  `json:"name,omitempty" yaml:"name,omitempty"`
	InterfaceIndex *int     `json:"interface_index,omitempty" yaml:"interface_index,omitempty"`
	Filter         []uint32 `json:"filter,omitempty" yaml:"filter,omitempty"`
	CanFD          *bool    `json:"can_fd,omitempty" yaml:"can_fd,omitempty"`
}

// LoadBusFile loads and validates a can2udp configuration.
func LoadBusFile(path string) (*BusFile, error) {
	cfg := &BusFile{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *BusFile) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.PacketLayout != nil {
		if _, err := packet.ParseLayout(*c.PacketLayout); err != nil {
			return fmt.Errorf("packet_layout: %w", err)
		}
	}

	seen := make(map[int]string)
	for i, iface := range c.Interfaces {
		if iface.Name != nil && *iface.Name == "" {
			return fmt.Errorf("interfaces[%d]: name must not be empty", i)
		}
		if err := validateIndex(fmt.Sprintf("interfaces[%d].interface_index", i), iface.InterfaceIndex); err != nil {
			return err
		}
		idx := iface.GetInterfaceIndex(i)
		if prev, dup := seen[idx]; dup {
			return fmt.Errorf("interfaces[%d] (%s): interface_index %d already used by %s", i, iface.GetName(), idx, prev)
		}
		seen[idx] = iface.GetName()

		for _, id := range iface.Filter {
			if id > packet.CANEFFMask {
				return fmt.Errorf("interfaces[%d]: filter id %#x exceeds 29 bits", i, id)
			}
		}
	}
	return nil
}

// GetPort returns the destination port or DefaultBusPort.
func (c *BusFile) GetPort() int {
	if c.Port == nil {
		return packet.DefaultBusPort
	}
	return *c.Port
}

// GetInterface returns the broadcast bind device, empty for all.
func (c *BusFile) GetInterface() string {
	if c.Interface == nil {
		return ""
	}
	return *c.Interface
}

// GetAddress returns the broadcast destination address.
func (c *BusFile) GetAddress() string {
	if c.Address == nil {
		return sink.DefaultAddress
	}
	return *c.Address
}

// GetCanFD returns the file-wide FD default.
func (c *BusFile) GetCanFD() bool {
	if c.CanFD == nil {
		return true
	}
	return *c.CanFD
}

// GetPacketLayout returns the wire layout.
func (c *BusFile) GetPacketLayout() packet.Layout {
	if c.PacketLayout == nil {
		return packet.LayoutFD
	}
	l, err := packet.ParseLayout(*c.PacketLayout)
	if err != nil {
		return packet.LayoutFD
	}
	return l
}

// GetName returns the interface name or DefaultBusInterface.
func (b BusInterface) GetName() string {
	if b.Name == nil {
		return DefaultBusInterface
	}
	return *b.Name
}

// GetInterfaceIndex returns the configured index or the entry's position.
func (b BusInterface) GetInterfaceIndex(position int) int {
	if b.InterfaceIndex == nil {
		return position
	}
	return *b.InterfaceIndex
}

// SinkConfig returns the broadcast sink settings.
func (c *BusFile) SinkConfig() sink.Config {
	return sink.Config{
		Port:      uint16(c.GetPort()),
		Interface: c.GetInterface(),
		Address:   c.GetAddress(),
	}
}

// Specs returns one bus channel spec per interface, in file order.
func (c *BusFile) Specs() []bridge.Spec {
	layout := c.GetPacketLayout()
	specs := make([]bridge.Spec, 0, len(c.Interfaces))
	for i, iface := range c.Interfaces {
		fd := c.GetCanFD()
		if iface.CanFD != nil {
			fd = *iface.CanFD
		}
		specs = append(specs, bridge.Spec{Bus: &channel.BusConfig{
			Interface:   iface.GetName(),
			InterfaceID: uint16(iface.GetInterfaceIndex(i)),
			Filters:     append([]uint32(nil), iface.Filter...),
			FD:          fd,
			Layout:      layout,
		}})
	}
	return specs
}

// Bridge returns the full bridge configuration.
func (c *BusFile) Bridge() bridge.Config {
	return bridge.Config{Channels: c.Specs(), Sink: c.SinkConfig()}
}
