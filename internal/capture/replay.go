package capture

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Datagram is one UDP payload read back from a capture.
type Datagram struct {
	Time    time.Time
	Src     netip.AddrPort
	Dst     netip.AddrPort
	Payload []byte
}

// ReadDatagrams calls fn for every IPv4 UDP record in r whose destination
// port is port (0 matches all). Other records are skipped. An error from fn
// stops the read and is returned.
func ReadDatagrams(r io.Reader, port uint16, fn func(Datagram) error) (int, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open pcap stream: %w", err)
	}

	n := 0
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read pcap record %d: %w", n, err)
		}

		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		ipLayer, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if ipLayer == nil || udp == nil {
			continue
		}
		if port != 0 && uint16(udp.DstPort) != port {
			continue
		}

		src, _ := netip.AddrFromSlice(ipLayer.SrcIP.To4())
		dst, _ := netip.AddrFromSlice(ipLayer.DstIP.To4())
		d := Datagram{
			Time:    ci.Timestamp,
			Src:     netip.AddrPortFrom(src, uint16(udp.SrcPort)),
			Dst:     netip.AddrPortFrom(dst, uint16(udp.DstPort)),
			Payload: append([]byte(nil), udp.Payload...),
		}
		n++
		if err := fn(d); err != nil {
			return n, err
		}
	}
}

// ReadFile is ReadDatagrams on a file.
func ReadFile(path string, port uint16, fn func(Datagram) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()
	return ReadDatagrams(f, port, fn)
}
