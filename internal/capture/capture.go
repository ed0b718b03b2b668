// Package capture records broadcast datagrams to pcap files and replays them.
//
// Datagrams are wrapped in synthetic Ethernet, IPv4 and UDP headers so the
// files open directly in Wireshark or tcpdump.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/udpbridge/internal/timeutil"
)

// Snaplen covers the largest packet layout plus headers.
const Snaplen = 1024

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Options configures a Writer.
type Options struct {
	// Source is the IPv4 source address written into each record. Defaults
	// to 0.0.0.0.
	Source netip.Addr
	// SourcePort defaults to the destination port.
	SourcePort uint16
	Clock      timeutil.Clock
}

// Writer appends datagrams to a pcap stream. It implements sink.Tap.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	opts   Options
	count  int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	if !opts.Source.IsValid() {
		opts.Source = netip.IPv4Unspecified()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(Snaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	cw := &Writer{w: pw, opts: opts}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw, nil
}

// Create truncates path and starts a capture in it.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	w, err := NewWriter(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteDatagram appends one UDP datagram addressed to dst.
func (w *Writer) WriteDatagram(dst netip.AddrPort, payload []byte) error {
	if !dst.Addr().Is4() {
		return fmt.Errorf("capture supports IPv4 only, got %s", dst)
	}
	frame, err := encapsulate(w.opts.Source, w.srcPort(dst), dst, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("capture closed")
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     w.opts.Clock.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write pcap record: %w", err)
	}
	w.count++
	return nil
}

func (w *Writer) srcPort(dst netip.AddrPort) uint16 {
	if w.opts.SourcePort != 0 {
		return w.opts.SourcePort
	}
	return dst.Port()
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close stops the capture and closes the underlying writer if it is a
// Closer. Later writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	w.w = nil
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func encapsulate(src netip.Addr, srcPort uint16, dst netip.AddrPort, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.Addr().AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize datagram: %w", err)
	}
	return buf.Bytes(), nil
}
