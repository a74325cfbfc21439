// Package pcapxtesting writes synthetic QUIC-like captures for tests.
package pcapxtesting

import (
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet is a synthetic UDP packet.
type Packet struct {
	// Offset is the packet time relative to the start of the trace.
	Offset time.Duration

	// SrcPort and DstPort are the UDP ports.
	SrcPort, DstPort uint16

	// PayloadSize is the UDP payload size.
	PayloadSize int

	// Snaplen is the OPTIONAL number of bytes of the frame that
	// end up in the trace. Zero means the whole frame.
	Snaplen int
}

// Up returns a client->server packet.
func Up(offset time.Duration, payloadSize int) Packet {
	return Packet{Offset: offset, SrcPort: 54321, DstPort: 443, PayloadSize: payloadSize}
}

// Down returns a server->client packet.
func Down(offset time.Duration, payloadSize int) Packet {
	return Packet{Offset: offset, SrcPort: 443, DstPort: 54321, PayloadSize: payloadSize}
}

// Epoch is the timestamp of the first packet of every trace.
var Epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Serialize returns the Ethernet frame of the packet. Its length is
// the payload size plus 42 bytes of Ethernet, IPv4 and UDP headers.
func (p *Packet) Serialize() ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 200, 0, 2),
		DstIP:    net.IPv4(142, 250, 180, 4),
	}
	if p.SrcPort == 443 {
		ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.SrcPort),
		DstPort: layers.UDPPort(p.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload(make([]byte, p.PayloadSize))
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// snap truncates the frame to the snaplen and returns its capture info.
func (p *Packet) snap(data []byte) ([]byte, gopacket.CaptureInfo) {
	ci := gopacket.CaptureInfo{
		Timestamp:     Epoch.Add(p.Offset),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if p.Snaplen > 0 && p.Snaplen < len(data) {
		data = data[:p.Snaplen]
		ci.CaptureLength = p.Snaplen
	}
	return data, ci
}

// WriteFile writes the given packets into a classic pcap file.
func WriteFile(pathname string, packets ...Packet) error {
	fp, err := os.Create(pathname)
	if err != nil {
		return err
	}
	w := pcapgo.NewWriter(fp)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		fp.Close()
		return err
	}
	for _, p := range packets {
		data, err := p.Serialize()
		if err != nil {
			fp.Close()
			return err
		}
		data, ci := p.snap(data)
		if err := w.WritePacket(ci, data); err != nil {
			fp.Close()
			return err
		}
	}
	return fp.Close()
}

// WriteNgFile is like WriteFile but writes pcapng.
func WriteNgFile(pathname string, packets ...Packet) error {
	fp, err := os.Create(pathname)
	if err != nil {
		return err
	}
	w, err := pcapgo.NewNgWriter(fp, layers.LinkTypeEthernet)
	if err != nil {
		fp.Close()
		return err
	}
	for _, p := range packets {
		data, err := p.Serialize()
		if err != nil {
			fp.Close()
			return err
		}
		data, ci := p.snap(data)
		if err := w.WritePacket(ci, data); err != nil {
			fp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
