// Package testutil builds small packet captures for tests.
package testutil

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet describes one synthetic packet. A zero TTL defaults to 64.
type Packet struct {
	Timestamp time.Time
	SrcIP     net.IP
	TTL       uint8
	// NoTCP sends the payload over UDP instead.
	NoTCP   bool
	Window  uint16
	Seq     uint32
	Ack     uint32
	Payload []byte
}

// Encode serializes p as an Ethernet frame.
func Encode(t testing.TB, p Packet) []byte {
	t.Helper()

	src := p.SrcIP
	if src == nil {
		src = net.IP{192, 168, 1, 10}
	}
	ttl := p.TTL
	if ttl == 0 {
		ttl = 64
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		IHL:     5,
		TTL:     ttl,
		SrcIP:   src.To4(),
		DstIP:   net.IP{10, 0, 0, 80},
	}

	var transport gopacket.SerializableLayer
	if p.NoTCP {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
		udp.SetNetworkLayerForChecksum(ip)
		transport = udp
	} else {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: 40000,
			DstPort: 80,
			Seq:     p.Seq,
			Ack:     p.Ack,
			Window:  p.Window,
			SYN:     p.Ack == 0,
			ACK:     p.Ack != 0,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		transport = tcp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(p.Payload)); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

// WriteCapture writes packets to a classic pcap file at path.
func WriteCapture(t testing.TB, path string, packets []Packet) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture %s: %v", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write pcap header: %v", err)
	}
	for _, p := range packets {
		data := Encode(t, p)
		ci := gopacket.CaptureInfo{
			Timestamp:     p.Timestamp,
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
}

// WriteNgCapture writes packets to a pcapng file at path.
func WriteNgCapture(t testing.TB, path string, packets []Packet) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture %s: %v", path, err)
	}
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("Failed to create pcapng writer: %v", err)
	}
	for _, p := range packets {
		data := Encode(t, p)
		ci := gopacket.CaptureInfo{
			Timestamp:      p.Timestamp,
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Failed to flush pcapng writer: %v", err)
	}
}
