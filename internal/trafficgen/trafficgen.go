// Package trafficgen writes synthetic captures mixing benign TCP traffic with
// a SYN flood from a set of attacker addresses.
package trafficgen

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Options shapes a generated capture.
type Options struct {
	// Benign is the number of established-flow packets from random sources.
	Benign int
	// Flood is the number of SYN packets spread over Attackers.
	Flood     int
	Attackers []net.IP
	Target    net.IP
	Start     time.Time
	// Gap separates consecutive packet timestamps.
	Gap  time.Duration
	Seed int64
}

// DefaultOptions returns a small mix with one attacker.
func DefaultOptions() Options {
	return Options{
		Benign:    200,
		Flood:     50,
		Attackers: []net.IP{net.IPv4(203, 0, 113, 66)},
		Target:    net.IPv4(192, 168, 1, 1),
		Start:     time.Now(),
		Gap:       time.Millisecond,
		Seed:      time.Now().UnixNano(),
	}
}

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Write generates the capture into w. Flood packets are interleaved with the
// benign ones at random positions.
func Write(w io.Writer, opts Options) (int, error) {
	if opts.Flood > 0 && len(opts.Attackers) == 0 {
		return 0, fmt.Errorf("flood requested without attacker addresses")
	}
	target := opts.Target
	if target == nil {
		target = net.IPv4(192, 168, 1, 1)
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	pcapWriter := pcapgo.NewWriter(w)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, fmt.Errorf("failed to write pcap header: %w", err)
	}

	total := opts.Benign + opts.Flood
	flood := make([]bool, total)
	for _, i := range rng.Perm(total)[:opts.Flood] {
		flood[i] = true
	}

	buf := gopacket.NewSerializeBuffer()
	serialize := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	ts := opts.Start
	attacker := 0
	for i := 0; i < total; i++ {
		ip := &layers.IPv4{
			Version:  4,
			DstIP:    target,
			Protocol: layers.IPProtocolTCP,
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(rng.Intn(65535-1024) + 1024),
			DstPort: 80,
			Seq:     rng.Uint32(),
		}
		var payload []byte
		if flood[i] {
			ip.SrcIP = opts.Attackers[attacker%len(opts.Attackers)]
			attacker++
			ip.TTL = 64
			tcp.SYN = true
			tcp.Window = 0
		} else {
			ip.SrcIP = net.IP{10, byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(254) + 1)}
			ip.TTL = 128
			tcp.ACK = true
			tcp.PSH = true
			tcp.Ack = tcp.Seq + uint32(rng.Intn(1<<20)) + 1
			tcp.Window = 65535
			payload = make([]byte, rng.Intn(1400)+50)
			rng.Read(payload)
		}
		tcp.SetNetworkLayerForChecksum(ip)

		eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
		if err := gopacket.SerializeLayers(buf, serialize, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
			return i, fmt.Errorf("failed to serialize packet %d: %w", i, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := pcapWriter.WritePacket(ci, buf.Bytes()); err != nil {
			return i, fmt.Errorf("failed to write packet %d: %w", i, err)
		}
		ts = ts.Add(opts.Gap)
	}
	return total, nil
}

// WriteFile generates the capture under a temporary name in the target
// directory and renames it into place, so a watcher only sees the finished file.
func WriteFile(path string, opts Options) (int, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pcapgen-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := Write(tmp, opts)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, err
	}
	return n, nil
}
