package protocol

import (
	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket extracts the raw fields the feature extractor needs from a
// decoded packet. Missing layers are reported through the Has* flags rather
// than as an error, because every packet still produces a row.
func ParsePacket(packet gopacket.Packet) *model.PacketInfo {
	info := &model.PacketInfo{
		Length: len(packet.Data()),
	}

	if meta := packet.Metadata(); meta != nil {
		info.Timestamp = meta.Timestamp
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.HasIPv4 = true
		info.SrcIP = ip.SrcIP
		info.TTL = ip.TTL
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.HasTCP = true
		info.Window = tcp.Window
		info.Seq = tcp.Seq
		info.Ack = tcp.Ack
	}

	return info
}
