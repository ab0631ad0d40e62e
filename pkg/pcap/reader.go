package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapngMagic is the block type of a pcapng Section Header Block.
const pcapngMagic = 0x0A0D0D0A

type dataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a capture file. Both classic pcap and pcapng are supported.
type Reader struct {
	file   *os.File
	source dataSource
}

// NewReader opens the capture at filePath and reads its file header.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(file)
	magic, err := br.Peek(4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var source dataSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		source, err = pcapgo.NewNgReader(br, pcapgo.NgReaderOptions{})
	} else {
		source, err = pcapgo.NewReader(br)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	return &Reader{file: file, source: source}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// LinkType returns the link type recorded in the capture header.
func (r *Reader) LinkType() layers.LinkType {
	return r.source.LinkType()
}

// ReadPackets decodes every packet in the capture and hands it to handle, in
// file order. It stops at the first read error, handler error or context
// cancellation. A truncated capture is reported as an error rather than
// silently cut short.
func (r *Reader) ReadPackets(ctx context.Context, handle func(gopacket.Packet) error) error {
	packetSource := gopacket.NewPacketSource(r.source, r.source.LinkType())
	packetSource.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		if err := handle(packet); err != nil {
			return err
		}
	}
}
