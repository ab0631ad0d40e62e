package model

import (
	"net"
	"path/filepath"
	"strings"
	"time"
)

// Packet labels produced by the classifier.
const (
	LabelBenign    = 0
	LabelMalicious = 1
)

// PacketInfo holds the raw per-packet fields the feature extractor consumes.
// Layers that are absent leave their Has* flag false.
type PacketInfo struct {
	Timestamp time.Time
	Length    int

	HasIPv4 bool
	SrcIP   net.IP
	TTL     uint8

	HasTCP bool
	Window uint16
	Seq    uint32
	Ack    uint32
}

// MaliciousEntry records one packet classified as malicious.
type MaliciousEntry struct {
	SourceIP   string    `json:"source_ip"`
	DetectedAt time.Time `json:"timestamp"`
}

// AttackEvent is raised when a source exceeds the request-rate threshold
// inside the trailing window.
type AttackEvent struct {
	ID         string    `json:"id"`
	SourceIP   string    `json:"source_ip"`
	Count      int       `json:"count"`
	DetectedAt time.Time `json:"timestamp"`
}

// FileKind identifies which pipeline stage a file in the watched directory belongs to.
type FileKind int

const (
	KindCapture FileKind = iota + 1
	KindTable
)

func (k FileKind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindTable:
		return "table"
	default:
		return "unknown"
	}
}

// KindOf maps a file path to its stage by suffix. Unknown suffixes report false.
func KindOf(path string) (FileKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap":
		return KindCapture, true
	case ".csv":
		return KindTable, true
	default:
		return 0, false
	}
}
