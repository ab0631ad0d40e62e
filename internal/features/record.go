package features

import (
	"math"

	"Go2NetSentinel/internal/model"
)

// Columns is the fixed header of a tabular feature file.
var Columns = []string{
	"id", "source_ip", "dur", "spkts", "sbytes", "sttl", "swin", "stcpb",
	"dtcpb", "rate", "pps", "bpp", "ttl_ratio", "tcp_diff", "swin_interaction",
}

// LabelColumn is the optional trailing column carrying a known label.
const LabelColumn = "label"

// Record is one row of a tabular feature file.
type Record struct {
	ID       int64
	SourceIP string

	Duration Number
	Packets  Number
	Bytes    Number
	TTL      Number
	Window   Number
	Seq      Number
	Ack      Number

	Rate            Number
	PPS             Number
	BPP             Number
	TTLRatio        Number
	TCPDiff         Number
	SwinInteraction Number

	Label Number
}

// NewRecord builds the row for one packet. id is the packet's sequence
// number among the retained packets of its capture.
func NewRecord(id int64, info *model.PacketInfo) Record {
	rec := Record{
		ID:       id,
		SourceIP: Sentinel,
		Packets:  Int(1),
		Bytes:    Int(int64(info.Length)),
	}

	// dur is the raw capture timestamp in seconds, not a flow duration.
	if !info.Timestamp.IsZero() {
		ts := info.Timestamp
		rec.Duration = Float(float64(ts.Unix()) + float64(ts.Nanosecond())/1e9)
	}
	if info.HasIPv4 {
		rec.TTL = Int(int64(info.TTL))
		if info.SrcIP != nil {
			rec.SourceIP = info.SrcIP.String()
		}
	}
	if info.HasTCP {
		rec.Window = Int(int64(info.Window))
		rec.Seq = Int(int64(info.Seq))
		rec.Ack = Int(int64(info.Ack))
	}

	rec.Derive()
	return rec
}

// Derive recomputes the derived fields from the raw ones. A derived value is
// defined only when every input is defined and no divisor is zero.
func (r *Record) Derive() {
	r.Rate = Div(r.Bytes, r.Duration)
	r.PPS = Div(r.Packets, r.Duration)
	r.BPP = Div(r.Bytes, r.Packets)
	r.TTLRatio = Div(r.TTL, r.Duration)
	r.TCPDiff = Sub(r.Ack, r.Seq)
	r.SwinInteraction = Mul(r.Window, r.Seq)
}

// VectorWidth is the number of classifier inputs.
const VectorWidth = 11

// VectorColumns names the classifier inputs in the order the model was trained on.
var VectorColumns = [VectorWidth]string{
	"id", "dur", "spkts", "sttl", "swin", "stcpb", "dtcpb",
	"pps", "ttl_ratio", "tcp_diff", "swin_interaction",
}

// Vector is the fixed-order classifier input. Undefined features are NaN.
type Vector [VectorWidth]float64

// Vector returns the classifier input for r.
func (r Record) Vector() Vector {
	return Vector{
		float64(r.ID),
		r.Duration.Float64(),
		r.Packets.Float64(),
		r.TTL.Float64(),
		r.Window.Float64(),
		r.Seq.Float64(),
		r.Ack.Float64(),
		r.PPS.Float64(),
		r.TTLRatio.Float64(),
		r.TCPDiff.Float64(),
		r.SwinInteraction.Float64(),
	}
}

// HasUndefined reports whether any entry of v is NaN.
func (v Vector) HasUndefined() bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
