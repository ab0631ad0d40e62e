package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"Go2NetSentinel/internal/model"
)

// Writer writes records as a tabular feature file.
type Writer struct {
	w         *csv.Writer
	withLabel bool
	row       []string
}

// NewWriter creates a Writer. withLabel appends the label column.
func NewWriter(w io.Writer, withLabel bool) *Writer {
	n := len(Columns)
	if withLabel {
		n++
	}
	return &Writer{w: csv.NewWriter(w), withLabel: withLabel, row: make([]string, n)}
}

// WriteHeader writes the fixed header row.
func (w *Writer) WriteHeader() error {
	header := append([]string{}, Columns...)
	if w.withLabel {
		header = append(header, LabelColumn)
	}
	return w.w.Write(header)
}

// Write writes one record.
func (w *Writer) Write(r Record) error {
	row := w.row
	row[0] = strconv.FormatInt(r.ID, 10)
	row[1] = r.SourceIP
	row[2] = r.Duration.String()
	row[3] = r.Packets.String()
	row[4] = r.Bytes.String()
	row[5] = r.TTL.String()
	row[6] = r.Window.String()
	row[7] = r.Seq.String()
	row[8] = r.Ack.String()
	row[9] = r.Rate.String()
	row[10] = r.PPS.String()
	row[11] = r.BPP.String()
	row[12] = r.TTLRatio.String()
	row[13] = r.TCPDiff.String()
	row[14] = r.SwinInteraction.String()
	if w.withLabel {
		row[15] = r.Label.String()
	}
	return w.w.Write(row)
}

// Flush flushes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// Reader reads records from a tabular feature file. Columns are matched by
// header name, so extra columns are tolerated.
type Reader struct {
	r     *csv.Reader
	index map[string]int
	line  int
}

// NewReader reads and checks the header. A missing required column is an input error.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table, missing header", model.ErrInput)
		}
		return nil, fmt.Errorf("%w: failed to read header: %v", model.ErrInput, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range Columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("%w: missing column '%s'", model.ErrInput, name)
		}
	}
	return &Reader{r: cr, index: index, line: 1}, nil
}

// Read returns the next record, or io.EOF when the table is exhausted.
func (r *Reader) Read() (Record, error) {
	row, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: %v", model.ErrInput, err)
	}
	r.line++

	cell := func(name string) (string, error) {
		i := r.index[name]
		if i >= len(row) {
			return "", fmt.Errorf("%w: line %d: missing value for '%s'", model.ErrInput, r.line, name)
		}
		return row[i], nil
	}
	number := func(name string) (Number, error) {
		s, err := cell(name)
		if err != nil {
			return Number{}, err
		}
		n, err := ParseNumber(s)
		if err != nil {
			return Number{}, fmt.Errorf("%w: line %d: column '%s': %v", model.ErrInput, r.line, name, err)
		}
		return n, nil
	}

	var rec Record
	id, err := cell("id")
	if err != nil {
		return Record{}, err
	}
	if rec.ID, err = strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
		return Record{}, fmt.Errorf("%w: line %d: invalid id '%s'", model.ErrInput, r.line, id)
	}
	if rec.SourceIP, err = cell("source_ip"); err != nil {
		return Record{}, err
	}

	fields := []struct {
		name string
		dst  *Number
	}{
		{"dur", &rec.Duration},
		{"spkts", &rec.Packets},
		{"sbytes", &rec.Bytes},
		{"sttl", &rec.TTL},
		{"swin", &rec.Window},
		{"stcpb", &rec.Seq},
		{"dtcpb", &rec.Ack},
		{"rate", &rec.Rate},
		{"pps", &rec.PPS},
		{"bpp", &rec.BPP},
		{"ttl_ratio", &rec.TTLRatio},
		{"tcp_diff", &rec.TCPDiff},
		{"swin_interaction", &rec.SwinInteraction},
	}
	for _, f := range fields {
		if *f.dst, err = number(f.name); err != nil {
			return Record{}, err
		}
	}
	if _, ok := r.index[LabelColumn]; ok {
		if rec.Label, err = number(LabelColumn); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
