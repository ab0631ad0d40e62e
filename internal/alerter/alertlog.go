package alerter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/model"
)

var alertLogHeader = []string{"source_ip", "count", "timestamp"}

// AlertLog is the append-only CSV record of raised attack events.
type AlertLog struct {
	path string
	mu   sync.Mutex
}

// NewAlertLog opens the alert log at path, writing the header if the file is new.
func NewAlertLog(path string) (*AlertLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create alert log directory: %v", model.ErrIO, err)
	}
	l := &AlertLog{path: path}
	if err := l.write(nil); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the alert log location.
func (l *AlertLog) Path() string { return l.path }

// Append writes one row per event in a single write.
func (l *AlertLog) Append(events []model.AttackEvent) error {
	if len(events) == 0 {
		return nil
	}
	return l.write(events)
}

func (l *AlertLog) write(events []model.AttackEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open alert log: %v", model.ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat alert log: %v", model.ErrIO, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		w.Write(alertLogHeader)
	}
	for _, e := range events {
		w.Write([]string{e.SourceIP, strconv.Itoa(e.Count), e.DetectedAt.In(time.Local).Format(maliciouslog.TimeLayout)})
	}
	w.Flush()
	if buf.Len() == 0 {
		return nil
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write alert log: %v", model.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync alert log: %v", model.ErrIO, err)
	}
	return nil
}
