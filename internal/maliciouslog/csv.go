package maliciouslog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// TimeLayout is the timestamp format of the CSV log, in local time.
const TimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"source_ip", "timestamp"}

// CSVStore keeps the log as a two-column CSV file. Every access holds the
// in-process mutex and an exclusive lock on the sidecar <path>.lock, so
// stores in other processes sharing the file take turns with this one.
// Appends go out as one write on an O_APPEND descriptor and compaction
// rewrites through a temporary file and a rename.
type CSVStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// LockPath returns the sidecar file used for cross-process locking.
func (s *CSVStore) LockPath() string { return s.path + ".lock" }

// lock takes the mutex and the file lock. The returned func releases both.
func (s *CSVStore) lock() (func(), error) {
	s.mu.Lock()
	f, err := os.OpenFile(s.LockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: open malicious log lock: %v", model.ErrIO, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: lock malicious log: %v", model.ErrIO, err)
	}
	return func() {
		unlockFile(f)
		f.Close()
		s.mu.Unlock()
	}, nil
}

// NewCSVStore opens the log at path, creating it with a header if needed.
func NewCSVStore(path string, logger *zap.Logger) (*CSVStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create log directory: %v", model.ErrIO, err)
		}
	}
	s := &CSVStore{path: path, logger: logger}
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	f, err := s.openAppend()
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *CSVStore) Path() string { return s.path }

// openAppend opens the log for appending and writes the header into an empty file.
func (s *CSVStore) openAppend() (*os.File, error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open malicious log: %v", model.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat malicious log: %v", model.ErrIO, err)
	}
	if info.Size() == 0 {
		if _, err := f.Write(encodeRows(nil, true)); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write malicious log header: %v", model.ErrIO, err)
		}
	}
	return f, nil
}

func encodeRows(entries []model.MaliciousEntry, header bool) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header {
		w.Write(csvHeader)
	}
	for _, e := range entries {
		w.Write([]string{e.SourceIP, e.DetectedAt.In(time.Local).Format(TimeLayout)})
	}
	w.Flush()
	return buf.Bytes()
}

// Append implements Store.
func (s *CSVStore) Append(ctx context.Context, entries []model.MaliciousEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data := encodeRows(entries, false)

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f, err := s.openAppend()
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: append to malicious log: %v", model.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync malicious log: %v", model.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close malicious log: %v", model.ErrIO, err)
	}
	return nil
}

// Scan implements Store. Rows that do not parse are skipped with a warning.
func (s *CSVStore) Scan(ctx context.Context) ([]model.MaliciousEntry, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.readLocked(ctx)
}

func (s *CSVStore) readLocked(ctx context.Context) ([]model.MaliciousEntry, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open malicious log: %v", model.ErrIO, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var entries []model.MaliciousEntry
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		line++
		if err != nil {
			s.logger.Warn("Skipping unreadable malicious log row", zap.String("file", s.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if line == 1 && len(row) > 0 && strings.TrimSpace(row[0]) == csvHeader[0] {
			continue
		}
		entry, err := parseRow(row)
		if err != nil {
			s.logger.Warn("Skipping malformed malicious log row", zap.String("file", s.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
}

func parseRow(row []string) (model.MaliciousEntry, error) {
	if len(row) != 2 {
		return model.MaliciousEntry{}, fmt.Errorf("expected 2 fields, got %d", len(row))
	}
	ip := strings.TrimSpace(row[0])
	if ip == "" {
		return model.MaliciousEntry{}, errors.New("empty source address")
	}
	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(row[1]), time.Local)
	if err != nil {
		return model.MaliciousEntry{}, err
	}
	return model.MaliciousEntry{SourceIP: ip, DetectedAt: ts}, nil
}

// Compact implements Store. The file is re-read under the lock so rows
// appended since the caller's last Scan survive.
func (s *CSVStore) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	entries, err := s.readLocked(ctx)
	if err != nil {
		return 0, err
	}
	kept := Since(entries, cutoff)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: create compaction file: %v", model.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encodeRows(kept, true)); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("%w: write compaction file: %v", model.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("%w: sync compaction file: %v", model.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: close compaction file: %v", model.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return 0, fmt.Errorf("%w: replace malicious log: %v", model.ErrIO, err)
	}
	return len(entries) - len(kept), nil
}

// Close implements Store.
func (s *CSVStore) Close() error { return nil }
