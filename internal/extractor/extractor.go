// Package extractor converts packet captures into tabular feature files.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/features"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/pkg/pcap"

	"github.com/google/gopacket"
	"go.uber.org/zap"
)

// Options controls a single extraction.
type Options struct {
	// TCPOnly drops packets without a TCP layer.
	TCPOnly bool
	// OutputDir receives the table. Empty means the capture's own directory.
	OutputDir string
}

// Result summarizes one extraction.
type Result struct {
	Output    string
	Total     int
	Processed int
	Excluded  int
}

// Extractor turns one capture at a time into a feature table.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// New creates an Extractor.
func New(opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger}
}

// OutputPath returns where the table for capturePath will be written.
func (e *Extractor) OutputPath(capturePath string) string {
	base := strings.TrimSuffix(filepath.Base(capturePath), filepath.Ext(capturePath))
	if e.opts.TCPOnly {
		base += "_tcp_only"
	}
	dir := e.opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(capturePath)
	}
	return filepath.Join(dir, base+".csv")
}

// Extract reads the capture, writes its feature table and deletes the capture.
// The table is staged under a .tmp name and renamed into place only when
// complete. On failure the staging file is removed and the capture is kept.
func (e *Extractor) Extract(ctx context.Context, capturePath string) (Result, error) {
	res := Result{Output: e.OutputPath(capturePath)}

	reader, err := pcap.NewReader(capturePath)
	if err != nil {
		return res, fmt.Errorf("%w: failed to open capture %s: %v", model.ErrInput, capturePath, err)
	}

	tmpPath := res.Output + ".tmp"
	if err := e.writeTable(ctx, reader, tmpPath, &res); err != nil {
		reader.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn("Failed to remove staging file", zap.String("file", tmpPath), zap.Error(rmErr))
		}
		return res, err
	}
	reader.Close()

	if err := os.Rename(tmpPath, res.Output); err != nil {
		os.Remove(tmpPath)
		return res, fmt.Errorf("%w: failed to publish table %s: %v", model.ErrIO, res.Output, err)
	}

	if err := os.Remove(capturePath); err != nil {
		e.logger.Warn("Failed to delete processed capture", zap.String("file", capturePath), zap.Error(err))
	}

	e.logger.Info("Extracted features",
		zap.String("capture", capturePath),
		zap.String("output", res.Output),
		zap.Int("total", res.Total),
		zap.Int("processed", res.Processed),
		zap.Int("excluded", res.Excluded),
	)
	return res, nil
}

func (e *Extractor) writeTable(ctx context.Context, reader *pcap.Reader, tmpPath string, res *Result) error {
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", model.ErrIO, tmpPath, err)
	}
	defer f.Close()

	w := features.NewWriter(f, false)
	if err := w.WriteHeader(); err != nil {
		return fmt.Errorf("%w: failed to write header: %v", model.ErrIO, err)
	}

	err = reader.ReadPackets(ctx, func(packet gopacket.Packet) error {
		info := protocol.ParsePacket(packet)
		res.Total++
		if e.opts.TCPOnly && !info.HasTCP {
			res.Excluded++
			return nil
		}
		res.Processed++
		if err := w.Write(features.NewRecord(int64(res.Processed), info)); err != nil {
			return fmt.Errorf("%w: failed to write row: %v", model.ErrIO, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrIO) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrInput, err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush table: %v", model.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync table: %v", model.ErrIO, err)
	}
	return f.Close()
}
