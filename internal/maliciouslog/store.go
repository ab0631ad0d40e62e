// Package maliciouslog persists the source addresses of packets classified
// as malicious until the rate monitor prunes them.
package maliciouslog

import (
	"context"
	"fmt"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Store is an append-only log of malicious entries with separate compaction.
// Implementations are safe for concurrent use; an entry appended while a
// compaction runs is never lost.
type Store interface {
	// Append adds entries atomically: either every row is written or none.
	Append(ctx context.Context, entries []model.MaliciousEntry) error
	// Scan returns every stored entry in insertion order.
	Scan(ctx context.Context) ([]model.MaliciousEntry, error)
	// Compact removes entries detected before cutoff and reports how many were dropped.
	Compact(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open creates the store selected by cfg.Backend.
func Open(cfg config.MaliciousLogConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "", "csv":
		return NewCSVStore(cfg.Path, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown malicious log backend '%s'", cfg.Backend)
	}
}

// Since returns the entries detected at or after cutoff.
func Since(entries []model.MaliciousEntry, cutoff time.Time) []model.MaliciousEntry {
	var out []model.MaliciousEntry
	for _, e := range entries {
		if !e.DetectedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
