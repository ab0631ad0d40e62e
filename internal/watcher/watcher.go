// Package watcher dispatches newly created captures and feature tables in
// one directory to the pipeline.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Dispatcher runs the work for one file. Dispatch may block while the
// pipeline is saturated; Wait blocks until every dispatched file is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind model.FileKind, path string) error
	Wait()
}

// Options controls a Watcher.
type Options struct {
	Dir string
	// SettleDelay holds a capture back until it has seen no writes for this long.
	SettleDelay time.Duration
	// Backfill dispatches matching files already in Dir at startup.
	Backfill bool
}

// Watcher monitors one directory, non-recursively.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	opts       Options
	dispatcher Dispatcher
	logger     *zap.Logger

	// pending maps a capture awaiting its settle delay to its last write.
	pending   map[string]time.Time
	pendingMu sync.Mutex
}

// New creates a watcher on opts.Dir. The directory must exist.
func New(opts Options, d Dispatcher, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: watch directory: %v", model.ErrInput, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", model.ErrInput, dir)
	}
	opts.Dir = dir

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		fsWatcher:  fsWatcher,
		opts:       opts,
		dispatcher: d,
		logger:     logger,
		pending:    make(map[string]time.Time),
	}, nil
}

// Run dispatches files until ctx is cancelled. It then stops watching and
// waits for the dispatched work to finish before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.dispatcher.Wait()
	defer w.fsWatcher.Close()

	w.logger.Info("Watching directory",
		zap.String("dir", w.opts.Dir),
		zap.Duration("settle_delay", w.opts.SettleDelay),
		zap.Bool("backfill", w.opts.Backfill),
	)

	if w.opts.Backfill {
		if err := w.backfill(ctx); err != nil {
			w.logger.Error("Backfill failed", zap.String("dir", w.opts.Dir), zap.Error(err))
		}
	}

	var settle <-chan time.Time
	if w.opts.SettleDelay > 0 {
		period := w.opts.SettleDelay / 4
		if period < 10*time.Millisecond {
			period = 10 * time.Millisecond
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		settle = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopping, waiting for in-flight files...")
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Error("Watch error", zap.Error(err))

		case now := <-settle:
			w.dispatchSettled(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	kind, ok := model.KindOf(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.pendingMu.Lock()
		delete(w.pending, event.Name)
		w.pendingMu.Unlock()
		return

	case event.Has(fsnotify.Write):
		w.pendingMu.Lock()
		if _, waiting := w.pending[event.Name]; waiting {
			w.pending[event.Name] = time.Now()
		}
		w.pendingMu.Unlock()
		return

	case !event.Has(fsnotify.Create):
		return
	}

	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return
	}

	if kind == model.KindCapture && w.opts.SettleDelay > 0 {
		w.pendingMu.Lock()
		w.pending[event.Name] = time.Now()
		w.pendingMu.Unlock()
		return
	}
	w.dispatch(ctx, kind, event.Name)
}

func (w *Watcher) dispatchSettled(ctx context.Context, now time.Time) {
	var ready []string
	w.pendingMu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.opts.SettleDelay {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		w.dispatch(ctx, model.KindCapture, path)
	}
}

func (w *Watcher) backfill(ctx context.Context) error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return err
	}
	// Existing tables go first. Tables produced by the backfilled captures
	// arrive later as ordinary events.
	var captures, tables []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.opts.Dir, entry.Name())
		switch kind, _ := model.KindOf(path); kind {
		case model.KindCapture:
			captures = append(captures, path)
		case model.KindTable:
			tables = append(tables, path)
		}
	}
	for _, path := range tables {
		w.dispatch(ctx, model.KindTable, path)
	}
	for _, path := range captures {
		w.dispatch(ctx, model.KindCapture, path)
	}
	w.logger.Info("Backfill dispatched existing files", zap.Int("captures", len(captures)), zap.Int("tables", len(tables)))
	return nil
}

func (w *Watcher) dispatch(ctx context.Context, kind model.FileKind, path string) {
	w.logger.Debug("Dispatching file", zap.String("kind", kind.String()), zap.String("file", path))
	if err := w.dispatcher.Dispatch(ctx, kind, path); err != nil {
		w.logger.Warn("Failed to dispatch file", zap.String("kind", kind.String()), zap.String("file", path), zap.Error(err))
	}
}
