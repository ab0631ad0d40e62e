// Package pipeline chains extraction, classification and logging for the
// files the watcher dispatches, on a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"Go2NetSentinel/internal/extractor"
	"Go2NetSentinel/internal/forest"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

// Modes for chaining extraction into classification.
const (
	// ModeFilesystem leaves the extracted table for the watcher to pick up.
	ModeFilesystem = "filesystem"
	// ModeDirect classifies the extracted table in the same job.
	ModeDirect = "direct"
)

// Stage names used in logs and metrics.
const (
	StageExtract  = "extract"
	StageClassify = "classify"
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("pipeline stopped")

// Trigger is notified after malicious entries are appended.
type Trigger interface {
	Trigger()
}

// Options sizes the worker pool.
type Options struct {
	Workers   int
	QueueSize int
	Mode      string
}

type job struct {
	ctx  context.Context
	kind model.FileKind
	path string
}

// Orchestrator runs one isolated job per dispatched file.
type Orchestrator struct {
	opts       Options
	extractor  *extractor.Extractor
	classifier forest.Classifier
	store      maliciouslog.Store
	trigger    Trigger
	logger     *zap.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time

	jobs     chan job
	workerWg sync.WaitGroup
	inflight sync.WaitGroup

	stopMu  sync.RWMutex
	stopped bool

	// claims holds tables that a direct-mode job will classify itself.
	claims sync.Map
}

// New creates an Orchestrator. trigger and m may be nil.
func New(opts Options, ex *extractor.Extractor, classifier forest.Classifier, store maliciouslog.Store, trigger Trigger, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.Mode == "" {
		opts.Mode = ModeFilesystem
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		opts:       opts,
		extractor:  ex,
		classifier: classifier,
		store:      store,
		trigger:    trigger,
		logger:     logger,
		metrics:    m,
		clock:      time.Now,
		jobs:       make(chan job, opts.QueueSize),
	}
}

// SetClock replaces the time source used to stamp malicious entries.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	o.workerWg.Add(o.opts.Workers)
	for i := 0; i < o.opts.Workers; i++ {
		go o.worker()
	}
	o.logger.Info("Pipeline started", zap.Int("workers", o.opts.Workers), zap.Int("queue_size", o.opts.QueueSize), zap.String("mode", o.opts.Mode))
}

// Dispatch queues a file. It blocks while the queue is full, until ctx is done.
// The job itself runs to completion even if ctx is cancelled afterwards.
func (o *Orchestrator) Dispatch(ctx context.Context, kind model.FileKind, path string) error {
	o.stopMu.RLock()
	defer o.stopMu.RUnlock()
	if o.stopped {
		return ErrStopped
	}

	o.inflight.Add(1)
	select {
	case o.jobs <- job{ctx: context.WithoutCancel(ctx), kind: kind, path: path}:
		o.metrics.SetQueueDepth(len(o.jobs))
		return nil
	case <-ctx.Done():
		o.inflight.Done()
		return ctx.Err()
	}
}

// Wait blocks until every dispatched job has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Stop rejects further dispatches, drains the queue and stops the workers.
func (o *Orchestrator) Stop() {
	o.stopMu.Lock()
	if o.stopped {
		o.stopMu.Unlock()
		return
	}
	o.stopped = true
	close(o.jobs)
	o.stopMu.Unlock()

	o.logger.Info("Waiting for pipeline workers to finish...")
	o.workerWg.Wait()
	o.logger.Info("Pipeline stopped.")
}

func (o *Orchestrator) worker() {
	defer o.workerWg.Done()
	for j := range o.jobs {
		o.metrics.SetQueueDepth(len(o.jobs))
		o.HandleFile(j.ctx, j.kind, j.path)
		o.inflight.Done()
	}
}

// HandleFile runs the stage for one file. Failures, panics included, are
// logged with their stage and returned; they never escape as panics.
func (o *Orchestrator) HandleFile(ctx context.Context, kind model.FileKind, path string) (err error) {
	stage := StageExtract
	if kind == model.KindTable {
		stage = StageClassify
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling file: %v", r)
			o.logger.Error("Recovered from panic", zap.String("stage", stage), zap.String("file", path), zap.ByteString("stack", debug.Stack()))
		}
		if err != nil {
			o.fail(stage, path, err)
			return
		}
		o.metrics.FileDone(stage, time.Since(start).Seconds())
	}()

	switch kind {
	case model.KindCapture:
		return o.ProcessCapture(ctx, path)
	case model.KindTable:
		if _, claimed := o.claims.Load(path); claimed {
			o.logger.Debug("Table is handled by its extraction job", zap.String("file", path))
			return nil
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			o.logger.Debug("Table already consumed", zap.String("file", path))
			return nil
		}
		return o.ProcessTable(ctx, path)
	default:
		return fmt.Errorf("%w: unsupported file %s", model.ErrInput, path)
	}
}

func (o *Orchestrator) fail(stage, path string, err error) {
	kind := model.Kind(err)
	o.metrics.FileFailed(stage, kind)
	o.logger.Error("Stage failed",
		zap.String("stage", stage),
		zap.String("file", path),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// ProcessCapture extracts a capture. In direct mode it also classifies the
// resulting table.
func (o *Orchestrator) ProcessCapture(ctx context.Context, path string) error {
	direct := o.opts.Mode == ModeDirect
	var output string
	if direct {
		output = o.extractor.OutputPath(path)
		o.claims.Store(output, struct{}{})
		defer o.claims.Delete(output)
	}

	res, err := o.extractor.Extract(ctx, path)
	if err != nil {
		return err
	}
	o.metrics.Packets(res.Processed, res.Excluded)

	if !direct {
		return nil
	}
	if err := o.ProcessTable(ctx, res.Output); err != nil {
		return fmt.Errorf("classify %s: %w", res.Output, err)
	}
	return nil
}

// ProcessTable classifies a table, appends its malicious rows to the log and
// wakes the monitor. The table is removed afterwards whatever the outcome.
func (o *Orchestrator) ProcessTable(ctx context.Context, path string) error {
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("Failed to delete table", zap.String("file", path), zap.Error(err))
		}
	}()

	results, err := forest.ClassifyFile(ctx, o.classifier, path)
	if err != nil {
		return err
	}

	now := o.clock()
	var entries []model.MaliciousEntry
	for _, r := range results {
		if r.Malicious() {
			entries = append(entries, model.MaliciousEntry{SourceIP: r.Record.SourceIP, DetectedAt: now})
		}
	}
	o.metrics.Classified(len(results)-len(entries), len(entries))

	if len(entries) == 0 {
		o.logger.Info("No malicious packets found", zap.String("file", path), zap.Int("rows", len(results)))
		return nil
	}
	if err := o.store.Append(ctx, entries); err != nil {
		return fmt.Errorf("failed to update malicious log: %w", err)
	}
	o.logger.Info("Updated malicious log", zap.String("file", path), zap.Int("rows", len(results)), zap.Int("malicious", len(entries)))

	if o.trigger != nil {
		o.trigger.Trigger()
	}
	return nil
}
