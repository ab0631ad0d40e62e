// Package alerter implements the rate monitor: it scans the malicious log,
// raises an attack event for every source that exceeds the request-rate
// threshold inside the trailing window and prunes expired entries.
package alerter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options holds the parsed monitor settings.
type Options struct {
	Window    time.Duration
	Retention time.Duration
	// Interval between scheduled passes. Zero disables the schedule.
	Interval     time.Duration
	Threshold    int
	RecentAlerts int
}

// OptionsFromConfig parses the monitor section of the configuration.
func OptionsFromConfig(cfg config.MonitorConfig) (Options, error) {
	window, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return Options{}, fmt.Errorf("invalid monitor window: %w", err)
	}
	retention, err := time.ParseDuration(cfg.Retention)
	if err != nil {
		return Options{}, fmt.Errorf("invalid monitor retention: %w", err)
	}
	interval, err := config.ParseOptionalDuration(cfg.Interval)
	if err != nil {
		return Options{}, fmt.Errorf("invalid monitor interval: %w", err)
	}
	return Options{
		Window:       window,
		Retention:    retention,
		Interval:     interval,
		Threshold:    cfg.Threshold,
		RecentAlerts: cfg.RecentAlerts,
	}, nil
}

// Monitor runs rate-monitor passes on a schedule and on demand.
type Monitor struct {
	store    maliciouslog.Store
	alertLog *AlertLog
	sinks    []model.AlertSink
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics

	clock   func() time.Time
	trigger chan struct{}
	// drained, when set, is awaited before the final pass on shutdown.
	drained <-chan struct{}

	// passMu serializes passes; recentMu guards recent.
	passMu   sync.Mutex
	recentMu sync.Mutex
	recent   *ring[model.AttackEvent]
}

// NewMonitor creates a Monitor. sinks may be empty and m may be nil.
func NewMonitor(store maliciouslog.Store, alertLog *AlertLog, sinks []model.AlertSink, opts Options, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:    store,
		alertLog: alertLog,
		sinks:    sinks,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		clock:    time.Now,
		trigger:  make(chan struct{}, 1),
		recent:   newRing[model.AttackEvent](opts.RecentAlerts),
	}
}

// SetClock replaces the time source. Call before Run.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.clock = clock
}

// FinalPassAfter delays the shutdown pass until done is closed, so entries
// appended by producers that are still draining are evaluated. Call before Run.
func (m *Monitor) FinalPassAfter(done <-chan struct{}) {
	m.drained = done
}

// Trigger requests a pass. Requests made while one is pending are merged.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run performs passes on every tick and trigger until ctx is cancelled, then
// runs one last pass so entries appended during shutdown are evaluated.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Rate monitor started",
		zap.Duration("window", m.opts.Window),
		zap.Duration("interval", m.opts.Interval),
		zap.Int("threshold", m.opts.Threshold),
	)

	var tick <-chan time.Time
	if m.opts.Interval > 0 {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			m.runPass(ctx)
		case <-m.trigger:
			m.runPass(ctx)
		case <-ctx.Done():
			m.logger.Info("Stopping rate monitor...")
			if m.drained != nil {
				<-m.drained
			}
			m.runPass(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (m *Monitor) runPass(ctx context.Context) {
	if _, err := m.Pass(ctx); err != nil {
		m.logger.Error("Rate monitor pass failed", zap.String("stage", "monitor"), zap.String("kind", model.Kind(err)), zap.Error(err))
	}
}

// Pass evaluates the log once. Failing to read the log, write the alert log
// or compact is returned; sink failures are only logged.
func (m *Monitor) Pass(ctx context.Context) (events []model.AttackEvent, err error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	defer func() { m.metrics.MonitorPass(err == nil) }()

	entries, err := m.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan malicious log: %w", err)
	}

	now := m.clock()
	for _, d := range Detect(entries, now, m.opts.Window, m.opts.Threshold) {
		events = append(events, model.AttackEvent{
			ID:         uuid.NewString(),
			SourceIP:   d.SourceIP,
			Count:      d.Count,
			DetectedAt: now,
		})
	}

	if len(events) > 0 {
		if m.alertLog != nil {
			if err := m.alertLog.Append(events); err != nil {
				return events, fmt.Errorf("failed to record alerts: %w", err)
			}
		}
		for _, e := range events {
			m.logger.Warn("Potential DoS attack detected",
				zap.String("source_ip", e.SourceIP),
				zap.Int("count", e.Count),
				zap.Duration("window", m.opts.Window),
				zap.String("alert_id", e.ID),
			)
		}
		m.metrics.Alerts(len(events))
		m.remember(events)
		m.publish(ctx, events)
	}

	removed, err := m.store.Compact(ctx, now.Add(-m.opts.Retention))
	if err != nil {
		return events, fmt.Errorf("failed to compact malicious log: %w", err)
	}
	m.logger.Debug("Rate monitor pass completed",
		zap.Int("entries", len(entries)),
		zap.Int("alerts", len(events)),
		zap.Int("expired", removed),
	)
	return events, nil
}

func (m *Monitor) publish(ctx context.Context, events []model.AttackEvent) {
	var wg sync.WaitGroup
	for _, sink := range m.sinks {
		wg.Add(1)
		go func(s model.AlertSink) {
			defer wg.Done()
			if err := s.Publish(ctx, events); err != nil {
				m.metrics.SinkFailed(s.Name())
				m.logger.Error("Failed to deliver alerts", zap.String("sink", s.Name()), zap.Error(err))
			}
		}(sink)
	}
	wg.Wait()
}

func (m *Monitor) remember(events []model.AttackEvent) {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	for _, e := range events {
		m.recent.Add(e)
	}
}

// Recent returns the most recent attack events, oldest first.
func (m *Monitor) Recent() []model.AttackEvent {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	return m.recent.Values()
}
