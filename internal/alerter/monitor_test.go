package alerter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 9, 30, 0, 0, time.Local)

func entries(ip string, n int, age time.Duration) []model.MaliciousEntry {
	out := make([]model.MaliciousEntry, n)
	for i := range out {
		out[i] = model.MaliciousEntry{SourceIP: ip, DetectedAt: now.Add(-age)}
	}
	return out
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []model.AttackEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, events []model.AttackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return s.err
}

func defaultOptions() Options {
	return Options{Window: time.Minute, Retention: 10 * time.Minute, Threshold: 10, RecentAlerts: 5}
}

func newTestMonitor(t *testing.T, sinks ...model.AlertSink) (*Monitor, maliciouslog.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := maliciouslog.NewCSVStore(filepath.Join(dir, "malicious_packets.csv"), nil)
	require.NoError(t, err)
	alertLog, err := NewAlertLog(filepath.Join(dir, "attack_log.csv"))
	require.NoError(t, err)

	m := NewMonitor(store, alertLog, sinks, defaultOptions(), nil, nil)
	m.SetClock(func() time.Time { return now })
	return m, store, alertLog.Path()
}

func TestDetect_Threshold(t *testing.T) {
	var log []model.MaliciousEntry
	log = append(log, entries("10.0.0.1", 11, 30*time.Second)...)
	log = append(log, entries("10.0.0.2", 10, 30*time.Second)...)

	got := Detect(log, now, time.Minute, 10)
	require.Len(t, got, 1)
	assert.Equal(t, Detection{SourceIP: "10.0.0.1", Count: 11}, got[0])
}

func TestDetect_WindowAndOrder(t *testing.T) {
	var log []model.MaliciousEntry
	log = append(log, entries("10.0.0.9", 50, 2*time.Minute)...)
	log = append(log, entries("10.0.0.3", 12, time.Minute)...)
	log = append(log, entries("10.0.0.2", 12, 0)...)
	log = append(log, entries("10.0.0.1", 20, 5*time.Second)...)

	got := Detect(log, now, time.Minute, 10)
	assert.Equal(t, []Detection{
		{SourceIP: "10.0.0.1", Count: 20},
		{SourceIP: "10.0.0.2", Count: 12},
		{SourceIP: "10.0.0.3", Count: 12},
	}, got)
}

func TestMonitor_PassRaisesAndCompacts(t *testing.T) {
	sink := &recordingSink{name: "recorder"}
	m, store, alertPath := newTestMonitor(t, sink)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entries("10.0.0.1", 11, 10*time.Second)))
	require.NoError(t, store.Append(ctx, entries("10.0.0.2", 10, 10*time.Second)))
	require.NoError(t, store.Append(ctx, entries("10.0.0.3", 30, 11*time.Minute)))

	events, err := m.Pass(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "10.0.0.1", events[0].SourceIP)
	assert.Equal(t, 11, events[0].Count)
	assert.NotEmpty(t, events[0].ID)
	assert.True(t, events[0].DetectedAt.Equal(now))

	data, err := os.ReadFile(alertPath)
	require.NoError(t, err)
	assert.Equal(t, "source_ip,count,timestamp\n10.0.0.1,11,2026-05-01 09:30:00\n", string(data))

	assert.Len(t, sink.events, 1)
	assert.Len(t, m.Recent(), 1)

	remaining, err := store.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 21, "entries older than the retention are dropped")
	for _, e := range remaining {
		assert.False(t, e.DetectedAt.Before(now.Add(-10*time.Minute)))
	}
}

func TestMonitor_QuietPass(t *testing.T) {
	m, store, alertPath := newTestMonitor(t)
	require.NoError(t, store.Append(context.Background(), entries("10.0.0.1", 10, 0)))

	events, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	data, err := os.ReadFile(alertPath)
	require.NoError(t, err)
	assert.Equal(t, "source_ip,count,timestamp\n", string(data))
}

func TestMonitor_SinkFailureDoesNotFailPass(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("connection refused")}
	good := &recordingSink{name: "good"}
	m, store, _ := newTestMonitor(t, bad, good)
	require.NoError(t, store.Append(context.Background(), entries("10.0.0.1", 15, 0)))

	events, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, good.events, 1)
	assert.Len(t, bad.events, 1)
}

func TestMonitor_AlertLogFailureIsIOError(t *testing.T) {
	m, store, alertPath := newTestMonitor(t)
	require.NoError(t, store.Append(context.Background(), entries("10.0.0.1", 15, 0)))

	require.NoError(t, os.Remove(alertPath))
	require.NoError(t, os.Mkdir(alertPath, 0o755))

	_, err := m.Pass(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIO))
}

func TestMonitor_RecentIsBounded(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(ctx, entries(fmt.Sprintf("10.0.1.%d", i), 11, 0)))
	}
	events, err := m.Pass(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 8)

	recent := m.Recent()
	require.Len(t, recent, 5)
	assert.Equal(t, events[7].SourceIP, recent[4].SourceIP)
}

func TestMonitor_RunOnTrigger(t *testing.T) {
	sink := &recordingSink{name: "recorder"}
	m, store, _ := newTestMonitor(t, sink)
	require.NoError(t, store.Append(context.Background(), entries("10.0.0.1", 12, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.Trigger()
	m.Trigger()
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_FinalPassWaitsForProducers(t *testing.T) {
	sink := &recordingSink{name: "recorder"}
	m, store, _ := newTestMonitor(t, sink)
	drained := make(chan struct{})
	m.FinalPassAfter(drained)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	// A job still finishing after shutdown began appends its entries.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Append(context.Background(), entries("10.0.0.9", 11, 0)))
	select {
	case <-done:
		t.Fatal("monitor stopped before producers drained")
	default:
	}
	close(drained)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, "10.0.0.9", sink.events[0].SourceIP)
	assert.Equal(t, 11, sink.events[0].Count)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.Default().Monitor)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.Window)
	assert.Equal(t, 10*time.Minute, opts.Retention)
	assert.Equal(t, 10*time.Second, opts.Interval)
	assert.Equal(t, 10, opts.Threshold)

	_, err = OptionsFromConfig(config.MonitorConfig{Window: "x", Retention: "1m"})
	assert.Error(t, err)
}

func TestAlertLog_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attack_log.csv")
	_, err := NewAlertLog(path)
	require.NoError(t, err)
	l, err := NewAlertLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append([]model.AttackEvent{{SourceIP: "10.0.0.1", Count: 42, DetectedAt: now}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "source_ip,count,timestamp"))
	assert.True(t, strings.HasSuffix(string(data), "10.0.0.1,42,2026-05-01 09:30:00\n"))
}
