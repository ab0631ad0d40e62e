package maliciouslog

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
	"Go2NetSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)

func entry(ip string, offset time.Duration) model.MaliciousEntry {
	return model.MaliciousEntry{SourceIP: ip, DetectedAt: base.Add(offset)}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, backend := range []string{"csv", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "malicious."+backend)
			s, err := Open(config.MaliciousLogConfig{Backend: backend, Path: path}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_AppendScanCompact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, []model.MaliciousEntry{
			entry("10.0.0.1", -20*time.Minute),
			entry("10.0.0.2", -5*time.Minute),
		}))
		require.NoError(t, s.Append(ctx, []model.MaliciousEntry{entry("10.0.0.3", 0)}))
		require.NoError(t, s.Append(ctx, nil))

		got, err := s.Scan(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "10.0.0.1", got[0].SourceIP)
		assert.True(t, got[2].DetectedAt.Equal(base))

		removed, err := s.Compact(ctx, base.Add(-10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err = s.Scan(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "10.0.0.2", got[0].SourceIP)
		assert.Equal(t, "10.0.0.3", got[1].SourceIP)
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers, perWriter = 20, 10

		var wg sync.WaitGroup
		errs := make(chan error, writers+1)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				batch := make([]model.MaliciousEntry, perWriter)
				for i := range batch {
					batch[i] = entry(fmt.Sprintf("10.1.%d.%d", w, i), 0)
				}
				errs <- s.Append(ctx, batch)
			}(w)
		}
		// A compaction racing the appends must not drop any of them.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Compact(ctx, base.Add(-time.Hour))
			errs <- err
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.Scan(ctx)
		require.NoError(t, err)
		assert.Len(t, got, writers*perWriter)
	})
}

func TestCSVStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malicious_packets.csv")
	s, err := NewCSVStore(path, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, []model.MaliciousEntry{entry("192.168.1.7", time.Duration(i)*time.Second)}))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "source_ip,timestamp", lines[0])
	assert.Equal(t, "192.168.1.7,2026-03-14 12:00:00", lines[1])
	assert.Equal(t, "192.168.1.7,2026-03-14 12:00:02", lines[3])
}

func TestCSVStore_HeaderOnlyOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	_, err := NewCSVStore(path, nil)
	require.NoError(t, err)
	// Reopening an existing log must not add a second header.
	s, err := NewCSVStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), []model.MaliciousEntry{entry("10.0.0.1", 0)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "source_ip,timestamp\n10.0.0.1,2026-03-14 12:00:00\n", string(data))
}

func TestCSVStore_SkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	content := "source_ip,timestamp\n" +
		"10.0.0.1,2026-03-14 12:00:00\n" +
		"10.0.0.2,yesterday\n" +
		"10.0.0.3\n" +
		",2026-03-14 12:00:00\n" +
		"10.0.0.4,2026-03-14 12:00:05\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := NewCSVStore(path, nil)
	require.NoError(t, err)
	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.4", got[1].SourceIP)

	// Compaction rewrites only the rows it could read.
	removed, err := s.Compact(context.Background(), base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "source_ip,timestamp\n10.0.0.4,2026-03-14 12:00:05\n", string(data))
}

func TestCSVStore_AppendFailureIsIOError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")
	s, err := NewCSVStore(path, nil)
	require.NoError(t, err)

	// Replace the log with a directory so it cannot be opened for writing.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	err = s.Append(context.Background(), []model.MaliciousEntry{entry("10.0.0.1", 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIO))
}

// Two stores on one file stand in for two processes: the sidecar lock must
// keep compaction in one from dropping rows appended by the other.
func TestCSVStore_SharedFileKeepsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.csv")
	writer, err := NewCSVStore(path, nil)
	require.NoError(t, err)
	compactor, err := NewCSVStore(path, nil)
	require.NoError(t, err)

	const n = 500
	ctx := context.Background()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := compactor.Compact(ctx, base.Add(-time.Hour)); err != nil {
				t.Errorf("compact: %v", err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, writer.Append(ctx, []model.MaliciousEntry{entry(fmt.Sprintf("10.1.%d.%d", i/256, i%256), 0)}))
	}
	close(done)
	wg.Wait()

	got, err := compactor.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, got, n)
	assert.FileExists(t, writer.LockPath())
}

func TestCSVStore_MissingFileScansEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	s, err := NewCSVStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(config.MaliciousLogConfig{Backend: "redis", Path: "x"}, nil)
	assert.Error(t, err)
}

func TestSince(t *testing.T) {
	entries := []model.MaliciousEntry{entry("a", -2*time.Minute), entry("b", -time.Minute), entry("c", 0)}
	got := Since(entries, base.Add(-time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SourceIP)
}
