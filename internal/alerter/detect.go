package alerter

import (
	"sort"
	"time"

	"Go2NetSentinel/internal/model"
)

// Detection is a source that exceeded the threshold inside the window.
type Detection struct {
	SourceIP string
	Count    int
}

// Detect counts the entries detected at or after now-window per source and
// returns every source whose count is strictly greater than threshold,
// ordered by count descending and then by address.
func Detect(entries []model.MaliciousEntry, now time.Time, window time.Duration, threshold int) []Detection {
	start := now.Add(-window)
	counts := make(map[string]int)
	for _, e := range entries {
		if e.DetectedAt.Before(start) {
			continue
		}
		counts[e.SourceIP]++
	}

	var out []Detection
	for ip, n := range counts {
		if n > threshold {
			out = append(out, Detection{SourceIP: ip, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SourceIP < out[j].SourceIP
	})
	return out
}
