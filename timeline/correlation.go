package timeline

import (
	"strings"
	"time"
)

// PairKey is the unordered correlation matrix key for two source ids
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// SplitPairKey returns the two source ids of a matrix key
func SplitPairKey(key string) (string, string) {
	a, b, _ := strings.Cut(key, "|")
	return a, b
}

// correlate counts every pair of events from different sources whose
// timestamps are strictly closer than threshold, and tags both events.
// entries must be sorted by timestamp; the scan only looks ahead while the
// window is open, so cost is proportional to the number of close pairs.
func correlate(entries []mergeEntry, threshold time.Duration) map[string]int {
	matrix := make(map[string]int)

	for i := range entries {
		left := entries[i]
		for j := i + 1; j < len(entries); j++ {
			right := entries[j]
			if right.event.Timestamp.Sub(left.event.Timestamp) >= threshold {
				break
			}
			if right.origin == left.origin {
				continue
			}
			matrix[PairKey(left.origin, right.origin)]++
			left.event.MarkCorrelated()
			right.event.MarkCorrelated()
		}
	}

	return matrix
}
