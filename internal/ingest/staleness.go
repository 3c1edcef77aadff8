package ingest

import "time"

const DefaultStaleAfter = 24 * time.Hour

// IsStale reports whether a product last written at lastUpdated needs a new
// detail fetch at now. A zero lastUpdated is always stale.
func IsStale(lastUpdated, now time.Time, threshold time.Duration) bool {
	if lastUpdated.IsZero() {
		return true
	}
	return now.Sub(lastUpdated) >= threshold
}
