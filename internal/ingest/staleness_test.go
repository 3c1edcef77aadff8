package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastUpdated time.Time
		want        bool
	}{
		{"never written", time.Time{}, true},
		{"10 hours ago", now.Add(-10 * time.Hour), false},
		{"just under threshold", now.Add(-24*time.Hour + time.Nanosecond), false},
		{"exactly threshold", now.Add(-24 * time.Hour), true},
		{"two days ago", now.Add(-48 * time.Hour), true},
		{"clock skew into the future", now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStale(tt.lastUpdated, now, DefaultStaleAfter))
		})
	}
}

func TestIsStale_Monotonic(t *testing.T) {
	last := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	stale := false
	for h := 0; h <= 72; h++ {
		got := IsStale(last, last.Add(time.Duration(h)*time.Hour), 24*time.Hour)
		if stale {
			assert.True(t, got, "flipped back to fresh at +%dh", h)
		}
		stale = got
	}
	assert.True(t, stale)
}
