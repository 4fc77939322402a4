package redisstore

import (
	"strconv"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/model"
)

func TestInWindowHalfOpen(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Second)

	cases := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"before start", start.Add(-time.Nanosecond), false},
		{"at start", start, true},
		{"inside", start.Add(5 * time.Second), true},
		{"last nanosecond", end.Add(-time.Nanosecond), true},
		{"at end", end, false},
		{"after end", end.Add(time.Nanosecond), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := model.LogEvent{Timestamp: tc.ts}
			if got := inWindow(ev, start, end); got != tc.want {
				t.Errorf("inWindow(%v) = %v, want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestWindowScoresBracketRoundedBoundaries(t *testing.T) {
	// Near the current epoch consecutive float64 values are ~256ns apart, so
	// a boundary event's score can round outside the exact window. The
	// widened range must still cover it.
	end := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	start := end.Add(-10 * time.Second)

	minScore, maxScore := windowScores(start, end)
	minNs, err := strconv.ParseInt(minScore, 10, 64)
	if err != nil {
		t.Fatalf("parse min score %q: %v", minScore, err)
	}
	maxNs, err := strconv.ParseInt(maxScore, 10, 64)
	if err != nil {
		t.Fatalf("parse max score %q: %v", maxScore, err)
	}

	for _, ts := range []int64{start.UnixNano(), end.UnixNano() - 1} {
		score := float64(ts)
		if score < float64(minNs) || score > float64(maxNs) {
			t.Errorf("rounded score for %d falls outside [%s, %s]", ts, minScore, maxScore)
		}
	}
}
