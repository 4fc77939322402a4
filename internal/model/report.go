package model

import "time"

// ServiceMetrics holds one service's numbers for one window. Percentiles are
// nil when the window had no latency samples for the service; zero would be
// a lie.
type ServiceMetrics struct {
	Service    string   `json:"service"`
	EventCount int      `json:"event_count"`
	ErrorCount int      `json:"error_count"`
	ErrorRate  float64  `json:"error_rate"`
	P50        *float64 `json:"p50"`
	P95        *float64 `json:"p95"`
	P99        *float64 `json:"p99"`
}

// WindowMetrics is the immutable result of one completed aggregation window.
// Windows are half-open [Start, End), contiguous and non-overlapping unless a
// gap was recorded. A service with zero events has no entry at all.
type WindowMetrics struct {
	WindowStart time.Time                 `json:"window_start"`
	WindowEnd   time.Time                 `json:"window_end"`
	Services    map[string]ServiceMetrics `json:"services,omitempty"`
}

// ReportSnapshot is the externally visible artifact the dashboard reads.
// It is only ever replaced wholesale via atomic rename, never mutated.
type ReportSnapshot struct {
	SnapshotID  string        `json:"snapshot_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Window      WindowMetrics `json:"window"`
	// Gap marks a window for which the hot store was unreachable for the
	// whole cycle. Gap windows carry no per-service entries and are never
	// interpolated.
	Gap bool `json:"gap"`
}
