// Package aggregate computes per-service metrics over fixed, non-overlapping
// time windows of hot-store data and publishes them as immutable report
// snapshots.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/report"
	"github.com/loglens/loglens/internal/sink"
)

// Engine runs one timer-driven aggregation cycle per window. It only reads
// from the hot store; it shares no state with the ingestion side.
type Engine struct {
	hot        sink.HotStore
	reports    report.Sink
	windowSize time.Duration
	logger     *slog.Logger

	// lastEnd is the exclusive end of the most recently handled window,
	// i.e. the start of the next one. Touched only by the Run goroutine.
	lastEnd time.Time
}

func NewEngine(hot sink.HotStore, reports report.Sink, windowSize time.Duration, logger *slog.Logger) *Engine {
	if windowSize <= 0 {
		windowSize = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hot:        hot,
		reports:    reports,
		windowSize: windowSize,
		logger:     logger,
	}
}

// Run executes cycles until ctx is cancelled. The first window starts at the
// window-size boundary at or before startup, so boundaries stay aligned
// across restarts.
func (e *Engine) Run(ctx context.Context) error {
	e.lastEnd = time.Now().UTC().Truncate(e.windowSize)

	ticker := time.NewTicker(e.windowSize)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.cycle(ctx, time.Now().UTC())
		}
	}
}

// cycle handles every window that has fully elapsed by now. A catch-up loop
// rather than a single step, so a stalled tick never produces overlapping or
// skipped boundaries.
func (e *Engine) cycle(ctx context.Context, now time.Time) {
	for {
		start := e.lastEnd
		end := start.Add(e.windowSize)
		if end.After(now) {
			return
		}
		if !e.window(ctx, start, end) {
			// Publish failed: leave lastEnd alone so the unpublished
			// window is retried next cycle. Later windows wait.
			return
		}
		e.lastEnd = end
	}
}

// window aggregates [start, end) and publishes the snapshot. Returns false
// only when the snapshot itself could not be published.
func (e *Engine) window(ctx context.Context, start, end time.Time) bool {
	snap := model.ReportSnapshot{
		SnapshotID:  uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Window: model.WindowMetrics{
			WindowStart: start,
			WindowEnd:   end,
		},
	}

	events, err := e.hot.QueryWindow(ctx, "", start, end)
	if err != nil {
		// Gap, not a crash: publish the window with no metrics and move
		// on. Gaps are never interpolated afterwards.
		e.logger.Warn("hot store unreachable for window, recording gap",
			"operation", "aggregate_window",
			"window_start", start,
			"window_end", end,
			"error", err)
		snap.Gap = true
	} else {
		snap.Window.Services = Compute(events)
	}

	if err := e.reports.Publish(snap); err != nil {
		e.logger.Error("snapshot publish failed, cycle aborted",
			"operation", "publish_snapshot",
			"window_start", start,
			"window_end", end,
			"error", err)
		return false
	}
	return true
}

// Compute folds a window's events into per-service metrics. Services absent
// from the window get no entry: absence means zero activity, not unknown.
func Compute(events []model.LogEvent) map[string]model.ServiceMetrics {
	if len(events) == 0 {
		return nil
	}

	type acc struct {
		count   int
		errors  int
		samples []float64
	}
	byService := make(map[string]*acc)
	for _, ev := range events {
		a := byService[ev.Service]
		if a == nil {
			a = &acc{}
			byService[ev.Service] = a
		}
		a.count++
		if ev.Level.IsError() {
			a.errors++
		}
		if ev.HasLatency {
			a.samples = append(a.samples, ev.ResponseTimeMs)
		}
	}

	out := make(map[string]model.ServiceMetrics, len(byService))
	for svc, a := range byService {
		m := model.ServiceMetrics{
			Service:    svc,
			EventCount: a.count,
			ErrorCount: a.errors,
			ErrorRate:  float64(a.errors) / float64(a.count),
			P50:        percentile(a.samples, 50),
			P95:        percentile(a.samples, 95),
			P99:        percentile(a.samples, 99),
		}
		out[svc] = m
	}
	return out
}
