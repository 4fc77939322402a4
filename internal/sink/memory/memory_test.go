package memory

import (
	"context"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/model"
)

func event(id, service string, ts time.Time) model.LogEvent {
	return model.LogEvent{
		ID:        id,
		Timestamp: ts,
		Service:   service,
		Level:     model.LevelInfo,
		Message:   "m",
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := NewHotStore()
	ctx := context.Background()
	ev := event("e1", "auth", time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := s.Upsert(ctx, ev); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if s.Len() != 1 {
		t.Errorf("len = %d after replays, want 1", s.Len())
	}
}

func TestQueryWindowHalfOpen(t *testing.T) {
	s := NewHotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	s.Upsert(ctx, event("before", "auth", base.Add(-time.Nanosecond)))
	s.Upsert(ctx, event("at-start", "auth", base))
	s.Upsert(ctx, event("mid", "auth", base.Add(5*time.Second)))
	s.Upsert(ctx, event("at-end", "auth", base.Add(10*time.Second)))

	got, err := s.QueryWindow(ctx, "", base, base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2 (start inclusive, end exclusive)", len(got))
	}
	if got[0].ID != "at-start" || got[1].ID != "mid" {
		t.Errorf("got %s,%s, want at-start,mid in timestamp order", got[0].ID, got[1].ID)
	}
}

func TestQueryWindowServiceFilter(t *testing.T) {
	s := NewHotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	s.Upsert(ctx, event("a1", "auth", base))
	s.Upsert(ctx, event("p1", "payment", base.Add(time.Second)))

	got, err := s.QueryWindow(ctx, "payment", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("got %v, want only p1", got)
	}

	all, err := s.QueryWindow(ctx, "", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d events for empty service, want 2", len(all))
	}
}

func TestQueryWindowDeterministicOrder(t *testing.T) {
	s := NewHotStore()
	ctx := context.Background()
	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// Same timestamp: order falls back to ID.
	s.Upsert(ctx, event("b", "auth", ts))
	s.Upsert(ctx, event("a", "auth", ts))
	s.Upsert(ctx, event("c", "auth", ts))

	got, _ := s.QueryWindow(ctx, "auth", ts, ts.Add(time.Second))
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("order = %s,%s,%s, want a,b,c", got[0].ID, got[1].ID, got[2].ID)
	}
}
