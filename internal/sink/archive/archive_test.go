package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

func batch(seq uint64, n int) sink.Batch {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	b := sink.Batch{Seq: seq}
	for i := 0; i < n; i++ {
		b.Events = append(b.Events, model.LogEvent{
			ID:        fmt.Sprintf("e%d-%d", seq, i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Service:   "auth",
			Level:     model.LevelInfo,
			Message:   "m",
		})
	}
	return b
}

func TestAppendReadRoundtrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	in := batch(1, 5)
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := s.ReadSegment(1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("read back %d events, want 5", len(out))
	}
	for i := range out {
		if out[i].ID != in.Events[i].ID {
			t.Errorf("event %d: id %s, want %s (append order must survive)", i, out[i].ID, in.Events[i].ID)
		}
		if !out[i].Timestamp.Equal(in.Events[i].Timestamp) {
			t.Errorf("event %d: timestamp drifted", i)
		}
	}
}

func TestAppendReplayIsNoOp(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	if err := s.Append(ctx, batch(3, 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Replay the same sequence with different contents: nothing changes.
	replay := batch(3, 4)
	if err := s.Append(ctx, replay); err != nil {
		t.Fatalf("replay append: %v", err)
	}

	out, err := s.ReadSegment(3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("segment holds %d events after replay, want the original 2", len(out))
	}

	entries, _ := os.ReadDir(dir)
	segs := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".seg") {
			segs++
		}
	}
	if segs != 1 {
		t.Errorf("%d segment files after replay, want 1", segs)
	}
}

func TestLastSeq(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	if last, err := s.LastSeq(ctx); err != nil || last != 0 {
		t.Fatalf("empty archive: last=%d err=%v, want 0/nil", last, err)
	}

	for _, seq := range []uint64{1, 2, 5} {
		if err := s.Append(ctx, batch(seq, 1)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	last, err := s.LastSeq(ctx)
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	if last != 5 {
		t.Errorf("last seq = %d, want 5", last)
	}

	// A fresh Store over the same dir sees the same state.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if last, _ := s2.LastSeq(ctx); last != 5 {
		t.Errorf("last seq after reopen = %d, want 5", last)
	}
}

func TestAppendEmptyBatch(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(context.Background(), sink.Batch{Seq: 1}); err != nil {
		t.Errorf("empty batch append: %v", err)
	}
	if last, _ := s.LastSeq(context.Background()); last != 0 {
		t.Errorf("empty batch created a segment: last seq %d", last)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(context.Background(), batch(1, 3)); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("staging file %s left behind", e.Name())
		}
	}
}

func TestParseSeq(t *testing.T) {
	tests := []struct {
		name string
		seq  uint64
		ok   bool
	}{
		{"seg_12_100_200.seg", 12, true},
		{"seg_1_0_0.seg", 1, true},
		{"seg_12_100_200.seg.tmp", 0, false},
		{"other_12_100_200.seg", 0, false},
		{"seg_x_100_200.seg", 0, false},
		{"notes.txt", 0, false},
	}
	for _, tt := range tests {
		seq, ok := parseSeq(tt.name)
		if ok != tt.ok || seq != tt.seq {
			t.Errorf("parseSeq(%q) = %d,%v, want %d,%v", tt.name, seq, ok, tt.seq, tt.ok)
		}
	}
}
