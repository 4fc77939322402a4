package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/model"
)

func snapshot(id string, start time.Time) model.ReportSnapshot {
	p50 := 100.0
	return model.ReportSnapshot{
		SnapshotID:  id,
		GeneratedAt: time.Now().UTC(),
		Window: model.WindowMetrics{
			WindowStart: start,
			WindowEnd:   start.Add(10 * time.Second),
			Services: map[string]model.ServiceMetrics{
				"auth": {Service: "auth", EventCount: 3, ErrorCount: 1, ErrorRate: 1.0 / 3.0, P50: &p50},
			},
		},
	}
}

func TestPublishAndLatest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := s.Publish(snapshot("snap-1", start)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := s.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.SnapshotID != "snap-1" {
		t.Errorf("latest id = %s, want snap-1", got.SnapshotID)
	}
	m := got.Window.Services["auth"]
	if m.EventCount != 3 || m.P50 == nil || *m.P50 != 100 {
		t.Errorf("auth metrics did not survive the roundtrip: %+v", m)
	}

	// The history copy exists alongside latest.json.
	history := filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", start.UnixNano()))
	if _, err := os.Stat(history); err != nil {
		t.Errorf("history snapshot missing: %v", err)
	}
}

func TestLatestBeforeFirstPublish(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, err := s.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestLatestReplacedWholesale(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := s.Publish(snapshot("snap-1", base)); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := s.Publish(snapshot("snap-2", base.Add(10*time.Second))); err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	got, err := s.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.SnapshotID != "snap-2" {
		t.Errorf("latest id = %s, want snap-2", got.SnapshotID)
	}
	if !got.Window.WindowStart.Equal(base.Add(10 * time.Second)) {
		t.Error("latest carries a stale window")
	}
}

// A reader hammering Latest while the writer publishes must always see one
// complete snapshot, never a torn mix of two.
func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := s.Publish(snapshot("snap-0", base)); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

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
			snap, err := s.Latest()
			if err != nil {
				t.Errorf("latest during publish churn: %v", err)
				return
			}
			// ID and window always belong to the same publish in this test
			// setup; a torn read would break the pairing.
			wantStart := base
			if snap.SnapshotID != "snap-0" {
				var n int
				fmt.Sscanf(snap.SnapshotID, "snap-%d", &n)
				wantStart = base.Add(time.Duration(n) * 10 * time.Second)
			}
			if !snap.Window.WindowStart.Equal(wantStart) {
				t.Errorf("snapshot %s paired with window %v", snap.SnapshotID, snap.Window.WindowStart)
				return
			}
		}
	}()

	for i := 1; i <= 50; i++ {
		if err := s.Publish(snapshot(fmt.Sprintf("snap-%d", i), base.Add(time.Duration(i)*10*time.Second))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}

func TestPurgeExpiredKeepsLatest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour).UTC()
	fresh := time.Now().UTC()
	if err := s.Publish(snapshot("old", old)); err != nil {
		t.Fatalf("publish old: %v", err)
	}
	if err := s.Publish(snapshot("fresh", fresh)); err != nil {
		t.Fatalf("publish fresh: %v", err)
	}

	s.purgeExpired(24 * time.Hour)

	if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", old.UnixNano()))); !os.IsNotExist(err) {
		t.Error("expired history snapshot not purged")
	}
	if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", fresh.UnixNano()))); err != nil {
		t.Errorf("fresh history snapshot purged: %v", err)
	}
	if _, err := s.Latest(); err != nil {
		t.Errorf("latest.json lost to the cleaner: %v", err)
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	snap := snapshot("snap-1", start)
	snap.Window.Services["db"] = model.ServiceMetrics{Service: "db", EventCount: 1}
	if err := s.Publish(snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	window := decoded["window"].(map[string]any)
	services := window["services"].(map[string]any)
	db := services["db"].(map[string]any)
	// No latency samples: percentiles serialize as explicit nulls, not zeros.
	if v, ok := db["p50"]; !ok || v != nil {
		t.Errorf("p50 = %v, want null", v)
	}
}
