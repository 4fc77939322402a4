// Package report persists aggregation snapshots and serves the latest one.
// Publishing is write-then-swap: a reader either sees the previous snapshot
// or the new one, never a mix.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/model"
)

// ErrSnapshotWrite wraps any failure to stage or swap a snapshot. The
// aggregation engine aborts only the failing cycle on it.
var ErrSnapshotWrite = errors.New("snapshot write failure")

// ErrNoSnapshot is returned by Latest before the first publish.
var ErrNoSnapshot = errors.New("no snapshot published yet")

// Sink is where the aggregation engine publishes and the dashboard reads.
type Sink interface {
	Publish(snap model.ReportSnapshot) error
	Latest() (model.ReportSnapshot, error)
}

const latestFile = "latest.json"

// FileSink keeps one timestamped file per snapshot plus a latest.json that
// is replaced by atomic rename. Single writer; the engine is the only
// publisher.
type FileSink struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Publish stages the snapshot to a temp file and renames it into place, for
// the history file and then for latest.json. Readers of latest.json never
// observe a partial write.
func (s *FileSink) Publish(snap model.ReportSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSnapshotWrite, err)
	}

	history := filepath.Join(s.dir, fmt.Sprintf("snapshot_%d.json", snap.Window.WindowStart.UnixNano()))
	if err := writeAtomic(history, data); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := writeAtomic(filepath.Join(s.dir, latestFile), data); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	return nil
}

// Latest returns the most recently published snapshot.
func (s *FileSink) Latest() (model.ReportSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.ReportSnapshot{}, ErrNoSnapshot
		}
		return model.ReportSnapshot{}, err
	}
	var snap model.ReportSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.ReportSnapshot{}, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return snap, nil
}

// RunCleaner deletes history snapshots older than retention on the given
// interval, until ctx is cancelled. latest.json is never touched.
func (s *FileSink) RunCleaner(done <-chan struct{}, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.purgeExpired(retention)
		}
	}
}

func (s *FileSink) purgeExpired(retention time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("report cleaner: read dir failed", "error", err)
		return
	}
	threshold := time.Now().Add(-retention).UnixNano()
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".json")
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		if ts < threshold {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				s.logger.Warn("report cleaner: delete failed", "file", name, "error", err)
			}
		}
	}
}

// writeAtomic writes to path.tmp then renames over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
