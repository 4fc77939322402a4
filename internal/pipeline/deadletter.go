package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loglens/loglens/internal/model"
)

// recentDeadLetters bounds how many entries are kept in memory for the
// inspection endpoint; the file keeps everything.
const recentDeadLetters = 1024

// DeadLetterLog is the append-only record of events that exhausted their
// retries. One JSON object per line so it stays greppable offline.
// Single writer discipline: every append goes through one mutex.
type DeadLetterLog struct {
	mu     sync.Mutex
	file   *os.File
	recent []model.DeadLetterEntry
	count  int64
}

func OpenDeadLetterLog(path string) (*DeadLetterLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter log: %w", err)
	}
	return &DeadLetterLog{file: f}, nil
}

// Append records one exhausted delivery. Write failures are reported but the
// in-memory tail still advances; losing the durable copy must not stall a
// lane.
func (d *DeadLetterLog) Append(eventID string, sinkName model.SinkName, lastErr error, attempts int) error {
	entry := model.DeadLetterEntry{
		EventID:      eventID,
		Sink:         sinkName,
		LastError:    lastErr.Error(),
		AttemptCount: attempts,
		Timestamp:    time.Now().UTC(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.recent = append(d.recent, entry)
	if len(d.recent) > recentDeadLetters {
		d.recent = d.recent[len(d.recent)-recentDeadLetters:]
	}
	atomic.AddInt64(&d.count, 1)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := d.file.Write(data); err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	return d.file.Sync()
}

// Count returns the number of entries appended over the log's lifetime.
func (d *DeadLetterLog) Count() int64 {
	return atomic.LoadInt64(&d.count)
}

// Recent returns up to limit of the newest entries, newest last.
func (d *DeadLetterLog) Recent(limit int) []model.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.recent) {
		limit = len(d.recent)
	}
	out := make([]model.DeadLetterEntry, limit)
	copy(out, d.recent[len(d.recent)-limit:])
	return out
}

func (d *DeadLetterLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
