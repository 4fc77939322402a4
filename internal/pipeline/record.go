package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/loglens/loglens/internal/model"
)

// tracked wraps a DeliveryRecord with the small amount of synchronization
// the dual-sink split needs: the lane drives the hot half, the batcher the
// cold half, and whichever side finishes second releases the record.
type tracked struct {
	mu  sync.Mutex
	rec model.DeliveryRecord
	p   *Pipeline
}

// newTracked assumes the caller already reserved an in-flight slot; the
// record's release pairs with that reservation.
func (p *Pipeline) newTracked(eventID string) *tracked {
	return &tracked{
		rec: model.DeliveryRecord{
			EventID:    eventID,
			HotStatus:  model.StatusPending,
			ColdStatus: model.StatusPending,
		},
		p: p,
	}
}

func (t *tracked) hotRetrying(attempts int) {
	t.mu.Lock()
	t.rec.HotStatus = model.StatusRetrying
	t.rec.HotAttempts = attempts
	t.mu.Unlock()
}

func (t *tracked) hotDone(status model.DeliveryStatus, attempts int) {
	t.mu.Lock()
	t.rec.HotStatus = status
	t.rec.HotAttempts = attempts
	done := t.rec.Done()
	t.mu.Unlock()
	if done {
		t.release()
	}
}

func (t *tracked) coldRetrying(attempts int) {
	t.mu.Lock()
	t.rec.ColdStatus = model.StatusRetrying
	t.rec.ColdAttempts = attempts
	t.mu.Unlock()
}

func (t *tracked) coldDone(status model.DeliveryStatus, attempts int) {
	t.mu.Lock()
	t.rec.ColdStatus = status
	t.rec.ColdAttempts = attempts
	done := t.rec.Done()
	t.mu.Unlock()
	if done {
		t.release()
	}
}

// release drops the record from the in-flight count. The record itself is
// garbage from here on; nothing holds a registry of finished deliveries.
func (t *tracked) release() {
	atomic.AddInt64(&t.p.inFlight, -1)
}
