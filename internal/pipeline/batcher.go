package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

type coldItem struct {
	ev model.LogEvent
	t  *tracked
}

// batcher collects cold-store appends and flushes them on a size threshold
// or a timer, whichever fires first. Batches carry a strictly increasing
// sequence number so a replayed append is a detectable no-op at the store.
type batcher struct {
	p       *Pipeline
	in      chan coldItem
	done    chan struct{}
	nextSeq uint64
}

func newBatcher(p *Pipeline) *batcher {
	return &batcher{
		p: p,
		// Capacity matches the pipeline's in-flight bound, so a lane's send
		// always has room even while a flush sits in retry backoff.
		in:   make(chan coldItem, p.opts.QueueCapacity),
		done: make(chan struct{}),
	}
}

func (b *batcher) run() {
	defer close(b.done)

	// Resume the sequence from whatever the archive already holds.
	if last, err := b.p.cold.LastSeq(context.Background()); err == nil {
		b.nextSeq = last + 1
	} else {
		b.nextSeq = 1
		b.p.logger.Warn("cold store sequence unavailable, starting at 1",
			"operation", "batch_seq_resume", "error", err)
	}

	ticker := time.NewTicker(b.p.opts.BatchInterval)
	defer ticker.Stop()

	pending := make([]coldItem, 0, b.p.opts.BatchSize)
	for {
		select {
		case it, ok := <-b.in:
			if !ok {
				b.flush(pending)
				return
			}
			pending = append(pending, it)
			if len(pending) >= b.p.opts.BatchSize {
				b.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				b.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

// flush appends one batch, retrying the whole batch with backoff. On
// exhaustion every event in the batch is dead-lettered for the cold sink;
// the hot halves of those deliveries are unaffected.
func (b *batcher) flush(pending []coldItem) {
	if len(pending) == 0 {
		return
	}
	seq := b.nextSeq
	b.nextSeq++

	batch := sink.Batch{Seq: seq, Events: make([]model.LogEvent, len(pending))}
	for i, it := range pending {
		batch.Events[i] = it.ev
	}

	var lastErr error
	attempts := 0
	forced := false
	maxRetries := b.p.opts.MaxRetries
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attempts = attempt
		ctx, cancel := context.WithTimeout(context.Background(), b.p.opts.AttemptTimeout)
		err := b.p.cold.Append(ctx, batch)
		cancel()
		if err == nil {
			for _, it := range pending {
				it.t.coldDone(model.StatusCommitted, attempt)
			}
			atomic.AddInt64(&b.p.stats.coldCommitted, int64(len(pending)))
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: append batch %d", sink.ErrSinkTimeout, seq)
		}
		lastErr = err
		if !sink.Retryable(err) {
			break
		}
		for _, it := range pending {
			it.t.coldRetrying(attempt)
		}
		b.p.logger.Warn("cold batch append failed, retry scheduled",
			"operation", "cold_append",
			"batch_seq", seq,
			"batch_size", len(pending),
			"attempt", attempt,
			"error", err)
		if attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt, b.p.opts.BackoffBase, b.p.opts.BackoffCap)):
		case <-b.p.forced:
			forced = true
		}
		if forced {
			break
		}
	}
	if forced {
		lastErr = fmt.Errorf("%w (last: %v)", errDrainForced, lastErr)
	}

	b.p.logger.Error("cold batch exhausted retries, dead-lettering",
		"operation", "cold_append",
		"batch_seq", seq,
		"batch_size", len(pending),
		"error", lastErr)
	for _, it := range pending {
		_ = b.p.dlq.Append(it.ev.ID, model.SinkCold, lastErr, attempts)
		it.t.coldDone(model.StatusFailed, attempts)
	}
	atomic.AddInt64(&b.p.stats.coldFailed, int64(len(pending)))
}
