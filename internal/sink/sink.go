// Package sink defines the two store contracts the pipeline delivers into
// and the failure taxonomy shared by every adapter.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/loglens/loglens/internal/model"
)

var (
	// ErrSinkUnavailable signals the store cannot be reached at all.
	// Retried with backoff up to the configured ceiling.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrSinkTimeout signals a single attempt exceeded its deadline.
	// Counts as a failed attempt, not a lane-wide abort.
	ErrSinkTimeout = errors.New("sink timeout")
)

// Retryable reports whether an attempt error should go through backoff
// rather than straight to dead-letter. Context deadline errors from the
// per-attempt timeout are folded into ErrSinkTimeout by the caller.
func Retryable(err error) bool {
	return errors.Is(err, ErrSinkUnavailable) || errors.Is(err, ErrSinkTimeout)
}

// HotStore is the low-latency queryable store. Upsert must be idempotent on
// event ID: re-delivery after a lost acknowledgment leaves exactly one row.
type HotStore interface {
	// Upsert persists the event keyed by its ID.
	Upsert(ctx context.Context, ev model.LogEvent) error
	// QueryWindow returns committed events with Timestamp in the half-open
	// interval [start, end), optionally restricted to one service
	// (service == "" means all). Order within a service follows Timestamp.
	QueryWindow(ctx context.Context, service string, start, end time.Time) ([]model.LogEvent, error)
}

// Batch is one ordered cold-store append unit. Seq is assigned by the
// batcher and strictly increases; an archive that has already stored Seq
// treats a replay as a no-op.
type Batch struct {
	Seq    uint64
	Events []model.LogEvent
}

// ColdStore is the append-only archival store. No read path is required by
// the pipeline; adapters may expose one for tooling.
type ColdStore interface {
	// Append durably stores the batch. Appending a Seq that is already
	// present must succeed without duplicating data.
	Append(ctx context.Context, b Batch) error
	// LastSeq returns the highest sequence number already appended, or 0.
	LastSeq(ctx context.Context) (uint64, error)
}
