package model

import "time"

// SinkName identifies one of the two delivery targets of an event.
type SinkName string

const (
	SinkHot  SinkName = "hot"
	SinkCold SinkName = "cold"
)

// DeliveryStatus is the per-(event, sink) state machine:
// pending -> retrying -> committed | failed.
// "failed" is terminal and always accompanied by a dead-letter entry.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusCommitted DeliveryStatus = "committed"
	StatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

// DeliveryRecord tracks one event's progress toward both sinks. It is owned
// by the event's lane; the cold batcher updates the cold half through the
// lane-provided completion callback, never directly.
type DeliveryRecord struct {
	EventID      string
	HotStatus    DeliveryStatus
	ColdStatus   DeliveryStatus
	HotAttempts  int
	ColdAttempts int
	NextRetryAt  time.Time
}

// Done reports whether both sinks reached a terminal state, at which point
// the record is dropped from the in-flight set.
func (r *DeliveryRecord) Done() bool {
	return r.HotStatus.Terminal() && r.ColdStatus.Terminal()
}

// DeadLetterEntry is the append-only record written for an event that
// exhausted its retries against one sink.
type DeadLetterEntry struct {
	EventID      string    `json:"event_id"`
	Sink         SinkName  `json:"sink"`
	LastError    string    `json:"last_error"`
	AttemptCount int       `json:"attempt_count"`
	Timestamp    time.Time `json:"timestamp"`
}
