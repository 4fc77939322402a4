package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a LogEvent. The set is closed; anything else is
// rejected at submission.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel normalizes a level string, accepting the common WARNING alias.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "CRITICAL":
		return LevelCritical, true
	default:
		return "", false
	}
}

// IsError reports whether the level counts toward a window's error rate.
func (l Level) IsError() bool {
	return l == LevelError || l == LevelCritical
}

// ErrInvalidEvent is returned synchronously from Submit for events missing
// required fields. The caller owns the failure; invalid events never enter a
// delivery lane.
var ErrInvalidEvent = errors.New("invalid event")

// LogEvent is a single application log record. Immutable once created; ID is
// the idempotency key for hot-store upserts and deduplication everywhere.
type LogEvent struct {
	ID             string    `json:"id" gorm:"primaryKey;column:id"`
	Timestamp      time.Time `json:"timestamp" gorm:"column:ts;index:idx_events_service_ts,priority:2"`
	Service        string    `json:"service" gorm:"column:service;index:idx_events_service_ts,priority:1"`
	Level          Level     `json:"level" gorm:"column:level"`
	Message        string    `json:"message" gorm:"column:message"`
	ResponseTimeMs float64   `json:"response_time_ms" gorm:"column:response_time_ms"`
	// HasLatency marks events that carry a meaningful latency sample.
	// Only those contribute to window percentiles.
	HasLatency bool `json:"has_latency,omitempty" gorm:"column:has_latency"`
}

// Validate checks required fields. It wraps ErrInvalidEvent so callers can
// errors.Is against the sentinel while still seeing the field at fault.
func (e *LogEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Service == "" {
		return fmt.Errorf("%w: missing service", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	if _, ok := ParseLevel(string(e.Level)); !ok {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEvent, e.Level)
	}
	if e.ResponseTimeMs < 0 {
		return fmt.Errorf("%w: negative response_time_ms", ErrInvalidEvent)
	}
	return nil
}
