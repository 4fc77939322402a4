// Package postgres is the GORM-backed hot store adapter. Upserts conflict on
// the event id, which makes redelivery after a lost acknowledgment safe.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

// eventRow is the storage shape of a LogEvent.
type eventRow struct {
	ID             string    `gorm:"primaryKey;column:id"`
	Ts             time.Time `gorm:"column:ts;index:idx_log_events_service_ts,priority:2"`
	Service        string    `gorm:"column:service;index:idx_log_events_service_ts,priority:1"`
	Level          string    `gorm:"column:level"`
	Message        string    `gorm:"column:message"`
	ResponseTimeMs float64   `gorm:"column:response_time_ms"`
	HasLatency     bool      `gorm:"column:has_latency"`
	CommittedAt    time.Time `gorm:"column:committed_at"`
}

func (eventRow) TableName() string { return "log_events" }

type HotStore struct {
	db *gorm.DB
}

// Connect opens and validates the connection pool, then ensures the schema.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*HotStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&eventRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate log_events: %w", err)
	}
	return &HotStore{db: db}, nil
}

// Upsert inserts the event or, on id conflict, leaves the existing row as
// is. Events are immutable, so DoNothing is the whole idempotency story.
func (s *HotStore) Upsert(ctx context.Context, ev model.LogEvent) error {
	row := eventRow{
		ID:             ev.ID,
		Ts:             ev.Timestamp.UTC(),
		Service:        ev.Service,
		Level:          string(ev.Level),
		Message:        ev.Message,
		ResponseTimeMs: ev.ResponseTimeMs,
		HasLatency:     ev.HasLatency,
		CommittedAt:    time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return classify(err)
	}
	return nil
}

// QueryWindow returns events with ts in [start, end), ordered by ts then id.
func (s *HotStore) QueryWindow(ctx context.Context, service string, start, end time.Time) ([]model.LogEvent, error) {
	q := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("ts >= ? AND ts < ?", start.UTC(), end.UTC())
	if service != "" {
		q = q.Where("service = ?", service)
	}
	var rows []eventRow
	if err := q.Order("ts, id").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]model.LogEvent, len(rows))
	for i, r := range rows {
		out[i] = model.LogEvent{
			ID:             r.ID,
			Timestamp:      r.Ts,
			Service:        r.Service,
			Level:          model.Level(r.Level),
			Message:        r.Message,
			ResponseTimeMs: r.ResponseTimeMs,
			HasLatency:     r.HasLatency,
		}
	}
	return out, nil
}

// classify maps driver failures onto the pipeline's taxonomy so retries and
// dead-lettering behave the same across adapters.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", sink.ErrSinkTimeout, err)
	default:
		return fmt.Errorf("%w: %v", sink.ErrSinkUnavailable, err)
	}
}
