package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EventStatus is the status of a recorded metric event
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventRunning   EventStatus = "running"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// MetricEvent is one unit of work observed by the host application
type MetricEvent struct {
	ID          string
	EntityID    string
	Status      EventStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMs  *float64
}

// EventStore reads and records rows of the metric_events table
type EventStore struct {
	logger *zap.Logger
	db     *DB
}

// NewEventStore creates an event store on db
func NewEventStore(logger *zap.Logger, db *DB) *EventStore {
	return &EventStore{
		logger: logger.Named("event_store"),
		db:     db,
	}
}

// RecordEvent inserts or replaces an event
func (s *EventStore) RecordEvent(ctx context.Context, event *MetricEvent) error {
	var duration sql.NullFloat64
	if event.DurationMs != nil {
		duration = sql.NullFloat64{Float64: *event.DurationMs, Valid: true}
	}

	query := s.db.Rebind(`INSERT INTO metric_events (id, entity_id, status, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms`)

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EntityID,
		string(event.Status),
		toMillis(event.StartedAt),
		nullMillis(event.CompletedAt),
		duration,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric event: %w", err)
	}
	return nil
}

// AverageDuration returns the mean duration_ms of completed events started in
// [from, to]. ok is false when there were no such events.
func (s *EventStore) AverageDuration(ctx context.Context, from, to time.Time, entityID string) (avg float64, ok bool, err error) {
	query := `SELECT AVG(duration_ms) FROM metric_events
		WHERE status = ? AND started_at >= ? AND started_at <= ? AND duration_ms IS NOT NULL`
	args := []any{string(EventCompleted), toMillis(from), toMillis(to)}
	query, args = scopeEntity(query, args, entityID)

	var result sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&result); err != nil {
		return 0, false, fmt.Errorf("failed to query average duration: %w", err)
	}
	return result.Float64, result.Valid, nil
}

// CountOutcomes returns the number of events started in [from, to] and how
// many of them failed.
func (s *EventStore) CountOutcomes(ctx context.Context, from, to time.Time, entityID string) (total, failed int64, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM metric_events WHERE started_at >= ? AND started_at <= ?`
	args := []any{string(EventFailed), toMillis(from), toMillis(to)}
	query, args = scopeEntity(query, args, entityID)

	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("failed to count event outcomes: %w", err)
	}
	return total, failed, nil
}

// CountInFlight returns the number of pending or running events
func (s *EventStore) CountInFlight(ctx context.Context, entityID string) (int64, error) {
	query := `SELECT COUNT(*) FROM metric_events WHERE status IN (?, ?)`
	args := []any{string(EventPending), string(EventRunning)}
	query, args = scopeEntity(query, args, entityID)

	var count int64
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count in-flight events: %w", err)
	}
	return count, nil
}

func scopeEntity(query string, args []any, entityID string) (string, []any) {
	if entityID == "" {
		return query, args
	}
	return query + " AND entity_id = ?", append(args, entityID)
}
