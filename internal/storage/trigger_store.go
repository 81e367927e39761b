package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

const triggerColumns = `id, rule_id, metric_value, threshold_value, severity, title, message, state,
	channels_notified, notified_user_ids, notified_emails,
	created_at, acknowledged_at, acknowledged_by, resolved_at, expires_at`

// TriggerStore persists alert triggers and their lifecycle transitions
type TriggerStore struct {
	logger *zap.Logger
	db     *DB
}

// NewTriggerStore creates a trigger store on db
func NewTriggerStore(logger *zap.Logger, db *DB) *TriggerStore {
	return &TriggerStore{
		logger: logger.Named("trigger_store"),
		db:     db,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateTrigger inserts a new trigger
func (s *TriggerStore) CreateTrigger(ctx context.Context, trigger *model.AlertTrigger) error {
	return insertTrigger(ctx, s.db, s.db, trigger)
}

// Fire claims the trigger slot of the rule and stores trigger in one
// transaction. The claim only succeeds for an active rule whose last trigger
// is at least cooldown before trigger.CreatedAt; when it fails nothing is
// written and Fire returns false.
func (s *TriggerStore) Fire(ctx context.Context, trigger *model.AlertTrigger, cooldown time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	claimed, err := claimTrigger(ctx, s.db, tx, trigger.RuleID, trigger.CreatedAt, cooldown)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Debug("Trigger claim lost",
			zap.String("rule_id", trigger.RuleID),
			zap.Time("triggered_at", trigger.CreatedAt))
		return false, nil
	}

	if err := insertTrigger(ctx, s.db, tx, trigger); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit trigger: %w", err)
	}
	return true, nil
}

func insertTrigger(ctx context.Context, db *DB, ex execer, trigger *model.AlertTrigger) error {
	channels, err := encodeList(trigger.ChannelsNotified)
	if err != nil {
		return err
	}
	userIDs, err := encodeList(trigger.NotifiedUserIDs)
	if err != nil {
		return err
	}
	emails, err := encodeList(trigger.NotifiedEmails)
	if err != nil {
		return err
	}

	query := db.Rebind(`INSERT INTO alert_triggers (` + triggerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = ex.ExecContext(ctx, query,
		trigger.ID,
		trigger.RuleID,
		trigger.MetricValue,
		trigger.ThresholdValueSnapshot,
		string(trigger.SeveritySnapshot),
		trigger.TitleSnapshot,
		trigger.MessageSnapshot,
		string(trigger.State),
		channels,
		userIDs,
		emails,
		toMillis(trigger.CreatedAt),
		nullMillis(trigger.AcknowledgedAt),
		sql.NullString{String: trigger.AcknowledgedBy, Valid: trigger.AcknowledgedBy != ""},
		nullMillis(trigger.ResolvedAt),
		toMillis(trigger.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert trigger: %w", err)
	}
	return nil
}

// RecordDelivery writes the notification audit fields of a trigger
func (s *TriggerStore) RecordDelivery(ctx context.Context, triggerID string, summary *model.DeliverySummary) error {
	channels, err := encodeList(summary.ChannelsNotified)
	if err != nil {
		return err
	}
	userIDs, err := encodeList(summary.NotifiedUserIDs)
	if err != nil {
		return err
	}
	emails, err := encodeList(summary.NotifiedEmails)
	if err != nil {
		return err
	}

	query := s.db.Rebind(`UPDATE alert_triggers SET
			channels_notified = ?,
			notified_user_ids = ?,
			notified_emails = ?
		WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, channels, userIDs, emails, triggerID)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// GetTrigger returns the trigger with the given id
func (s *TriggerStore) GetTrigger(ctx context.Context, id string) (*model.AlertTrigger, error) {
	query := s.db.Rebind(`SELECT ` + triggerColumns + ` FROM alert_triggers WHERE id = ?`)

	trigger, err := scanTrigger(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTriggerNotFound
	}
	return trigger, err
}

// ListActive returns unresolved, unexpired triggers, newest first
func (s *TriggerStore) ListActive(ctx context.Context, now time.Time, filter model.TriggerFilter) ([]*model.AlertTrigger, error) {
	conditions := []string{"state <> ?", "expires_at > ?"}
	args := []any{string(model.TriggerStateResolved), toMillis(now)}

	if filter.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}

	query := `SELECT ` + triggerColumns + ` FROM alert_triggers WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*model.AlertTrigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return triggers, nil
}

// Acknowledge marks a trigger acknowledged. Acknowledging twice keeps the first
// acknowledgement; acknowledging a resolved trigger returns model.ErrTriggerResolved.
func (s *TriggerStore) Acknowledge(ctx context.Context, id, by string, at time.Time) (*model.AlertTrigger, error) {
	return s.transition(ctx, id, func(t *model.AlertTrigger) (bool, error) {
		return t.Acknowledge(by, at)
	})
}

// Resolve marks a trigger resolved. Resolving a resolved trigger is a no-op.
func (s *TriggerStore) Resolve(ctx context.Context, id string, at time.Time) (*model.AlertTrigger, error) {
	return s.transition(ctx, id, func(t *model.AlertTrigger) (bool, error) {
		return t.Resolve(at), nil
	})
}

// transition reads, mutates and writes a trigger in one transaction. All reads
// go through tx; SQLite runs with a single connection.
func (s *TriggerStore) transition(ctx context.Context, id string, apply func(*model.AlertTrigger) (bool, error)) (*model.AlertTrigger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + triggerColumns + ` FROM alert_triggers WHERE id = ?`
	if s.db.Driver() == DriverPostgres {
		query += " FOR UPDATE"
	}
	trigger, err := scanTrigger(tx.QueryRowContext(ctx, s.db.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, err
	}

	changed, err := apply(trigger)
	if err != nil {
		return trigger, err
	}
	if !changed {
		return trigger, nil
	}

	update := s.db.Rebind(`UPDATE alert_triggers SET
			state = ?,
			acknowledged_at = ?,
			acknowledged_by = ?,
			resolved_at = ?
		WHERE id = ?`)
	_, err = tx.ExecContext(ctx, update,
		string(trigger.State),
		nullMillis(trigger.AcknowledgedAt),
		sql.NullString{String: trigger.AcknowledgedBy, Valid: trigger.AcknowledgedBy != ""},
		nullMillis(trigger.ResolvedAt),
		trigger.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert trigger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Alert trigger transitioned",
		zap.String("trigger_id", trigger.ID),
		zap.String("state", string(trigger.State)))
	return trigger, nil
}

func scanTrigger(row rowScanner) (*model.AlertTrigger, error) {
	var (
		trigger                   model.AlertTrigger
		severity, state           string
		channels, userIDs, emails string
		createdAt, expiresAt      int64
		acknowledgedAt            sql.NullInt64
		resolvedAt                sql.NullInt64
		acknowledgedBy            sql.NullString
	)

	err := row.Scan(
		&trigger.ID,
		&trigger.RuleID,
		&trigger.MetricValue,
		&trigger.ThresholdValueSnapshot,
		&severity,
		&trigger.TitleSnapshot,
		&trigger.MessageSnapshot,
		&state,
		&channels,
		&userIDs,
		&emails,
		&createdAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert trigger: %w", err)
	}

	trigger.SeveritySnapshot = model.AlertSeverity(severity)
	trigger.State = model.TriggerState(state)
	trigger.CreatedAt = fromMillis(createdAt)
	trigger.ExpiresAt = fromMillis(expiresAt)
	trigger.AcknowledgedAt = timePtr(acknowledgedAt)
	trigger.ResolvedAt = timePtr(resolvedAt)
	if acknowledgedBy.Valid {
		trigger.AcknowledgedBy = acknowledgedBy.String
	}

	if trigger.ChannelsNotified, err = decodeList[model.Channel](channels); err != nil {
		return nil, fmt.Errorf("trigger %s channels: %w", trigger.ID, err)
	}
	if trigger.NotifiedUserIDs, err = decodeList[string](userIDs); err != nil {
		return nil, fmt.Errorf("trigger %s user ids: %w", trigger.ID, err)
	}
	if trigger.NotifiedEmails, err = decodeList[string](emails); err != nil {
		return nil, fmt.Errorf("trigger %s emails: %w", trigger.ID, err)
	}
	return &trigger, nil
}
