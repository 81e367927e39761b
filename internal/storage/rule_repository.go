package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

const ruleColumns = `id, name, description, metric_kind, entity_id, metric_query,
	evaluation_window_minutes, threshold_type, threshold_value, threshold_unit,
	channels, recipient_user_ids, recipient_emails, recipient_roles,
	title_template, message_template, is_active, severity, cooldown_minutes,
	last_triggered_at, trigger_count, created_at, updated_at`

// RuleRepository reads and seeds alert rules
type RuleRepository struct {
	logger *zap.Logger
	db     *DB
}

// NewRuleRepository creates a rule repository on db
func NewRuleRepository(logger *zap.Logger, db *DB) *RuleRepository {
	return &RuleRepository{
		logger: logger.Named("rule_repository"),
		db:     db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateRule inserts a rule. Rule authoring belongs to the host application;
// this exists for seeding and tests.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *model.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}
	if rule.Severity == "" {
		rule.Severity = model.AlertSeverityWarning
	}

	channels, err := encodeList(rule.Channels)
	if err != nil {
		return err
	}
	userIDs, err := encodeList(rule.RecipientUserIDs)
	if err != nil {
		return err
	}
	emails, err := encodeList(rule.RecipientEmails)
	if err != nil {
		return err
	}
	roles, err := encodeList(rule.RecipientRoles)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`INSERT INTO alert_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, string(rule.MetricKind), rule.EntityID, rule.MetricQuery,
		rule.EvaluationWindowMinutes, string(rule.ThresholdType), rule.ThresholdValue, rule.ThresholdUnit,
		channels, userIDs, emails, roles,
		rule.TitleTemplate, rule.MessageTemplate, rule.IsActive, string(rule.Severity), rule.CooldownMinutes,
		nullMillis(rule.LastTriggeredAt), rule.TriggerCount, toMillis(rule.CreatedAt), toMillis(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert rule: %w", err)
	}
	return nil
}

// ListActiveRules returns every rule with is_active set
func (r *RuleRepository) ListActiveRules(ctx context.Context) ([]*model.AlertRule, error) {
	query := r.db.Rebind(`SELECT ` + ruleColumns + ` FROM alert_rules WHERE is_active = ? ORDER BY created_at, id`)

	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if rule.LoadError != nil {
			r.logger.Warn("Alert rule has undecodable fields",
				zap.String("rule_id", rule.ID),
				zap.Error(rule.LoadError))
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active rules: %w", err)
	}
	return rules, nil
}

// GetRule returns the rule with the given id
func (r *RuleRepository) GetRule(ctx context.Context, id string) (*model.AlertRule, error) {
	query := r.db.Rebind(`SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = ?`)

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// claimTrigger sets last_triggered_at and increments trigger_count of an
// active rule, but only if no writer has recorded a trigger inside cooldown.
// It reports whether the row was updated.
func claimTrigger(ctx context.Context, db *DB, ex execer, ruleID string, triggeredAt time.Time, cooldown time.Duration) (bool, error) {
	bound := triggeredAt.Add(-cooldown)
	query := db.Rebind(`UPDATE alert_rules
		SET last_triggered_at = ?, trigger_count = trigger_count + 1, updated_at = ?
		WHERE id = ? AND is_active = ? AND (last_triggered_at IS NULL OR last_triggered_at <= ?)`)

	result, err := ex.ExecContext(ctx, query,
		toMillis(triggeredAt), toMillis(triggeredAt), ruleID, true, toMillis(bound))
	if err != nil {
		return false, fmt.Errorf("failed to update rule bookkeeping: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func scanRule(row rowScanner) (*model.AlertRule, error) {
	var (
		rule                             model.AlertRule
		metricKind, thresholdType        string
		severity                         string
		channels, userIDs, emails, roles string
		lastTriggered                    sql.NullInt64
		createdAt, updatedAt             int64
	)

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &metricKind, &rule.EntityID, &rule.MetricQuery,
		&rule.EvaluationWindowMinutes, &thresholdType, &rule.ThresholdValue, &rule.ThresholdUnit,
		&channels, &userIDs, &emails, &roles,
		&rule.TitleTemplate, &rule.MessageTemplate, &rule.IsActive, &severity, &rule.CooldownMinutes,
		&lastTriggered, &rule.TriggerCount, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert rule: %w", err)
	}

	rule.MetricKind = model.MetricKind(metricKind)
	rule.ThresholdType = model.ThresholdType(thresholdType)
	rule.Severity = model.AlertSeverity(severity)
	rule.LastTriggeredAt = timePtr(lastTriggered)
	rule.CreatedAt = fromMillis(createdAt)
	rule.UpdatedAt = fromMillis(updatedAt)

	// A corrupt list column disables the rule, not the whole listing
	if rule.Channels, err = decodeList[model.Channel](channels); err != nil {
		rule.LoadError = fmt.Errorf("rule %s channels: %w", rule.ID, err)
	}
	if rule.RecipientUserIDs, err = decodeList[string](userIDs); err != nil && rule.LoadError == nil {
		rule.LoadError = fmt.Errorf("rule %s recipient user ids: %w", rule.ID, err)
	}
	if rule.RecipientEmails, err = decodeList[string](emails); err != nil && rule.LoadError == nil {
		rule.LoadError = fmt.Errorf("rule %s recipient emails: %w", rule.ID, err)
	}
	if rule.RecipientRoles, err = decodeList[string](roles); err != nil && rule.LoadError == nil {
		rule.LoadError = fmt.Errorf("rule %s recipient roles: %w", rule.ID, err)
	}
	return &rule, nil
}
