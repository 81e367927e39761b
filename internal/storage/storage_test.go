package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "alertd.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRule(id string) *model.AlertRule {
	return &model.AlertRule{
		ID:                      id,
		Name:                    "High failure rate " + id,
		MetricKind:              model.MetricFailureRate,
		EvaluationWindowMinutes: 60,
		ThresholdType:           model.ThresholdAbove,
		ThresholdValue:          15,
		ThresholdUnit:           "%",
		Channels:                []model.Channel{model.ChannelEmail, model.ChannelInApp},
		RecipientUserIDs:        []string{"u1"},
		RecipientEmails:         []string{"oncall@example.com"},
		RecipientRoles:          []string{"admin"},
		IsActive:                true,
		Severity:                model.AlertSeverityCritical,
		CooldownMinutes:         30,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestDB_Rebind(t *testing.T) {
	query := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"

	sqlite := &DB{driver: DriverSQLite}
	assert.Equal(t, query, sqlite.Rebind(query))

	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.Rebind(query))
}

func TestRuleRepository_ListAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository(zaptest.NewLogger(t), newTestDB(t))

	active := testRule("rule-active")
	inactive := testRule("rule-inactive")
	inactive.IsActive = false
	require.NoError(t, repo.CreateRule(ctx, active))
	require.NoError(t, repo.CreateRule(ctx, inactive))

	rules, err := repo.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	got := rules[0]
	assert.Equal(t, "rule-active", got.ID)
	assert.Equal(t, model.MetricFailureRate, got.MetricKind)
	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelInApp}, got.Channels)
	assert.Equal(t, []string{"admin"}, got.RecipientRoles)
	assert.Equal(t, 15.0, got.ThresholdValue)
	assert.Nil(t, got.LastTriggeredAt)

	_, err = repo.GetRule(ctx, "missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)

	got, err = repo.GetRule(ctx, "rule-inactive")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestRuleRepository_CreateRejectsInvalidRule(t *testing.T) {
	repo := NewRuleRepository(zaptest.NewLogger(t), newTestDB(t))
	rule := testRule("bad")
	rule.ThresholdType = "between"
	assert.Error(t, repo.CreateRule(context.Background(), rule))
}

func TestRuleRepository_ListFlagsUndecodableRule(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRuleRepository(zaptest.NewLogger(t), db)
	require.NoError(t, repo.CreateRule(ctx, testRule("rule-good")))
	require.NoError(t, repo.CreateRule(ctx, testRule("rule-corrupt")))

	_, err := db.ExecContext(ctx, `UPDATE alert_rules SET channels = '{not json' WHERE id = 'rule-corrupt'`)
	require.NoError(t, err)

	rules, err := repo.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	byID := map[string]*model.AlertRule{}
	for _, rule := range rules {
		byID[rule.ID] = rule
	}
	assert.NoError(t, byID["rule-good"].Validate())
	assert.Error(t, byID["rule-corrupt"].LoadError)
	assert.ErrorIs(t, byID["rule-corrupt"].Validate(), byID["rule-corrupt"].LoadError)
}

func TestTriggerStore_Fire(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rules := NewRuleRepository(zaptest.NewLogger(t), db)
	store := NewTriggerStore(zaptest.NewLogger(t), db)
	require.NoError(t, rules.CreateRule(ctx, testRule("rule-1")))

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cooldown := 30 * time.Minute

	fired, err := store.Fire(ctx, newStoredTrigger("t1", "rule-1", model.AlertSeverityCritical, now), cooldown)
	require.NoError(t, err)
	assert.True(t, fired)

	// A second writer inside the cooldown loses and stores nothing
	fired, err = store.Fire(ctx, newStoredTrigger("t2", "rule-1", model.AlertSeverityCritical, now.Add(10*time.Minute)), cooldown)
	require.NoError(t, err)
	assert.False(t, fired)
	_, err = store.GetTrigger(ctx, "t2")
	assert.ErrorIs(t, err, ErrTriggerNotFound)

	fired, err = store.Fire(ctx, newStoredTrigger("t3", "rule-1", model.AlertSeverityCritical, now.Add(30*time.Minute)), cooldown)
	require.NoError(t, err)
	assert.True(t, fired)

	rule, err := rules.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.TriggerCount)
	require.NotNil(t, rule.LastTriggeredAt)
	assert.True(t, now.Add(30*time.Minute).Equal(*rule.LastTriggeredAt))

	active, err := store.ListActive(ctx, now.Add(31*time.Minute), model.TriggerFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	fired, err = store.Fire(ctx, newStoredTrigger("t4", "missing", model.AlertSeverityCritical, now), cooldown)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestTriggerStore_FireSkipsInactiveRule(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rules := NewRuleRepository(zaptest.NewLogger(t), db)
	store := NewTriggerStore(zaptest.NewLogger(t), db)

	rule := testRule("rule-off")
	rule.IsActive = false
	require.NoError(t, rules.CreateRule(ctx, rule))

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	fired, err := store.Fire(ctx, newStoredTrigger("t1", "rule-off", model.AlertSeverityCritical, now), time.Minute)
	require.NoError(t, err)
	assert.False(t, fired)

	got, err := rules.GetRule(ctx, "rule-off")
	require.NoError(t, err)
	assert.Zero(t, got.TriggerCount)
}

func newStoredTrigger(id, ruleID string, severity model.AlertSeverity, created time.Time) *model.AlertTrigger {
	return &model.AlertTrigger{
		ID:                     id,
		RuleID:                 ruleID,
		MetricValue:            20,
		ThresholdValueSnapshot: 15,
		SeveritySnapshot:       severity,
		TitleSnapshot:          "Alert: " + ruleID,
		MessageSnapshot:        "failure_rate is 20 (threshold 15)",
		State:                  model.TriggerStateActive,
		CreatedAt:              created,
		ExpiresAt:              created.Add(model.DefaultTriggerTTL),
	}
}

func TestTriggerStore_CreateGetAndRecordDelivery(t *testing.T) {
	ctx := context.Background()
	store := NewTriggerStore(zaptest.NewLogger(t), newTestDB(t))
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("t1", "rule-1", model.AlertSeverityWarning, now)))

	got, err := store.GetTrigger(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TriggerStateActive, got.State)
	assert.Equal(t, 20.0, got.MetricValue)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Empty(t, got.ChannelsNotified)

	summary := &model.DeliverySummary{
		ChannelsNotified: []model.Channel{model.ChannelEmail},
		NotifiedUserIDs:  []string{"u1"},
		NotifiedEmails:   []string{"a@x.com", "b@x.com"},
	}
	require.NoError(t, store.RecordDelivery(ctx, "t1", summary))

	got, err = store.GetTrigger(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{model.ChannelEmail}, got.ChannelsNotified)
	assert.Equal(t, []string{"u1"}, got.NotifiedUserIDs)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, got.NotifiedEmails)

	_, err = store.GetTrigger(ctx, "missing")
	assert.ErrorIs(t, err, ErrTriggerNotFound)
	assert.ErrorIs(t, store.RecordDelivery(ctx, "missing", summary), ErrTriggerNotFound)
}

func TestTriggerStore_Transitions(t *testing.T) {
	ctx := context.Background()
	store := NewTriggerStore(zaptest.NewLogger(t), newTestDB(t))
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("t1", "rule-1", model.AlertSeverityWarning, now)))

	acked, err := store.Acknowledge(ctx, "t1", "ops", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.TriggerStateAcknowledged, acked.State)

	again, err := store.Acknowledge(ctx, "t1", "someone-else", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ops", again.AcknowledgedBy)

	resolved, err := store.Resolve(ctx, "t1", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.TriggerStateResolved, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = store.Resolve(ctx, "t1", now.Add(4*time.Minute))
	require.NoError(t, err)

	_, err = store.Acknowledge(ctx, "t1", "ops", now.Add(5*time.Minute))
	assert.ErrorIs(t, err, model.ErrTriggerResolved)

	stored, err := store.GetTrigger(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TriggerStateResolved, stored.State)
	assert.True(t, now.Add(3*time.Minute).Equal(*stored.ResolvedAt))
	assert.Equal(t, "ops", stored.AcknowledgedBy)

	_, err = store.Acknowledge(ctx, "missing", "ops", now)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestTriggerStore_ListActive(t *testing.T) {
	ctx := context.Background()
	store := NewTriggerStore(zaptest.NewLogger(t), newTestDB(t))
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("old", "rule-1", model.AlertSeverityWarning, now.Add(-25*time.Hour))))
	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("a", "rule-1", model.AlertSeverityWarning, now.Add(-2*time.Hour))))
	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("b", "rule-2", model.AlertSeverityCritical, now.Add(-time.Hour))))
	require.NoError(t, store.CreateTrigger(ctx, newStoredTrigger("c", "rule-2", model.AlertSeverityCritical, now.Add(-30*time.Minute))))
	_, err := store.Resolve(ctx, "c", now)
	require.NoError(t, err)

	triggers, err := store.ListActive(ctx, now, model.TriggerFilter{})
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "b", triggers[0].ID)
	assert.Equal(t, "a", triggers[1].ID)

	triggers, err = store.ListActive(ctx, now, model.TriggerFilter{RuleID: "rule-1"})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "a", triggers[0].ID)

	triggers, err = store.ListActive(ctx, now, model.TriggerFilter{Severity: model.AlertSeverityCritical})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "b", triggers[0].ID)

	triggers, err = store.ListActive(ctx, now, model.TriggerFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, triggers, 1)
}

func TestDirectory_Resolve(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	dir := NewDirectory(zaptest.NewLogger(t), db)

	require.NoError(t, dir.SaveUser(ctx, model.Contact{UserID: "u1", Name: "Ada", Email: "ada@example.com"}, "admin"))
	require.NoError(t, dir.SaveUser(ctx, model.Contact{UserID: "u2", Name: "Bob", Email: "bob@example.com", Phone: "+100"}, "admin", "ops"))
	require.NoError(t, dir.SaveUser(ctx, model.Contact{UserID: "u3", Name: "Eve", Email: "eve@example.com"}, "ops"))
	_, err := db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, false, "u3")
	require.NoError(t, err)

	users, err := dir.ResolveUsers(ctx, []string{"u1", "u3", "unknown"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ada@example.com", users[0].Email)

	members, err := dir.ResolveRoles(ctx, []string{"admin", "ops"})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].UserID)
	assert.Equal(t, "u2", members[1].UserID)
	assert.Equal(t, "+100", members[1].Phone)

	none, err := dir.ResolveRoles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventStore_Aggregates(t *testing.T) {
	ctx := context.Background()
	events := NewEventStore(zaptest.NewLogger(t), newTestDB(t))
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)

	_, ok, err := events.AverageDuration(ctx, from, now, "")
	require.NoError(t, err)
	assert.False(t, ok)

	record := func(id, entity string, status EventStatus, started time.Time, duration float64) {
		e := &MetricEvent{ID: id, EntityID: entity, Status: status, StartedAt: started}
		if status == EventCompleted {
			e.DurationMs = &duration
		}
		require.NoError(t, events.RecordEvent(ctx, e))
	}
	record("e1", "wf-1", EventCompleted, now.Add(-10*time.Minute), 100)
	record("e2", "wf-1", EventCompleted, now.Add(-20*time.Minute), 300)
	record("e3", "wf-2", EventFailed, now.Add(-5*time.Minute), 0)
	record("e4", "wf-1", EventCompleted, now.Add(-2*time.Hour), 5000)
	record("e5", "wf-1", EventRunning, now.Add(-time.Minute), 0)
	record("e6", "wf-2", EventPending, now, 0)

	avg, ok, err := events.AverageDuration(ctx, from, now, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 200.0, avg, 0.001)

	total, failed, err := events.CountOutcomes(ctx, from, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(1), failed)

	total, failed, err = events.CountOutcomes(ctx, from, now, "wf-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), failed)

	inFlight, err := events.CountInFlight(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inFlight)
}
