package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
	"github.com/t77yq/alertd/internal/storage"
)

const testSecret = "s3cret"

type stubRunner struct {
	mu       sync.Mutex
	calls    int
	summary  model.RunSummary
	deadline time.Time
}

func (r *stubRunner) RunOnce(ctx context.Context) *model.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.deadline, _ = ctx.Deadline()
	summary := r.summary
	return &summary
}

func (r *stubRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*monitor.AlertEvent
}

func (p *capturePublisher) Publish(_ context.Context, event *monitor.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type testEnv struct {
	server    *Server
	runner    *stubRunner
	triggers  *storage.TriggerStore
	publisher *capturePublisher
	now       time.Time
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := storage.Open(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "alertd.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		runner: &stubRunner{summary: model.RunSummary{
			Success:        true,
			RulesEvaluated: 3,
			Triggered:      1,
			Timestamp:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}},
		triggers:  storage.NewTriggerStore(logger, db),
		publisher: &capturePublisher{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.server = NewServer(logger, config.HTTPConfig{}, secret, env.runner, env.triggers, env.publisher)
	env.server.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) seed(t *testing.T, id, ruleID string, severity model.AlertSeverity) {
	t.Helper()
	require.NoError(t, e.triggers.CreateTrigger(context.Background(), &model.AlertTrigger{
		ID:                     id,
		RuleID:                 ruleID,
		MetricValue:            20,
		ThresholdValueSnapshot: 15,
		SeveritySnapshot:       severity,
		TitleSnapshot:          "title",
		MessageSnapshot:        "message",
		State:                  model.TriggerStateActive,
		CreatedAt:              e.now.Add(-time.Minute),
		ExpiresAt:              e.now.Add(time.Hour),
	}))
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEvaluate_RequiresBearerSecret(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodPost, DefaultTriggerPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, DefaultTriggerPath, "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, env.runner.Calls())
}

func TestEvaluate_EmptySecretRejectsEverything(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, DefaultTriggerPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.runner.Calls())
}

func TestEvaluate_ReturnsSummary(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodPost, DefaultTriggerPath, testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.runner.Calls())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 3.0, body["rulesEvaluated"])
	assert.Equal(t, 1.0, body["alertsTriggered"])
	assert.Equal(t, 0.0, body["rulesSkipped"])
	assert.Equal(t, 0.0, body["errors"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["timestamp"])
}

func TestEvaluate_AppliesRunTimeout(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodPost, DefaultTriggerPath, testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.runner.deadline.IsZero())

	env.server.WithRunTimeout(time.Minute)
	started := time.Now()
	rec = env.do(http.MethodPost, DefaultTriggerPath, testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, env.runner.deadline.IsZero())
	assert.WithinDuration(t, started.Add(time.Minute), env.runner.deadline, 5*time.Second)
}

func TestEvaluate_AbortedRunIsServerError(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.runner.summary = model.RunSummary{Success: false, Error: "active rules unavailable: connection refused"}

	rec := env.do(http.MethodPost, DefaultTriggerPath, testSecret, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestTriggerStatus_DoesNotEvaluate(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodGet, DefaultTriggerPath, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Zero(t, env.runner.Calls())
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alertd_http_requests_total")
}

func TestListActive(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.seed(t, "t1", "r1", model.AlertSeverityCritical)
	env.seed(t, "t2", "r2", model.AlertSeverityWarning)

	rec := env.do(http.MethodGet, "/api/alerts/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/alerts/active?severity=critical", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts []*model.AlertTrigger `json:"alerts"`
		Total  int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "t1", body.Alerts[0].ID)

	rec = env.do(http.MethodGet, "/api/alerts/active?limit=abc", testSecret, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTrigger_NotFound(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodGet, "/api/alerts/missing", testSecret, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.seed(t, "t1", "r1", model.AlertSeverityCritical)

	rec := env.do(http.MethodPost, "/api/alerts/t1/acknowledge", testSecret, acknowledgeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/alerts/t1/acknowledge", testSecret, acknowledgeRequest{AcknowledgedBy: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var trigger model.AlertTrigger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trigger))
	assert.Equal(t, model.TriggerStateAcknowledged, trigger.State)
	assert.Equal(t, "alice", trigger.AcknowledgedBy)

	rec = env.do(http.MethodPost, "/api/alerts/t1/resolve", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trigger))
	assert.Equal(t, model.TriggerStateResolved, trigger.State)
	require.NotNil(t, trigger.ResolvedAt)

	rec = env.do(http.MethodPost, "/api/alerts/t1/acknowledge", testSecret, acknowledgeRequest{AcknowledgedBy: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/alerts/missing/resolve", testSecret, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Len(t, env.publisher.events, 2)
	assert.Equal(t, monitor.EventAcknowledged, env.publisher.events[0].Type)
	assert.Equal(t, monitor.EventResolved, env.publisher.events[1].Type)

	// resolved triggers leave the active view
	rec = env.do(http.MethodGet, "/api/alerts/active", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}
