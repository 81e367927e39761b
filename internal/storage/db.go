package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps a database handle with the dialect needed to rebind queries.
// Queries in this package are written with ? placeholders.
type DB struct {
	*sql.DB
	driver string
}

// Open opens the database and creates the engine tables
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection serializes writers instead of surfacing SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{DB: sqlDB, driver: driver}
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.initialize(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info("Database ready", zap.String("driver", driver))
	return db, nil
}

// Driver returns the database driver name
func (db *DB) Driver() string {
	return db.driver
}

// Rebind converts ? placeholders to the driver's positional syntax
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// users, user_roles and metric_events belong to the host application. They are
// created here so a standalone deployment has somewhere to read from.
const schema = `
	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metric_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		metric_query TEXT NOT NULL DEFAULT '',
		evaluation_window_minutes INTEGER NOT NULL DEFAULT 5,
		threshold_type TEXT NOT NULL,
		threshold_value DOUBLE PRECISION NOT NULL,
		threshold_unit TEXT NOT NULL DEFAULT '',
		channels TEXT NOT NULL DEFAULT '[]',
		recipient_user_ids TEXT NOT NULL DEFAULT '[]',
		recipient_emails TEXT NOT NULL DEFAULT '[]',
		recipient_roles TEXT NOT NULL DEFAULT '[]',
		title_template TEXT NOT NULL DEFAULT '',
		message_template TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		severity TEXT NOT NULL DEFAULT 'warning',
		cooldown_minutes INTEGER NOT NULL DEFAULT 0 CHECK (cooldown_minutes >= 0),
		last_triggered_at BIGINT,
		trigger_count BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_rules_is_active ON alert_rules(is_active);

	CREATE TABLE IF NOT EXISTS alert_triggers (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL,
		threshold_value DOUBLE PRECISION NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		state TEXT NOT NULL,
		channels_notified TEXT NOT NULL DEFAULT '[]',
		notified_user_ids TEXT NOT NULL DEFAULT '[]',
		notified_emails TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL,
		acknowledged_at BIGINT,
		acknowledged_by TEXT,
		resolved_at BIGINT,
		expires_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_triggers_rule_id ON alert_triggers(rule_id);
	CREATE INDEX IF NOT EXISTS idx_alert_triggers_state_expires ON alert_triggers(state, expires_at);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		push_token TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role);

	CREATE TABLE IF NOT EXISTS metric_events (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		completed_at BIGINT,
		duration_ms DOUBLE PRECISION
	);
	CREATE INDEX IF NOT EXISTS idx_metric_events_started_at ON metric_events(started_at);
	CREATE INDEX IF NOT EXISTS idx_metric_events_status ON metric_events(status);
`

// Timestamps are stored as unix milliseconds so both dialects compare them the same way.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func encodeList[T any](values []T) (string, error) {
	if values == nil {
		values = []T{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func decodeList[T any](raw string) ([]T, error) {
	var values []T
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return values, nil
}
