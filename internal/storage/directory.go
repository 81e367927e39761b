package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// Directory resolves user ids and roles to contacts from the users tables
type Directory struct {
	logger *zap.Logger
	db     *DB
}

// NewDirectory creates a user directory on db
func NewDirectory(logger *zap.Logger, db *DB) *Directory {
	return &Directory{
		logger: logger.Named("directory"),
		db:     db,
	}
}

// ResolveUsers returns the active users among ids. Unknown ids are skipped.
func (d *Directory) ResolveUsers(ctx context.Context, ids []string) ([]model.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, true)
	for _, id := range ids {
		args = append(args, id)
	}

	query := `SELECT id, name, email, phone, push_token FROM users
		WHERE is_active = ? AND id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return d.query(ctx, query, args...)
}

// ResolveRoles returns the active users holding any of roles
func (d *Directory) ResolveRoles(ctx context.Context, roles []string) ([]model.Contact, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(roles)+1)
	args = append(args, true)
	for _, role := range roles {
		args = append(args, role)
	}

	query := `SELECT DISTINCT u.id, u.name, u.email, u.phone, u.push_token
		FROM users u JOIN user_roles r ON r.user_id = u.id
		WHERE u.is_active = ? AND r.role IN (` + placeholders(len(roles)) + `) ORDER BY u.id`
	return d.query(ctx, query, args...)
}

// SaveUser upserts a user and replaces their roles
func (d *Directory) SaveUser(ctx context.Context, contact model.Contact, roles ...string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := d.db.Rebind(`INSERT INTO users (id, name, email, phone, push_token, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			push_token = excluded.push_token,
			is_active = excluded.is_active`)
	if _, err := tx.ExecContext(ctx, upsert,
		contact.UserID, contact.Name, contact.Email, contact.Phone, contact.PushToken, true); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, d.db.Rebind(`DELETE FROM user_roles WHERE user_id = ?`), contact.UserID); err != nil {
		return fmt.Errorf("failed to clear user roles: %w", err)
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, d.db.Rebind(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`),
			contact.UserID, role); err != nil {
			return fmt.Errorf("failed to save user role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Directory) query(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := d.db.QueryContext(ctx, d.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.UserID, &c.Name, &c.Email, &c.Phone, &c.PushToken); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	d.logger.Debug("Resolved contacts", zap.Int("count", len(contacts)))
	return contacts, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
