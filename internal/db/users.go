package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matthewgall/binder/internal/models"
)

var ErrUserExists = errors.New("user already exists")

const userColumns = "id, email, display_name, password_hash, disabled_at, created_at"

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserByEmail returns sql.ErrNoRows when no account matches.
func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?",
		NormalizeEmail(email),
	)
	return scanUser(row)
}

func (db *DB) UserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (db *DB) CreateUser(ctx context.Context, email, displayName, passwordHash string) (int64, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return 0, fmt.Errorf("email is required")
	}

	var existing int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", email).Scan(&existing)
	if err == nil {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("checking existing user: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (email, display_name, password_hash) VALUES (?, ?, ?)",
		email, strings.TrimSpace(displayName), passwordHash,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return result.LastInsertId()
}

func (db *DB) DisableUser(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE users SET disabled_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var disabledAt sql.NullTime
	var createdAt sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &disabledAt, &createdAt); err != nil {
		return nil, err
	}
	if disabledAt.Valid {
		value := disabledAt.Time
		user.DisabledAt = &value
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	} else {
		user.CreatedAt = time.Time{}
	}
	return &user, nil
}
