// Package sessions provides a PostgreSQL-backed repository for server-side
// session rows referenced by signed session tokens.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements session storage over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create inserts a session for userID that expires at now+validity. The id
// is generated here so it can be embedded in the token before commit.
func (r *PostgresRepository) Create(ctx context.Context, userID string, validity time.Duration) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	now := r.now().UTC()
	s := &models.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		ExpiresAt:  now.Add(validity),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.ExpiresAt, now); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Find returns the session row or common.ErrNotFound.
func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, user_id, expires_at, created_at, last_seen_at
		FROM sessions
		WHERE id = $1
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidText(err) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Extend moves the expiry forward and records activity.
func (r *PostgresRepository) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET expires_at = $2, last_seen_at = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, expiresAt, r.now().UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM sessions
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		if dbx.IsInvalidText(err) {
			return nil
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions whose expiry is at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
