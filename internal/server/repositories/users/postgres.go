// Package users provides the PostgreSQL-backed user repository.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

const columns = `id, email, email_verified_at, name, image, plan_id, plan_name, credits, billing_customer_id, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + columns + ` FROM users
		 WHERE id = $1
		 `
	return r.getOne(ctx, query, id)
}

// Upsert creates the user or, when the email exists, moves
// email_verified_at forward only. NULLs are ignored by GREATEST, so a
// previously unverified row simply takes the new timestamp.
func (r *PostgresRepository) Upsert(ctx context.Context, p UpsertParams) (*models.User, error) {
	query :=
		`INSERT INTO users (email, email_verified_at, name, image)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET
		     email_verified_at = GREATEST(users.email_verified_at, EXCLUDED.email_verified_at),
		     name = COALESCE(users.name, EXCLUDED.name),
		     image = COALESCE(users.image, EXCLUDED.image),
		     updated_at = now()
		 RETURNING ` + columns

	var verified any
	if p.VerifiedAt != nil {
		verified = *p.VerifiedAt
	}

	u, err := scan(r.db.QueryRowContext(ctx, query, p.Email, verified, nullString(p.Name), nullString(p.Image)))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) SetBillingCustomerID(ctx context.Context, id, customerID string) error {
	query :=
		`UPDATE users SET billing_customer_id = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, customerID)
}

// ApplyPlan sets the plan and replaces the credit balance.
func (r *PostgresRepository) ApplyPlan(ctx context.Context, id, planID, planName string, credits int) error {
	query :=
		`UPDATE users SET plan_id = $2, plan_name = $3, credits = $4, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, planID, planName, credits)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidText(err) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if dbx.IsInvalidText(err) {
			return common.ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scan(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		verified                                   sql.NullTime
		name, image, planID, planName, customerRef sql.NullString
	)

	err := row.Scan(&u.ID, &u.Email, &verified, &name, &image, &planID, &planName,
		&u.Credits, &customerRef, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	u.Name = name.String
	u.Image = image.String
	u.PlanID = planID.String
	u.PlanName = planName.String
	u.BillingCustomerID = customerRef.String

	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
