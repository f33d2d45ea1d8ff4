// Package payments stores the append-only payment audit trail.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ExistsByRef(ctx context.Context, externalRef string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM payments WHERE external_payment_ref = $1)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, externalRef).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (user_id, plan_id, amount_cents, currency, payment_method, status, external_payment_ref, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_payment_ref) DO NOTHING
		RETURNING id
	`
	method := sql.NullString{String: p.PaymentMethod, Valid: p.PaymentMethod != ""}
	err := r.db.QueryRowContext(ctx, query,
		p.UserID, p.PlanID, p.AmountCents, p.Currency, method, p.Status, p.ExternalPaymentRef, p.PaymentDate).Scan(&p.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}
