// Package subscriptions stores entitlement windows granted by payments.
package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, plan_id, start_date, end_date, credits_remaining, is_active, external_subscription_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	ref := sql.NullString{String: s.ExternalSubscriptionRef, Valid: s.ExternalSubscriptionRef != ""}
	err := r.db.QueryRowContext(ctx, query,
		s.UserID, s.PlanID, s.StartDate, s.EndDate, s.CreditsRemaining, s.IsActive, ref).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Subscription, error) {
	query := `
		SELECT id, user_id, plan_id, start_date, end_date, credits_remaining, is_active, external_subscription_ref
		FROM subscriptions
		WHERE user_id = $1 AND is_active AND end_date > $2
		ORDER BY end_date DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		s := &models.Subscription{}
		var ref sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &s.PlanID, &s.StartDate, &s.EndDate, &s.CreditsRemaining, &s.IsActive, &ref); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.ExternalSubscriptionRef = ref.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
