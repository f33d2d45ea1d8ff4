package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
)

// PaymentCompleted is a verified, completed payment for a plan.
type PaymentCompleted struct {
	UserID                  string
	PlanID                  string
	AmountCents             int64
	Currency                string
	PaymentMethod           string
	ExternalPaymentRef      string
	ExternalSubscriptionRef string
}

// EntitlementService turns completed payments into plan entitlements.
type EntitlementService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewEntitlementService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *EntitlementService {
	return &EntitlementService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "entitlements"),
		now:         time.Now,
	}
}

// ApplyCompletedPayment records the payment, opens a subscription and sets
// the user's plan and credits, all in one transaction. A payment reference
// seen before is a successful no-op and reports applied=false.
func (s *EntitlementService) ApplyCompletedPayment(ctx context.Context, p PaymentCompleted) (applied bool, err error) {
	if p.ExternalPaymentRef == "" || p.UserID == "" || p.PlanID == "" {
		return false, common.ErrMalformedEvent
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		payments := s.repomanager.Payments(tx)

		exists, err := payments.ExistsByRef(ctx, p.ExternalPaymentRef)
		if err != nil {
			return fmt.Errorf("error searching payment: %w", err)
		}
		if exists {
			return common.ErrAlreadyApplied
		}

		plan, err := s.repomanager.Plans(tx).GetActive(ctx, p.PlanID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrPlanNotFound
			}
			return fmt.Errorf("error loading plan: %w", err)
		}

		now := s.now().UTC()
		currency := p.Currency
		if currency == "" {
			currency = plan.Currency
		}
		method := p.PaymentMethod
		if method == "" {
			method = "card"
		}

		inserted, err := payments.Create(ctx, &models.Payment{
			UserID:             p.UserID,
			PlanID:             plan.ID,
			AmountCents:        p.AmountCents,
			Currency:           currency,
			PaymentMethod:      method,
			Status:             models.PaymentStatusCompleted,
			ExternalPaymentRef: p.ExternalPaymentRef,
			PaymentDate:        now,
		})
		if err != nil {
			if dbx.IsForeignKeyViolation(err) || dbx.IsInvalidText(err) {
				return common.ErrUserNotFound
			}
			return fmt.Errorf("error creating payment: %w", err)
		}
		if !inserted {
			return common.ErrAlreadyApplied
		}

		if err := s.repomanager.Subscriptions(tx).Create(ctx, &models.Subscription{
			UserID:                  p.UserID,
			PlanID:                  plan.ID,
			StartDate:               now,
			EndDate:                 now.AddDate(0, 0, plan.DurationDays),
			CreditsRemaining:        plan.Credits,
			IsActive:                true,
			ExternalSubscriptionRef: p.ExternalSubscriptionRef,
		}); err != nil {
			return fmt.Errorf("error creating subscription: %w", err)
		}

		if err := s.repomanager.Users(tx).ApplyPlan(ctx, p.UserID, plan.ID, plan.Name, plan.Credits); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrUserNotFound
			}
			return fmt.Errorf("error updating user plan: %w", err)
		}
		return nil
	})

	switch {
	case errors.Is(err, common.ErrAlreadyApplied):
		s.logger.Info(ctx, "payment already applied", "payment_ref", p.ExternalPaymentRef)
		return false, nil
	case err != nil:
		return false, err
	}

	s.logger.Info(ctx, "payment applied", "payment_ref", p.ExternalPaymentRef, "user_id", p.UserID, "plan_id", p.PlanID)
	return true, nil
}
