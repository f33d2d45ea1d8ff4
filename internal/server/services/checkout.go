package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/billing"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
)

// CheckoutService opens payment processor checkout sessions for users.
type CheckoutService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	processor   billing.Processor
	logger      logging.Logger
	returnURL   string
}

func NewCheckoutService(db *sql.DB, m repomanager.RepositoryManager, p billing.Processor, logger logging.Logger, cfg *config.Config) *CheckoutService {
	return &CheckoutService{
		db:          db,
		repomanager: m,
		processor:   p,
		logger:      logger.With("module", "checkout"),
		returnURL:   strings.TrimSuffix(cfg.BaseURL, "/") + "/",
	}
}

// CreatePriceCheckout opens a recurring checkout for a processor-side price.
func (s *CheckoutService) CreatePriceCheckout(ctx context.Context, userID, priceID string) (string, error) {
	if strings.TrimSpace(priceID) == "" {
		return "", fmt.Errorf("%w: priceId is required", common.ErrValidation)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	return s.processor.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerID: customerID,
		Mode:       billing.ModeSubscription,
		PriceID:    priceID,
		SuccessURL: s.returnURL,
		CancelURL:  s.returnURL,
		Metadata:   map[string]string{"userId": user.ID},
	})
}

// CreatePlanCheckout opens a one-time checkout priced from a local plan.
// The completed session carries userId and planId back to the webhook.
func (s *CheckoutService) CreatePlanCheckout(ctx context.Context, userID, planID string) (string, error) {
	if strings.TrimSpace(planID) == "" {
		return "", fmt.Errorf("%w: planId is required", common.ErrValidation)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	plan, err := s.repomanager.Plans(s.db).GetActive(ctx, planID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrPlanNotFound
		}
		return "", fmt.Errorf("error loading plan: %w", err)
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	return s.processor.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerID: customerID,
		Mode:       billing.ModePayment,
		Item: &billing.LineItem{
			Name:        plan.Name,
			Description: plan.Description,
			AmountCents: plan.PriceCents,
			Currency:    plan.Currency,
		},
		SuccessURL: s.returnURL,
		CancelURL:  s.returnURL,
		Metadata:   map[string]string{"userId": user.ID, "planId": plan.ID},
	})
}

// ListPlans returns the plans currently on sale.
func (s *CheckoutService) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	plans, err := s.repomanager.Plans(s.db).ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing plans: %w", err)
	}
	return plans, nil
}

func (s *CheckoutService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

// ensureCustomer returns the user's processor customer id, creating and
// storing one on first checkout.
func (s *CheckoutService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}

	id, err := s.processor.CreateCustomer(ctx, billing.CustomerRequest{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return "", err
	}

	if err := s.repomanager.Users(s.db).SetBillingCustomerID(ctx, user.ID, id); err != nil {
		return "", fmt.Errorf("error saving billing customer: %w", err)
	}
	s.logger.Info(ctx, "billing customer created", "user_id", user.ID)

	user.BillingCustomerID = id
	return id, nil
}
