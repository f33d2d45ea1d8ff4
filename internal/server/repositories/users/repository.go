package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

// UpsertParams describes a user resolved by email. Empty Name/Image never
// overwrite values already stored.
type UpsertParams struct {
	Email      string
	VerifiedAt *time.Time
	Name       string
	Image      string
}

type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, p UpsertParams) (*models.User, error)
	SetBillingCustomerID(ctx context.Context, id, customerID string) error
	ApplyPlan(ctx context.Context, id, planID, planName string, credits int) error
}
