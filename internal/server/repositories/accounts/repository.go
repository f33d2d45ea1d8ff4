package accounts

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Find(ctx context.Context, provider, providerAccountID string) (*models.Account, error)
	// Create inserts the link and reports false if (provider,
	// providerAccountID) was already taken.
	Create(ctx context.Context, a *models.Account) (bool, error)
}
