package verificationtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.VerificationToken) error
	// FindLatestValid returns the unexpired token with the latest expiry for
	// identifier, locking it for the rest of the surrounding transaction.
	FindLatestValid(ctx context.Context, identifier string, now time.Time) (*models.VerificationToken, error)
	// Delete reports whether this call removed the row.
	Delete(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
