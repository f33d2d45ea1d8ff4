package plans

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	// GetActive returns common.ErrNotFound for unknown and inactive plans alike.
	GetActive(ctx context.Context, id string) (*models.Plan, error)
	ListActive(ctx context.Context) ([]*models.Plan, error)
}
