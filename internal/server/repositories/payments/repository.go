package payments

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	ExistsByRef(ctx context.Context, externalRef string) (bool, error)
	// Create reports false when a payment with the same external reference
	// already exists; nothing is written in that case.
	Create(ctx context.Context, p *models.Payment) (bool, error)
}
