package subscriptions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Subscription) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Subscription, error)
}
