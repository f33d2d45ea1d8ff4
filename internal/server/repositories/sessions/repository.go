package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID string, validity time.Duration) (*models.Session, error)
	Find(ctx context.Context, id string) (*models.Session, error)
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
