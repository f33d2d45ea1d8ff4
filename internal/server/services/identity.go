package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/auth"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/users"
)

// FederatedIdentity is what an OAuth provider tells us about a user.
type FederatedIdentity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	Image             string
}

// Session is an issued session token and the row backing it.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	// Renewed is set when Authenticate slid the expiry forward and Token is
	// a fresh one.
	Renewed bool
}

// IdentityService maps verified emails and federated identities to users
// and manages their sessions.
type IdentityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	jwtSecret   []byte
	sessionTTL  time.Duration
	providers   map[string]struct{}
	now         func() time.Time
}

func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *IdentityService {
	providers := make(map[string]struct{})
	for _, p := range cfg.EnabledProviders() {
		providers[p] = struct{}{}
	}
	return &IdentityService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "identity"),
		jwtSecret:   []byte(cfg.SessionSecret),
		sessionTTL:  cfg.SessionTTL,
		providers:   providers,
		now:         time.Now,
	}
}

// ResolveOrCreate returns the user owning a just-verified email, creating
// it when absent. The verification timestamp only moves forward.
func (s *IdentityService) ResolveOrCreate(ctx context.Context, rawEmail string) (*models.User, error) {
	email, err := common.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u, err := s.repomanager.Users(s.db).Upsert(ctx, users.UpsertParams{Email: email, VerifiedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("error resolving user: %w", err)
	}
	return u, nil
}

// ResolveFromFederatedIdentity resolves the user for a provider sign-in,
// linking the provider account on first use. The provider's email is
// trusted as verified.
func (s *IdentityService) ResolveFromFederatedIdentity(ctx context.Context, id FederatedIdentity) (*models.User, error) {
	provider := strings.ToLower(strings.TrimSpace(id.Provider))
	if _, ok := s.providers[provider]; !ok {
		return nil, common.ErrUnsupportedProvider
	}
	if id.ProviderAccountID == "" || strings.TrimSpace(id.Email) == "" {
		return nil, common.ErrIncompleteIdentity
	}
	email, err := common.NormalizeEmail(id.Email)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := s.now().UTC()
		u, err := s.repomanager.Users(tx).Upsert(ctx, users.UpsertParams{
			Email:      email,
			VerifiedAt: &now,
			Name:       id.Name,
			Image:      id.Image,
		})
		if err != nil {
			return fmt.Errorf("error resolving user: %w", err)
		}

		accounts := s.repomanager.Accounts(tx)
		acc, err := accounts.Find(ctx, provider, id.ProviderAccountID)
		switch {
		case err == nil:
			if acc.UserID != u.ID {
				return common.ErrAccountLinkConflict
			}
		case errors.Is(err, common.ErrNotFound):
			created, err := accounts.Create(ctx, &models.Account{
				UserID:            u.ID,
				Type:              "oauth",
				Provider:          provider,
				ProviderAccountID: id.ProviderAccountID,
			})
			if err != nil {
				return fmt.Errorf("error linking account: %w", err)
			}
			if !created {
				// lost a race with a concurrent link; re-read the winner
				acc, err := accounts.Find(ctx, provider, id.ProviderAccountID)
				if err != nil {
					return fmt.Errorf("error searching account: %w", err)
				}
				if acc.UserID != u.ID {
					return common.ErrAccountLinkConflict
				}
			}
		default:
			return fmt.Errorf("error searching account: %w", err)
		}

		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// IssueSession creates a session row for user and signs a token for it.
func (s *IdentityService) IssueSession(ctx context.Context, user *models.User) (*Session, error) {
	row, err := s.repomanager.Sessions(s.db).Create(ctx, user.ID, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	token, err := auth.GenerateToken(user.ID, row.ID, s.jwtSecret, row.CreatedAt, row.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	return &Session{ID: row.ID, UserID: user.ID, Token: token, ExpiresAt: row.ExpiresAt}, nil
}

// Authenticate resolves a session token to its user. The user row is read
// on every call so plan and credit changes are visible immediately. Once
// less than half of the lifetime remains the session is extended and a new
// token returned.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*models.User, *Session, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, nil, err
	}

	row, err := s.repomanager.Sessions(s.db).Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("error searching session: %w", err)
	}
	if row.UserID != claims.Subject {
		return nil, nil, common.ErrInvalidToken
	}

	now := s.now().UTC()
	if !now.Before(row.ExpiresAt) {
		return nil, nil, common.ErrSessionExpired
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("error loading user: %w", err)
	}

	sess := &Session{ID: row.ID, UserID: row.UserID, Token: token, ExpiresAt: row.ExpiresAt}

	if row.ExpiresAt.Sub(now) < s.sessionTTL/2 {
		s.renew(ctx, sess, now)
	}

	return user, sess, nil
}

// renew extends sess in place. Failure leaves the current token valid.
func (s *IdentityService) renew(ctx context.Context, sess *Session, now time.Time) {
	expiresAt := now.Add(s.sessionTTL)
	if err := s.repomanager.Sessions(s.db).Extend(ctx, sess.ID, expiresAt); err != nil {
		s.logger.Warn(ctx, "session renewal failed", "session_id", sess.ID, "error", err)
		return
	}
	token, err := auth.GenerateToken(sess.UserID, sess.ID, s.jwtSecret, now, expiresAt)
	if err != nil {
		s.logger.Warn(ctx, "session renewal failed", "session_id", sess.ID, "error", err)
		return
	}
	sess.Token = token
	sess.ExpiresAt = expiresAt
	sess.Renewed = true
}

// RevokeSession deletes the session behind token. An expired token has
// nothing left to revoke; its row is removed by the sweeper.
func (s *IdentityService) RevokeSession(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			return nil
		}
		return err
	}
	if err := s.repomanager.Sessions(s.db).Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

// SweepSessions purges expired session rows.
func (s *IdentityService) SweepSessions(ctx context.Context) (int64, error) {
	n, err := s.repomanager.Sessions(s.db).DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error sweeping sessions: %w", err)
	}
	return n, nil
}
