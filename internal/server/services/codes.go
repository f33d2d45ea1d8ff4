// Package services contains server-side business logic: one-time email codes,
// identity and session handling, the payment entitlement ledger and checkout.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/cryptox"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/dmitrijs2005/paywall/internal/server/mailer"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/ratelimit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// AttemptLimiter bounds verification attempts per email.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error)
	Reset(ctx context.Context, key string) error
}

// VerificationResult is returned by a successful Verify.
type VerificationResult struct {
	Email string
}

// CodeService issues and verifies one-time email codes.
type CodeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sender      mailer.Sender
	limiter     AttemptLimiter
	hasher      *cryptox.CodeHasher
	logger      logging.Logger

	codeTTL       time.Duration
	host          string
	attemptLimit  int
	attemptWindow time.Duration

	mailRetryDelay time.Duration
	now            func() time.Time
}

func NewCodeService(db *sql.DB, m repomanager.RepositoryManager, sender mailer.Sender, limiter AttemptLimiter,
	logger logging.Logger, cfg *config.Config) *CodeService {
	if limiter == nil {
		limiter = ratelimit.NewLocalLimiter()
	}
	return &CodeService{
		db:             db,
		repomanager:    m,
		sender:         sender,
		limiter:        limiter,
		hasher:         cryptox.NewCodeHasher(cfg.CodeHashCost),
		logger:         logger.With("module", "codes"),
		codeTTL:        cfg.CodeTTL,
		host:           cfg.Host(),
		attemptLimit:   cfg.VerifyAttemptLimit,
		attemptWindow:  cfg.VerifyAttemptWindow,
		mailRetryDelay: 500 * time.Millisecond,
		now:            time.Now,
	}
}

// Issue stores a fresh code for email and mails it. The token row is
// committed before sending, so a failed delivery can be recovered by asking
// again. Earlier codes for the same email are left in place.
func (s *CodeService) Issue(ctx context.Context, rawEmail string) error {
	email, err := common.NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	code, err := cryptox.GenerateCode(common.CodeLength)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	tok := &models.VerificationToken{
		Identifier: email,
		TokenHash:  hash,
		ExpiresAt:  s.now().UTC().Add(s.codeTTL),
	}
	if err := s.repomanager.VerificationTokens(s.db).Create(ctx, tok); err != nil {
		return fmt.Errorf("error creating verification token: %w", err)
	}

	msg, err := mailer.NewCodeMessage(email, code, s.host, s.codeTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	// one retry at most
	b := retry.WithMaxRetries(1, retry.NewConstant(s.mailRetryDelay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.sender.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "code delivery failed", "token_id", tok.ID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrMailDelivery, err)
	}

	s.logger.Info(ctx, "code issued", "token_id", tok.ID, "expires_at", tok.ExpiresAt)
	return nil
}

// Verify consumes the latest unexpired code for email. Exactly one concurrent
// caller can succeed for a given token.
//
// onVerified, when set, runs after the code matches and before the token is
// deleted. If it fails the token survives and the same code can be retried.
func (s *CodeService) Verify(ctx context.Context, rawEmail, code string,
	onVerified func(ctx context.Context, email string) error) (*VerificationResult, error) {
	if !codePattern.MatchString(code) {
		return nil, common.ErrMalformedCode
	}
	email, err := common.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	res, err := s.limiter.Allow(ctx, email, s.attemptLimit, s.attemptWindow)
	switch {
	case err != nil:
		// limiter outage must not lock everyone out
		s.logger.Warn(ctx, "attempt limiter unavailable", "error", err)
	case !res.Allowed:
		return nil, common.ErrTooManyAttempts
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.VerificationTokens(tx)

		tok, err := repo.FindLatestValid(ctx, email, s.now().UTC())
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrNoValidToken
			}
			return fmt.Errorf("error searching verification token: %w", err)
		}

		if !s.hasher.Compare(tok.TokenHash, code) {
			return common.ErrInvalidCode
		}

		if onVerified != nil {
			if err := onVerified(ctx, email); err != nil {
				return err
			}
		}

		deleted, err := repo.Delete(ctx, tok.ID)
		if err != nil {
			return fmt.Errorf("error deleting verification token: %w", err)
		}
		if !deleted {
			return common.ErrNoValidToken
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Reset(ctx, email); err != nil {
		s.logger.Warn(ctx, "attempt limiter reset failed", "error", err)
	}

	return &VerificationResult{Email: email}, nil
}

// SweepExpired deletes expired tokens. Superseded but unexpired tokens stay.
func (s *CodeService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.VerificationTokens(s.db).DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error sweeping verification tokens: %w", err)
	}
	return n, nil
}
