package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/plans"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/subscriptions"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/users"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/verificationtokens"
)

// RepositoryManager vends repositories bound to a DBTX, so the same service
// code runs against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	VerificationTokens(db dbx.DBTX) verificationtokens.Repository
	Plans(db dbx.DBTX) plans.Repository
	Subscriptions(db dbx.DBTX) subscriptions.Repository
	Payments(db dbx.DBTX) payments.Repository
}
