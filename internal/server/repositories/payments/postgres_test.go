package payments

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestExistsByRef(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+payments\s+WHERE\s+external_payment_ref\s*=\s*\$1\)\s*$`
	mock.ExpectQuery(q).WithArgs("pi_123").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("pi_999").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.ExistsByRef(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsByRef(context.Background(), "pi_999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsByRef_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^\s*SELECT\s+EXISTS`).WillReturnError(errors.New("boom"))

	_, err := repo.ExistsByRef(context.Background(), "pi_123")
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	q := `(?s)^\s*INSERT\s+INTO\s+payments\b.*ON\s+CONFLICT\s+\(external_payment_ref\)\s+DO\s+NOTHING\s+RETURNING\s+id\s*$`
	paidAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	p := func() *models.Payment {
		return &models.Payment{
			UserID: "u1", PlanID: "p1", AmountCents: 900, Currency: "usd",
			Status: models.PaymentStatusCompleted, ExternalPaymentRef: "pi_123", PaymentDate: paidAt,
		}
	}

	t.Run("inserted", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(q).
			WithArgs("u1", "p1", int64(900), "usd", nil, "completed", "pi_123", paidAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay-1"))

		pay := p()
		ok, err := repo.Create(context.Background(), pay)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "pay-1", pay.ID)
	})

	t.Run("duplicate ref", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ok, err := repo.Create(context.Background(), p())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(q).WillReturnError(errors.New("boom"))

		_, err := repo.Create(context.Background(), p())
		require.Error(t, err)
	})
}
