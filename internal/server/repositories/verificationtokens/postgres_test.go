package verificationtokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+verification_tokens\s*\(identifier,\s*token_hash,\s*expires_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+id,\s*created_at\s*$`
	mock.ExpectQuery(q).
		WithArgs("a@x.com", "$2a$04$hash", now.Add(15*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("t-1", now))

	tok := &models.VerificationToken{Identifier: "a@x.com", TokenHash: "$2a$04$hash", ExpiresAt: now.Add(15 * time.Minute)}
	require.NoError(t, repo.Create(context.Background(), tok))
	assert.Equal(t, "t-1", tok.ID)
	assert.Equal(t, now, tok.CreatedAt)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+verification_tokens`).WillReturnError(errors.New("disk full"))

	err := repo.Create(context.Background(), &models.VerificationToken{Identifier: "a@x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

const latestQ = `(?s)^\s*SELECT\s+id,\s*identifier,\s*token_hash,\s*expires_at,\s*created_at\s+FROM\s+verification_tokens\s+` +
	`WHERE\s+identifier\s*=\s*\$1\s+AND\s+expires_at\s*>\s*\$2\s+ORDER\s+BY\s+expires_at\s+DESC,\s*created_at\s+DESC\s+LIMIT\s+1\s+FOR\s+UPDATE\s*$`

func TestFindLatestValid(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(latestQ).
			WithArgs("a@x.com", now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "identifier", "token_hash", "expires_at", "created_at"}).
				AddRow("t-2", "a@x.com", "h2", now.Add(10*time.Minute), now.Add(-5*time.Minute)))

		tok, err := repo.FindLatestValid(context.Background(), "a@x.com", now)
		require.NoError(t, err)
		assert.Equal(t, "t-2", tok.ID)
		assert.Equal(t, "h2", tok.TokenHash)
	})

	t.Run("none valid", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(latestQ).WithArgs("a@x.com", now).WillReturnError(sql.ErrNoRows)

		_, err := repo.FindLatestValid(context.Background(), "a@x.com", now)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(latestQ).WillReturnError(errors.New("timeout"))

		_, err := repo.FindLatestValid(context.Background(), "a@x.com", now)
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrNotFound)
	})
}

func TestDelete_AffectedRowsDecideWinner(t *testing.T) {
	q := `(?s)^\s*DELETE\s+FROM\s+verification_tokens\s+WHERE\s+id\s*=\s*\$1\s*$`

	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(q).WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("t-1").WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Delete(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Delete(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestDeleteExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+verification_tokens\s+WHERE\s+expires_at\s*<=\s*\$1\s*$`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
