package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/repotest"
)

func TestGateway_LazyDialAndClose(t *testing.T) {
	db, mock := newDB(t)
	dials := 0
	g := newGateway(func(context.Context) (*DB, error) {
		dials++
		return db, nil
	}, time.Second)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, username, hashed_password, created_at FROM users`).
		WithArgs("x").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectPing()
	mock.ExpectClose()

	_, found, err := g.FindUser(ctx, "x")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, g.Ping(ctx))
	require.Equal(t, 1, dials)

	require.NoError(t, g.Close(ctx))
	_, err = g.CreateUser(ctx, "x", "y")
	require.ErrorIs(t, err, errs.ErrClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_DialFailureIsRetried(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	fail := true
	g := newGateway(func(context.Context) (*DB, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return db, nil
	}, time.Second)
	ctx := context.Background()

	_, err := g.DueReminders(ctx, time.Now())
	require.ErrorIs(t, err, errs.ErrStorageUnavailable)

	fail = false
	mock.ExpectPing()
	require.NoError(t, g.Ping(ctx))
}

func TestLazyQuerier(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	g := newGateway(func(context.Context) (*DB, error) { return db, nil }, time.Second)
	q := g.Querier()
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM auth_limiter`).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	tag, err := q.Exec(ctx, `DELETE FROM auth_limiter`)
	require.NoError(t, err)
	require.EqualValues(t, 3, tag.RowsAffected())

	require.NoError(t, g.Close(ctx))
	var n int
	require.ErrorIs(t, q.QueryRow(ctx, `SELECT 1`).Scan(&n), errs.ErrClosed)
}

// TestGateway_Contract runs the shared suite against a live server when
// TALKMATE_TEST_POSTGRES_URL is set. The database must be disposable.
func TestGateway_Contract(t *testing.T) {
	dsn := os.Getenv("TALKMATE_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TALKMATE_TEST_POSTGRES_URL not set")
	}
	repotest.Run(t, func(t *testing.T) repository.Gateway {
		g := New(dsn, 5*time.Second, zap.NewNop())
		require.NoError(t, g.Ping(context.Background()))
		_, err := g.Querier().Exec(context.Background(), `TRUNCATE users, conversations, reminders`)
		require.NoError(t, err)
		return g
	})
}
