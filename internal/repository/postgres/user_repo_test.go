package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/talkmate/companion/internal/errs"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestUserRepo_CreateUser_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()

	// OK
	mock.ExpectExec(`INSERT INTO users \(id, username, hashed_password\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs(pgxmock.AnyArg(), "u", "h").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := r.CreateUser(ctx, "u", "h")
	require.NoError(t, err)
	_, err = uuid.FromString(id)
	require.NoError(t, err)

	// Unique violation
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "u", "h2").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err = r.CreateUser(ctx, "u", "h2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	// Other failure is not a duplicate
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "v", "h").
		WillReturnError(errors.New("conn reset"))
	_, err = r.CreateUser(ctx, "v", "h")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_FindUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, username, hashed_password, created_at FROM users WHERE username=\$1`).
		WithArgs("u2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "hashed_password", "created_at"}).
			AddRow(id, "u2", "h", created))
	u, found, err := r.FindUser(ctx, "u2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id.String(), u.ID)
	require.Equal(t, "h", u.HashedPassword)
	require.True(t, u.CreatedAt.Equal(created))

	mock.ExpectQuery(`SELECT id, username, hashed_password, created_at FROM users WHERE username=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, found, err = r.FindUser(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)

	mock.ExpectQuery(`SELECT id, username, hashed_password, created_at FROM users`).
		WithArgs("u2").
		WillReturnError(context.DeadlineExceeded)
	_, found, err = r.FindUser(ctx, "u2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}
