package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// CreateUser inserts a new user row; the unique index rejects taken usernames.
func (r *UserRepo) CreateUser(ctx context.Context, username, hashedPassword string) (string, error) {
	const q = `
INSERT INTO users (id, username, hashed_password)
VALUES ($1, $2, $3)`
	id := uuid.Must(uuid.NewV4())
	_, err := r.db.Pool.Exec(ctx, q, id, username, hashedPassword)
	if isUniqueViolation(err) {
		return "", errs.ErrAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id.String(), nil
}

// FindUser selects a user by username.
func (r *UserRepo) FindUser(ctx context.Context, username string) (model.User, bool, error) {
	const q = `
SELECT id, username, hashed_password, created_at
FROM users WHERE username=$1`
	var (
		u  model.User
		id uuid.UUID
	)
	err := r.db.Pool.QueryRow(ctx, q, username).Scan(&id, &u.Username, &u.HashedPassword, &u.CreatedAt)
	switch {
	case err == nil:
		u.ID = id.String()
		u.CreatedAt = u.CreatedAt.UTC()
		return u, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return model.User{}, false, nil
	default:
		return model.User{}, false, fmt.Errorf("select user: %w", err)
	}
}
