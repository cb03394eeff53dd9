// Package service contains application services for accounts, conversation memory and reminders.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	pkgcrypto "github.com/talkmate/companion/internal/crypto"
	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/limiter"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

// Username length bounds, counted in runes after trimming.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 64
)

// TokenManager issues tokens and resolves them back to identities.
// It is implemented by *auth.Manager.
type TokenManager interface {
	Issue(subject string) (model.Tokens, error)
	ResolveIdentity(ctx context.Context, token string) (model.Identity, error)
}

// AuthService defines account and authentication operations.
type AuthService interface {
	// Register creates a new user with a bcrypt password hash.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// Login applies rate limiting and exchanges credentials for a token.
	Login(ctx context.Context, username, password, ip string) (model.Tokens, error)
	// Authenticate resolves a bearer token to the caller's identity.
	Authenticate(ctx context.Context, token string) (model.Identity, error)
}

type AuthServiceImpl struct {
	users  repository.UserRepository
	tokens TokenManager
	lim    limiter.Limiter
	log    *zap.Logger
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens TokenManager, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, tokens: tokens, lim: lim, log: log}
}

// NormalizeUsername trims surrounding whitespace and checks the length bounds.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := len([]rune(username))
	if n < MinUsernameLen || n > MaxUsernameLen {
		return "", errs.Validationf("username must be %d to %d characters", MinUsernameLen, MaxUsernameLen)
	}
	return username, nil
}

// Register validates input, hashes the password and creates the user.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errs.Validationf("empty password")
	}
	if len(password) > pkgcrypto.MaxPasswordBytes {
		return "", errs.Validationf("password longer than %d bytes", pkgcrypto.MaxPasswordBytes)
	}
	hash, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return "", err
	}
	id, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return "", err
	}
	s.log.Info("user registered", zap.String("username", username))
	return id, nil
}

// Login authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, ip string) (model.Tokens, error) {
	username = strings.TrimSpace(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, err
	}
	if !allowed {
		return model.Tokens{}, errs.ErrRateLimited
	}

	u, found, err := s.users.FindUser(ctx, username)
	if err != nil {
		// Storage trouble is not the caller's fault: no failure is recorded,
		// but the response does not reveal it either.
		s.log.Warn("login lookup failed", zap.String("username", username), zap.Error(err))
		return model.Tokens{}, errs.ErrUnauthorized
	}
	if !found || !pkgcrypto.VerifyPassword(password, u.HashedPassword) {
		blocked, _, ferr := s.lim.Failure(ctx, username, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		}
		if blocked {
			s.log.Info("login blocked", zap.String("username", username))
			return model.Tokens{}, errs.ErrRateLimited
		}
		return model.Tokens{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	if err := s.lim.Success(ctx, username, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	if pkgcrypto.NeedsRehash(u.HashedPassword) {
		s.log.Info("password hash uses a legacy scheme", zap.String("username", username))
	}
	return s.tokens.Issue(u.Username)
}

// Authenticate resolves token to an identity. Token problems match
// errs.ErrUnauthorized; storage failures are returned wrapped.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	id, err := s.tokens.ResolveIdentity(ctx, token)
	if err != nil && !errors.Is(err, errs.ErrUnauthorized) {
		s.log.Error("identity lookup failed", zap.Error(err))
	}
	return id, err
}
