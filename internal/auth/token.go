// Package auth issues and validates bearer tokens and resolves them to identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
)

// DefaultTTL is the lifetime of a login token: 30 days.
const DefaultTTL = 43200 * time.Minute

// TokenType is reported to clients alongside the access token.
const TokenType = "bearer"

// UserFinder is the only view of storage the manager needs.
type UserFinder interface {
	FindUser(ctx context.Context, username string) (model.User, bool, error)
}

// Claims is the token payload: registered claims with sub and exp always set.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens with a process-wide key.
type Manager struct {
	key    []byte
	method jwt.SigningMethod
	ttl    time.Duration
	users  UserFinder
	now    func() time.Time
}

// NewManager validates the signing configuration. ttl <= 0 selects DefaultTTL.
func NewManager(key []byte, alg string, ttl time.Duration, users UserFinder) (*Manager, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: empty signing key")
	}
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	m, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{key: key, method: m, ttl: ttl, users: users, now: time.Now}, nil
}

// TTL returns the default token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a token for subject with the default TTL.
func (m *Manager) Issue(subject string) (model.Tokens, error) {
	return m.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, m.ttl)
}

// IssueToken signs claims with an expiry of now+ttl. A non-positive ttl
// yields a token that is already expired.
func (m *Manager) IssueToken(claims Claims, ttl time.Duration) (model.Tokens, error) {
	if claims.Subject == "" {
		return model.Tokens{}, errors.New("auth: empty subject")
	}
	now := m.now()
	exp := now.Add(ttl)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.key)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return model.Tokens{AccessToken: signed, TokenType: TokenType, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse verifies signature and expiry and returns the claims. Every failure is errs.ErrInvalidToken.
func (m *Manager) Parse(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Claims{}, errs.ErrInvalidToken
	}
	return claims, nil
}

// ResolveIdentity maps a bearer token to the identity of an existing user.
// Bad tokens give errs.ErrInvalidToken, vanished users errs.ErrUnknownSubject;
// both match errs.ErrUnauthorized. Storage failures are returned as is.
func (m *Manager) ResolveIdentity(ctx context.Context, token string) (model.Identity, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return model.Identity{}, err
	}
	u, found, err := m.users.FindUser(ctx, claims.Subject)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: resolve subject: %w", err)
	}
	if !found {
		return model.Identity{}, errs.ErrUnknownSubject
	}
	return u.Identity(), nil
}
