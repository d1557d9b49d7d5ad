// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package token issues and verifies the bearer tokens returned by login.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/serviautos/serviautos/internal/auth"
)

// Defaults for Issuer.
const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "serviautos"

	// MinSecretLength is the shortest HMAC secret accepted.
	MinSecretLength = 32
)

// ErrInvalidToken is wrapped by every Parse failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of a session token. The subject is the
// credential ID.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Issuer signs HS256 tokens for authenticated credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer. A non-positive ttl or empty issuer selects
// the default.
func NewIssuer(secret string, ttl time.Duration, issuer string, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	i := &Issuer{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for cred and returns it with its expiry.
func (i *Issuer) Issue(cred *auth.Credential) (string, time.Time, error) {
	if cred == nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("credential is nil")
	}
	now := i.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    i.issuer,
			Subject:   cred.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: cred.Email,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("credential_id", cred.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, issuer, and validity window and returns the
// claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrInvalidToken)
	}
	if !token.Valid {
		return nil, oops.Code("TOKEN_INVALID").Wrap(ErrInvalidToken)
	}
	return claims, nil
}
