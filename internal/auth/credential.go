// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field limits for signup input.
const (
	MaxEmailLength    = 254
	MaxProfileField   = 100
	MaxPasswordLength = 256
)

// Profile holds the descriptive fields captured at signup.
type Profile struct {
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// Credential is a persisted identity record.
type Credential struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Profile      Profile
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// NewCredential creates a Credential with a fresh ID. The email is normalized.
func NewCredential(email, passwordHash string, profile Profile, now time.Time) (*Credential, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_CREDENTIAL").Errorf("password hash cannot be empty")
	}
	now = now.UTC()
	return &Credential{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Profile:      profile,
		RegisteredAt: now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lower-cases an address and checks that it is a
// bare RFC 5322 addr-spec (no display name).
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return "", oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return email, nil
}

// SignupRequest is the applicant-supplied payload of a signup.
type SignupRequest struct {
	Profile
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks field presence and lengths. It returns the request with a
// normalized email.
func (r SignupRequest) Validate() (SignupRequest, error) {
	email, err := NormalizeEmail(r.Email)
	if err != nil {
		return r, err
	}
	r.Email = email

	fields := map[string]string{
		"name":     r.Name,
		"lastName": r.LastName,
		"phone":    r.Phone,
		"address":  r.Address,
	}
	for field, value := range fields {
		if utf8.RuneCountInString(value) > MaxProfileField {
			return r, oops.Code("AUTH_INVALID_PROFILE").
				With("field", field).
				Errorf("%s must be at most %d characters", field, MaxProfileField)
		}
	}
	if strings.TrimSpace(r.Name) == "" {
		return r, oops.Code("AUTH_INVALID_PROFILE").
			With("field", "name").
			Errorf("name cannot be empty")
	}
	if err := ValidatePassword(r.Password); err != nil {
		return r, err
	}
	return r, nil
}

// ValidatePassword checks a new plaintext password.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// CredentialStore manages credential persistence. Implementations key
// records by normalized email.
type CredentialStore interface {
	// Exists reports whether a credential is stored for email.
	Exists(ctx context.Context, email string) (bool, error)

	// Find retrieves a credential by email.
	// Returns ErrNotFound if no credential has the given email.
	Find(ctx context.Context, email string) (*Credential, error)

	// Create stores a new credential.
	// Returns ErrConflict if the email is already registered.
	Create(ctx context.Context, cred *Credential) (*Credential, error)

	// UpdatePasswordHash replaces the stored hash.
	// Returns ErrNotFound if no credential has the given email.
	UpdatePasswordHash(ctx context.Context, email, passwordHash string) error
}
