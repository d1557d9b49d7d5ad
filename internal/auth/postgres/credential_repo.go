// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package postgres implements auth.CredentialStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/store"
)

const selectCredential = `
	SELECT id, email, password_hash, name, last_name, phone, address,
	       registered_at, updated_at
	FROM credentials
	WHERE email = $1`

// CredentialRepository implements auth.CredentialStore using PostgreSQL.
type CredentialRepository struct {
	pool store.Pool
	now  func() time.Time
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(pool store.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool, now: time.Now}
}

// Exists reports whether a credential is stored for email.
func (r *CredentialRepository) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("CREDENTIAL_QUERY_FAILED").
			With("operation", "check credential exists").
			With("email", email).
			Wrap(err)
	}
	return exists, nil
}

// Find retrieves a credential by email.
func (r *CredentialRepository) Find(ctx context.Context, email string) (*auth.Credential, error) {
	cred, err := scanCredential(r.pool.QueryRow(ctx, selectCredential, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_QUERY_FAILED").
			With("operation", "find credential").
			With("email", email).
			Wrap(err)
	}
	return cred, nil
}

// Create stores a new credential. The unique email constraint is the
// authority on duplicates; a violation maps to auth.ErrConflict.
func (r *CredentialRepository) Create(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (
			id, email, password_hash, name, last_name, phone, address,
			registered_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		cred.ID.String(),
		cred.Email,
		cred.PasswordHash,
		cred.Profile.Name,
		cred.Profile.LastName,
		cred.Profile.Phone,
		cred.Profile.Address,
		cred.RegisteredAt,
		cred.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, oops.Code("CREDENTIAL_EXISTS").
			With("email", cred.Email).
			Wrap(errors.Join(auth.ErrConflict, err))
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_CREATE_FAILED").
			With("operation", "insert credential").
			With("email", cred.Email).
			Wrap(err)
	}
	stored := *cred
	return &stored, nil
}

// UpdatePasswordHash replaces the stored hash for email.
func (r *CredentialRepository) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = $3
		WHERE email = $1
	`, email, passwordHash, r.now().UTC())
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "update password hash").
			With("email", email).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// scanCredential scans a single row into a Credential.
// Callers are responsible for handling pgx.ErrNoRows.
func scanCredential(row pgx.Row) (*auth.Credential, error) {
	var (
		idStr string
		cred  auth.Credential
	)
	err := row.Scan(
		&idStr,
		&cred.Email,
		&cred.PasswordHash,
		&cred.Profile.Name,
		&cred.Profile.LastName,
		&cred.Profile.Phone,
		&cred.Profile.Address,
		&cred.RegisteredAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("CREDENTIAL_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	cred.ID = id
	cred.RegisteredAt = cred.RegisteredAt.UTC()
	cred.UpdatedAt = cred.UpdatedAt.UTC()
	return &cred, nil
}

// Compile-time interface check.
var _ auth.CredentialStore = (*CredentialRepository)(nil)
