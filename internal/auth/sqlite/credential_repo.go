// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package sqlite implements auth.CredentialStore on an embedded SQLite
// database, for single-node deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/serviautos/serviautos/internal/auth"
)

//go:embed schema.sql
var schema string

// CredentialRepository implements auth.CredentialStore using SQLite.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*CredentialRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("SQLITE_CONFIG_INVALID").Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_SCHEMA_FAILED").With("path", path).Wrap(err)
	}
	return &CredentialRepository{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (r *CredentialRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return oops.Code("SQLITE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Exists reports whether a credential is stored for email.
func (r *CredentialRepository) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE email = ?)`, email).Scan(&exists)
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
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, last_name, phone, address,
		       registered_at, updated_at
		FROM credentials
		WHERE email = ?
	`, email)

	var (
		idStr                   string
		cred                    auth.Credential
		registeredAt, updatedAt int64
	)
	err := row.Scan(&idStr, &cred.Email, &cred.PasswordHash,
		&cred.Profile.Name, &cred.Profile.LastName, &cred.Profile.Phone, &cred.Profile.Address,
		&registeredAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("CREDENTIAL_INVALID_ID").With("id", idStr).Wrap(err)
	}
	cred.ID = id
	cred.RegisteredAt = fromNanos(registeredAt)
	cred.UpdatedAt = fromNanos(updatedAt)
	return &cred, nil
}

// Create stores a new credential. A unique constraint violation maps to
// auth.ErrConflict.
func (r *CredentialRepository) Create(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (
			id, email, password_hash, name, last_name, phone, address,
			registered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cred.ID.String(),
		cred.Email,
		cred.PasswordHash,
		cred.Profile.Name,
		cred.Profile.LastName,
		cred.Profile.Phone,
		cred.Profile.Address,
		toNanos(cred.RegisteredAt),
		toNanos(cred.UpdatedAt),
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
	result, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = ?, updated_at = ? WHERE email = ?`,
		passwordHash, toNanos(r.now()), email)
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "update password hash").
			With("email", email).
			Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return oops.Code("CREDENTIAL_UPDATE_FAILED").
			With("operation", "rows affected").
			With("email", email).
			Wrap(err)
	}
	if affected == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Compile-time interface check.
var _ auth.CredentialStore = (*CredentialRepository)(nil)
