// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package memstore provides an in-memory auth.CredentialStore for
// development and tests.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/serviautos/serviautos/internal/auth"
)

// Store is an in-memory credential store keyed by normalized email.
type Store struct {
	mu    sync.RWMutex
	creds map[string]auth.Credential
}

// Compile-time interface check.
var _ auth.CredentialStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{creds: make(map[string]auth.Credential)}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Exists reports whether a credential is stored for email.
func (s *Store) Exists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[key(email)]
	return ok, nil
}

// Find returns a copy of the credential for email.
func (s *Store) Find(_ context.Context, email string) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key(email)]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return &cred, nil
}

// Create stores a copy of cred.
func (s *Store) Create(_ context.Context, cred *auth.Credential) (*auth.Credential, error) {
	k := key(cred.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[k]; ok {
		return nil, oops.Code("CREDENTIAL_EXISTS").With("email", cred.Email).Wrap(auth.ErrConflict)
	}
	s.creds[k] = *cred
	stored := *cred
	return &stored, nil
}

// UpdatePasswordHash replaces the stored hash for email.
func (s *Store) UpdatePasswordHash(_ context.Context, email, passwordHash string) error {
	k := key(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[k]
	if !ok {
		return oops.Code("CREDENTIAL_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	cred.PasswordHash = passwordHash
	cred.UpdatedAt = time.Now().UTC()
	s.creds[k] = cred
	return nil
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}
