// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package mocks provides testify mocks for the auth collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/notify"
)

// MockCredentialStore is a mock auth.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

// NewMockCredentialStore creates a MockCredentialStore whose expectations
// are asserted when the test ends.
func NewMockCredentialStore(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockCredentialStore {
	m := &MockCredentialStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Exists implements auth.CredentialStore.
func (m *MockCredentialStore) Exists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// Find implements auth.CredentialStore.
func (m *MockCredentialStore) Find(ctx context.Context, email string) (*auth.Credential, error) {
	args := m.Called(ctx, email)
	cred, _ := args.Get(0).(*auth.Credential)
	return cred, args.Error(1)
}

// Create implements auth.CredentialStore.
func (m *MockCredentialStore) Create(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	args := m.Called(ctx, cred)
	created, _ := args.Get(0).(*auth.Credential)
	return created, args.Error(1)
}

// UpdatePasswordHash implements auth.CredentialStore.
func (m *MockCredentialStore) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	args := m.Called(ctx, email, passwordHash)
	return args.Error(0)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(password, digest string) bool {
	args := m.Called(password, digest)
	return args.Bool(0)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(digest string) bool {
	args := m.Called(digest)
	return args.Bool(0)
}

// MockNotifier is a mock notify.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a MockNotifier whose expectations are asserted
// when the test ends.
func NewMockNotifier(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockNotifier {
	m := &MockNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Send implements notify.Notifier.
func (m *MockNotifier) Send(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var (
	_ auth.CredentialStore = (*MockCredentialStore)(nil)
	_ auth.PasswordHasher  = (*MockPasswordHasher)(nil)
	_ notify.Notifier      = (*MockNotifier)(nil)
)
