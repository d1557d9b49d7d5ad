// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package auth implements signup, login, and password reset for ServiAutos.
//
// # Workflow
//
// Workflow coordinates the operations:
//   - RequestSignup stages a pending registration and mails an approval
//     code to the administrator
//   - VerifySignup checks the code and persists the credential
//   - Login authenticates an email and password
//   - RequestPasswordReset and ResetPassword replace a forgotten password
//
// Every failure carries an oops code and wraps one of the sentinel errors
// (ErrConflict, ErrInvalidCode, ...). Use KindOf to classify an error and
// PublicMessage for text safe to show a client.
//
// # Verification Codes
//
// CodeRegistry holds short-lived six-digit codes keyed by purpose and email.
// Codes expire after the registry TTL; Validate never mutates state, and
// entries are removed only after the operation they guard succeeds. A
// background sweeper started with Start evicts expired entries.
//
// # Storage
//
// CredentialStore is implemented by the postgres, sqlite, and memstore
// subpackages. Implementations must map duplicate emails to ErrConflict so
// concurrent verifications resolve to a single credential.
package auth
