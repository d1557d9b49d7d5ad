// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/serviautos/serviautos/internal/notify"
)

// Operation names used in error context, logs and metrics.
const (
	OpRequestSignup        = "request_signup"
	OpVerifySignup         = "verify_signup"
	OpLogin                = "login"
	OpRequestPasswordReset = "request_password_reset"
	OpResetPassword        = "reset_password"
)

// Public messages. They never reveal whether an account exists beyond what
// the operation inherently discloses.
const (
	msgEmailRegistered    = "email is already registered"
	msgInvalidCode        = "invalid or expired verification code"
	msgAccountNotFound    = "no account for this email"
	msgInvalidCredentials = "invalid email or password"
	msgDeliveryFailed     = "could not deliver the verification code"
)

// dummyPasswordHash is verified when a user doesn't exist so that login
// takes the same time either way. It never matches any password. Hashers
// that implement dummyDigester supply one matching their own cost instead.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type dummyDigester interface {
	DummyDigest() string
}

func dummyDigestFor(hasher PasswordHasher) string {
	if d, ok := hasher.(dummyDigester); ok {
		return d.DummyDigest()
	}
	return dummyPasswordHash
}

// Recorder observes workflow outcomes. Outcome is "ok" or a Kind name.
type Recorder interface {
	RecordOperation(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}

// WorkflowConfig holds the values the workflow needs from configuration.
type WorkflowConfig struct {
	// AdminEmail receives signup verification codes.
	AdminEmail string
}

// Workflow orchestrates admin-gated signup, login and password reset.
type Workflow struct {
	store    CredentialStore
	codes    *CodeRegistry
	hasher   PasswordHasher
	dummy    string
	notifier notify.Notifier
	admin    string
	clock    func() time.Time
	logger   *slog.Logger
	recorder Recorder
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowClock sets the time source used for credential timestamps.
func WithWorkflowClock(clock func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		w.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) WorkflowOption {
	return func(w *Workflow) {
		w.recorder = r
	}
}

// NewWorkflow creates a Workflow. All collaborators are required.
func NewWorkflow(
	cfg WorkflowConfig,
	store CredentialStore,
	codes *CodeRegistry,
	hasher PasswordHasher,
	notifier notify.Notifier,
	opts ...WorkflowOption,
) (*Workflow, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("credential store is required")
	}
	if codes == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("code registry is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("notifier is required")
	}
	admin, err := NormalizeEmail(cfg.AdminEmail)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").With("field", "admin_email").Wrap(err)
	}

	w := &Workflow{
		store:    store,
		codes:    codes,
		hasher:   hasher,
		dummy:    dummyDigestFor(hasher),
		notifier: notifier,
		admin:    admin,
		clock:    time.Now,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Workflow) finish(operation string, err error) error {
	if err == nil {
		w.recorder.RecordOperation(operation, "ok")
		return nil
	}
	w.recorder.RecordOperation(operation, KindOf(err).String())
	return err
}

func invalidInput(operation string, err error) error {
	return failure("AUTH_INVALID_INPUT", ErrInvalidInput, operation,
		PublicMessage(err, err.Error()), err)
}

// RequestSignup stages a signup and sends its verification code to the
// administrator. Any earlier pending signup for the same email is replaced.
func (w *Workflow) RequestSignup(ctx context.Context, req SignupRequest) error {
	return w.finish(OpRequestSignup, w.requestSignup(ctx, req))
}

func (w *Workflow) requestSignup(ctx context.Context, req SignupRequest) error {
	req, err := req.Validate()
	if err != nil {
		return invalidInput(OpRequestSignup, err)
	}

	exists, err := w.store.Exists(ctx, req.Email)
	if err != nil {
		return oops.Code("AUTH_STORE_FAILED").
			With("operation", OpRequestSignup).
			Wrap(err)
	}
	if exists {
		return failure("AUTH_CONFLICT", ErrConflict, OpRequestSignup, msgEmailRegistered, nil)
	}

	code, err := w.codes.IssueRegistrationCode(req.Email, req)
	if err != nil {
		return oops.Code("AUTH_CODE_FAILED").
			With("operation", OpRequestSignup).
			Wrap(err)
	}

	msg := notify.SignupApproval(w.admin, req.Email, code, w.codes.TTL())
	if err := w.notifier.Send(ctx, msg); err != nil {
		// Drop the staged entry unless a newer request already replaced it.
		w.codes.RemoveRegistrationIfCode(req.Email, code)
		w.logger.WarnContext(ctx, "signup notification failed",
			"email", req.Email, "error", err)
		return failure("AUTH_DELIVERY_FAILED", ErrDeliveryFailure, OpRequestSignup, msgDeliveryFailed, err)
	}

	w.logger.InfoContext(ctx, "signup requested", "email", req.Email)
	return nil
}

// VerifySignup promotes the pending signup for email into a credential when
// code is valid. The pending entry is removed only after the credential has
// been stored, so a storage failure leaves it retryable.
func (w *Workflow) VerifySignup(ctx context.Context, email, code string) (*Credential, error) {
	cred, err := w.verifySignup(ctx, email, code)
	return cred, w.finish(OpVerifySignup, err)
}

func (w *Workflow) verifySignup(ctx context.Context, email, code string) (*Credential, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, invalidInput(OpVerifySignup, err)
	}

	pending, ok := w.codes.VerifiedRegistration(email, code)
	if !ok {
		return nil, failure("AUTH_INVALID_CODE", ErrInvalidCode, OpVerifySignup, msgInvalidCode, nil)
	}

	hash, err := w.hasher.Hash(pending.Password)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").
			With("operation", OpVerifySignup).
			Wrap(err)
	}

	cred, err := NewCredential(email, hash, pending.Profile, w.clock())
	if err != nil {
		return nil, invalidInput(OpVerifySignup, err)
	}

	created, err := w.store.Create(ctx, cred)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, failure("AUTH_CONFLICT", ErrConflict, OpVerifySignup, msgEmailRegistered, err)
		}
		return nil, oops.Code("AUTH_STORE_FAILED").
			With("operation", OpVerifySignup).
			Wrap(err)
	}

	w.codes.RemoveRegistrationIfCode(email, code)
	w.logger.InfoContext(ctx, "signup verified", "email", email, "credential_id", created.ID.String())
	return created, nil
}

// Login checks email and password and returns the matching credential.
// Unknown email and wrong password produce the same public error.
func (w *Workflow) Login(ctx context.Context, email, password string) (*Credential, error) {
	cred, err := w.login(ctx, email, password)
	return cred, w.finish(OpLogin, err)
}

func (w *Workflow) login(ctx context.Context, email, password string) (*Credential, error) {
	normalized, normErr := NormalizeEmail(email)

	var cred *Credential
	if normErr == nil {
		found, err := w.store.Find(ctx, normalized)
		switch {
		case err == nil:
			cred = found
		case errors.Is(err, ErrNotFound):
		default:
			return nil, oops.Code("AUTH_STORE_FAILED").
				With("operation", OpLogin).
				Wrap(err)
		}
	}

	// Always verify so response time does not reveal whether the user exists.
	target := w.dummy
	if cred != nil {
		target = cred.PasswordHash
	}
	valid := w.hasher.Verify(password, target)

	if cred == nil {
		w.logger.InfoContext(ctx, "login failed", "reason", "user not found")
		return nil, unauthorized("user not found")
	}
	if !valid {
		w.logger.InfoContext(ctx, "login failed", "reason", "bad password", "email", normalized)
		return nil, unauthorized("bad password")
	}

	if w.hasher.NeedsUpgrade(cred.PasswordHash) {
		w.upgradeHash(ctx, cred, password)
	}
	return cred, nil
}

func unauthorized(reason string) error {
	return oops.Code("AUTH_UNAUTHORIZED").
		With("operation", OpLogin).
		With("reason", reason).
		Public(msgInvalidCredentials).
		Wrapf(ErrUnauthorized, "%s", msgInvalidCredentials)
}

// upgradeHash rehashes a legacy digest. Failures are logged and otherwise
// ignored; the login already succeeded.
func (w *Workflow) upgradeHash(ctx context.Context, cred *Credential, password string) {
	hash, err := w.hasher.Hash(password)
	if err != nil {
		w.logger.WarnContext(ctx, "password hash upgrade failed", "email", cred.Email, "error", err)
		return
	}
	if err := w.store.UpdatePasswordHash(ctx, cred.Email, hash); err != nil {
		w.logger.WarnContext(ctx, "password hash upgrade failed", "email", cred.Email, "error", err)
		return
	}
	cred.PasswordHash = hash
	w.logger.DebugContext(ctx, "password hash upgraded", "email", cred.Email)
}

// RequestPasswordReset sends a reset code to the account's own address.
// No code is issued when the account does not exist.
func (w *Workflow) RequestPasswordReset(ctx context.Context, email string) error {
	return w.finish(OpRequestPasswordReset, w.requestPasswordReset(ctx, email))
}

func (w *Workflow) requestPasswordReset(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return invalidInput(OpRequestPasswordReset, err)
	}

	exists, err := w.store.Exists(ctx, email)
	if err != nil {
		return oops.Code("AUTH_STORE_FAILED").
			With("operation", OpRequestPasswordReset).
			Wrap(err)
	}
	if !exists {
		return failure("AUTH_NOT_FOUND", ErrNotFound, OpRequestPasswordReset, msgAccountNotFound, nil)
	}

	code, err := w.codes.IssuePasswordResetCode(email)
	if err != nil {
		return oops.Code("AUTH_CODE_FAILED").
			With("operation", OpRequestPasswordReset).
			Wrap(err)
	}

	if err := w.notifier.Send(ctx, notify.PasswordReset(email, code, w.codes.TTL())); err != nil {
		w.codes.RemovePasswordResetIfCode(email, code)
		w.logger.WarnContext(ctx, "password reset notification failed",
			"email", email, "error", err)
		return failure("AUTH_DELIVERY_FAILED", ErrDeliveryFailure, OpRequestPasswordReset, msgDeliveryFailed, err)
	}

	w.logger.InfoContext(ctx, "password reset requested", "email", email)
	return nil
}

// ResetPassword replaces the password of email when code is a live reset
// code. The code is spent on success.
func (w *Workflow) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return w.finish(OpResetPassword, w.resetPassword(ctx, email, code, newPassword))
}

func (w *Workflow) resetPassword(ctx context.Context, email, code, newPassword string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return invalidInput(OpResetPassword, err)
	}

	if !w.codes.Validate(PurposePasswordReset, email, code) {
		return failure("AUTH_INVALID_CODE", ErrInvalidCode, OpResetPassword, msgInvalidCode, nil)
	}

	if err := ValidatePassword(newPassword); err != nil {
		return invalidInput(OpResetPassword, err)
	}

	hash, err := w.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").
			With("operation", OpResetPassword).
			Wrap(err)
	}

	if err := w.store.UpdatePasswordHash(ctx, email, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return failure("AUTH_NOT_FOUND", ErrNotFound, OpResetPassword, msgAccountNotFound, err)
		}
		return oops.Code("AUTH_STORE_FAILED").
			With("operation", OpResetPassword).
			Wrap(err)
	}

	w.codes.RemovePasswordResetIfCode(email, code)
	w.logger.InfoContext(ctx, "password reset", "email", email)
	return nil
}
