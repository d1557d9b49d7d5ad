// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Failure sentinels. Every error returned by Workflow wraps exactly one of
// these, so callers can branch with errors.Is or KindOf.
var (
	// ErrConflict is returned when an email is already registered.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCode is returned for a wrong, unknown or expired code.
	ErrInvalidCode = errors.New("invalid code")
	// ErrNotFound is returned when a credential or pending registration does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when login credentials do not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDeliveryFailure is returned when a notification could not be sent.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind classifies a workflow failure.
type Kind int

// Failure kinds. KindInternal covers everything that is not a typed failure,
// such as a storage outage.
const (
	KindNone Kind = iota
	KindConflict
	KindInvalidCode
	KindNotFound
	KindUnauthorized
	KindDeliveryFailure
	KindInvalidInput
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:            "none",
	KindConflict:        "conflict",
	KindInvalidCode:     "invalid_code",
	KindNotFound:        "not_found",
	KindUnauthorized:    "unauthorized",
	KindDeliveryFailure: "delivery_failure",
	KindInvalidInput:    "invalid_input",
	KindInternal:        "internal",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf returns the failure kind of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrDeliveryFailure):
		return KindDeliveryFailure
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// PublicMessage returns the caller-safe message attached to err, or fallback
// when none was set.
func PublicMessage(err error, fallback string) string {
	return oops.GetPublic(err, fallback)
}

// failure builds a typed workflow error. The sentinel is the only wrapped
// error so the oops code stays stable; the underlying cause, if any, is
// recorded in context for logs.
func failure(code string, sentinel error, operation, public string, cause error) error {
	b := oops.Code(code).
		With("operation", operation).
		Public(public)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrapf(sentinel, "%s", public)
}
