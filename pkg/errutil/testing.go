// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that the innermost oops code in err's chain is code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code(), "error: %v", err)
}

// AssertErrorContext asserts that err carries key in its oops context with
// the given value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	got, ok := requireOops(t, err).Context()[key]
	if assert.True(t, ok, "context key %q missing from %v", key, err) {
		assert.Equal(t, value, got, "context key %q", key)
	}
}

// AssertPublicMessage asserts the client-facing message attached to err.
// An empty want asserts that none is attached.
func AssertPublicMessage(t *testing.T, err error, want string) {
	t.Helper()
	requireOops(t, err)
	assert.Equal(t, want, oops.GetPublic(err, ""))
}
