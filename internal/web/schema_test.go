// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package web

import (
	"encoding/json"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/pkg/errutil"
)

func TestSchemaNames(t *testing.T) {
	assert.Equal(t, []string{
		SchemaForgotPassword,
		SchemaLogin,
		SchemaResetPassword,
		SchemaSignup,
		SchemaVerify,
	}, SchemaNames())
}

func TestGenerateSchema(t *testing.T) {
	for _, name := range SchemaNames() {
		t.Run(name, func(t *testing.T) {
			data, err := GenerateSchema(name)
			require.NoError(t, err)

			var doc map[string]any
			require.NoError(t, json.Unmarshal(data, &doc))
			assert.Equal(t, SchemaID(name), doc["$id"])
			assert.Equal(t, "object", doc["type"])
			assert.Equal(t, false, doc["additionalProperties"])
			assert.NotEmpty(t, doc["required"])
		})
	}

	t.Run("signup requires name email and password", func(t *testing.T) {
		data, err := GenerateSchema(SchemaSignup)
		require.NoError(t, err)
		var doc struct {
			Required []string `json:"required"`
		}
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.ElementsMatch(t, []string{"name", "email", "password"}, doc.Required)
	})

	t.Run("reset uses camelCase", func(t *testing.T) {
		data, err := GenerateSchema(SchemaResetPassword)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"newPassword"`)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := GenerateSchema("nope")
		errutil.AssertErrorCode(t, err, "SCHEMA_UNKNOWN")
	})
}

func TestValidatorDecode(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	t.Run("valid body", func(t *testing.T) {
		var p ResetPasswordPayload
		err := v.decode(SchemaResetPassword,
			[]byte(`{"email":"a@x.com","code":"123456","newPassword":"pw"}`), &p)
		require.NoError(t, err)
		assert.Equal(t, ResetPasswordPayload{Email: "a@x.com", Code: "123456", NewPassword: "pw"}, p)
	})

	t.Run("optional profile fields", func(t *testing.T) {
		var p SignupPayload
		err := v.decode(SchemaSignup, []byte(`{"name":"Ana","email":"a@x.com","password":"pw"}`), &p)
		require.NoError(t, err)
		assert.Empty(t, p.Phone)
	})

	t.Run("not json", func(t *testing.T) {
		var p LoginPayload
		err := v.decode(SchemaLogin, []byte(`nope`), &p)
		require.ErrorIs(t, err, auth.ErrInvalidInput)
		errutil.AssertErrorCode(t, err, "REQUEST_MALFORMED")
		assert.Equal(t, "request body is not valid JSON", auth.PublicMessage(err, ""))
	})

	t.Run("schema violation lists fields", func(t *testing.T) {
		var p SignupPayload
		err := v.decode(SchemaSignup,
			[]byte(`{"name":"","email":"a@x.com","password":"pw","extra":1}`), &p)
		require.ErrorIs(t, err, auth.ErrInvalidInput)
		errutil.AssertErrorCode(t, err, "REQUEST_INVALID")
		assert.NotEmpty(t, auth.PublicMessage(err, ""))

		oopsErr, ok := oops.AsOops(err)
		require.True(t, ok)
		fields, ok := oopsErr.Context()["fields"].([]FieldError)
		require.True(t, ok)
		assert.NotEmpty(t, fields)
	})

	t.Run("too long", func(t *testing.T) {
		var p VerifyPayload
		long := make([]byte, 65)
		for i := range long {
			long[i] = '1'
		}
		err := v.decode(SchemaVerify, []byte(`{"email":"a@x.com","code":"`+string(long)+`"}`), &p)
		require.ErrorIs(t, err, auth.ErrInvalidInput)
	})
}

func TestSchemaError(t *testing.T) {
	assert.Equal(t, "request body does not match schema", (&schemaError{}).Error())
	assert.Equal(t, "missing", (&schemaError{fields: []FieldError{{Message: "missing"}}}).Error())
	assert.Equal(t, "/name: too short",
		(&schemaError{fields: []FieldError{{Field: "/name", Message: "too short"}}}).Error())
}
