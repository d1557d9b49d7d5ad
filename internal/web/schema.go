// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/serviautos/serviautos/internal/auth"
)

// SignupPayload is the body of POST /api/auth/signup/request.
type SignupPayload struct {
	Name     string `json:"name" jsonschema:"minLength=1,maxLength=100"`
	LastName string `json:"lastName,omitempty" jsonschema:"maxLength=100"`
	Phone    string `json:"phone,omitempty" jsonschema:"maxLength=100"`
	Address  string `json:"address,omitempty" jsonschema:"maxLength=100"`
	Email    string `json:"email" jsonschema:"minLength=1,maxLength=254"`
	Password string `json:"password" jsonschema:"minLength=1"`
}

// VerifyPayload is the body of POST /api/auth/signup/verify.
type VerifyPayload struct {
	Email string `json:"email" jsonschema:"maxLength=254"`
	Code  string `json:"code" jsonschema:"maxLength=64"`
}

// LoginPayload is the body of POST /api/auth/login.
type LoginPayload struct {
	Email    string `json:"email" jsonschema:"maxLength=254"`
	Password string `json:"password"`
}

// ForgotPasswordPayload is the body of POST /api/auth/forgot-password.
type ForgotPasswordPayload struct {
	Email string `json:"email" jsonschema:"minLength=1,maxLength=254"`
}

// ResetPasswordPayload is the body of POST /api/auth/reset-password.
type ResetPasswordPayload struct {
	Email       string `json:"email" jsonschema:"maxLength=254"`
	Code        string `json:"code" jsonschema:"maxLength=64"`
	NewPassword string `json:"newPassword" jsonschema:"minLength=1"`
}

// Payload schema names.
const (
	SchemaSignup         = "signup"
	SchemaVerify         = "verify"
	SchemaLogin          = "login"
	SchemaForgotPassword = "forgot-password"
	SchemaResetPassword  = "reset-password"
)

var payloads = map[string]struct {
	value any
	title string
}{
	SchemaSignup:         {&SignupPayload{}, "Signup request"},
	SchemaVerify:         {&VerifyPayload{}, "Signup verification"},
	SchemaLogin:          {&LoginPayload{}, "Login"},
	SchemaForgotPassword: {&ForgotPasswordPayload{}, "Forgotten password"},
	SchemaResetPassword:  {&ResetPasswordPayload{}, "Password reset"},
}

// SchemaNames lists the payload schemas in name order.
func SchemaNames() []string {
	names := make([]string, 0, len(payloads))
	for name := range payloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaID returns the $id of the named payload schema.
func SchemaID(name string) string {
	return fmt.Sprintf("https://serviautos.dev/schemas/%s.schema.json", name)
}

// GenerateSchema generates the JSON Schema of the named request payload.
func GenerateSchema(name string) ([]byte, error) {
	p, ok := payloads[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("unknown payload schema %q", name)
	}
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(p.value)

	schema.ID = jsonschema.ID(SchemaID(name))
	schema.Title = "ServiAutos " + p.title
	schema.Description = fmt.Sprintf("Body of the %s request", name)

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("name", name).Wrap(err)
	}
	return data, nil
}

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// schemaError reports a request body that does not match its schema.
type schemaError struct {
	fields []FieldError
}

func (e *schemaError) Error() string {
	if len(e.fields) == 0 {
		return "request body does not match schema"
	}
	f := e.fields[0]
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// validator checks request bodies against the compiled payload schemas.
type validator struct {
	schemas map[string]*jschema.Schema
}

func newValidator() (*validator, error) {
	c := jschema.NewCompiler()
	for name := range payloads {
		data, err := GenerateSchema(name)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		if err := c.AddResource(SchemaID(name), doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
	}

	v := &validator{schemas: make(map[string]*jschema.Schema, len(payloads))}
	for name := range payloads {
		sch, err := c.Compile(SchemaID(name))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// decode validates body against the named schema and unmarshals it into dst.
// Failures wrap auth.ErrInvalidInput.
func (v *validator) decode(name string, body []byte, dst any) error {
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code("REQUEST_MALFORMED").
			Public("request body is not valid JSON").
			Wrap(auth.ErrInvalidInput)
	}
	if err := v.schemas[name].Validate(inst); err != nil {
		se := &schemaError{fields: fieldErrors(err)}
		return oops.Code("REQUEST_INVALID").
			With("schema", name).
			With("fields", se.fields).
			Public(se.Error()).
			Wrapf(auth.ErrInvalidInput, "%s", se.Error())
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code("REQUEST_MALFORMED").
			Public("request body is not valid JSON").
			Wrap(auth.ErrInvalidInput)
	}
	return nil
}

func fieldErrors(err error) []FieldError {
	ve, ok := err.(*jschema.ValidationError) //nolint:errorlint // Validate returns the concrete type
	if !ok {
		return []FieldError{{Message: err.Error()}}
	}
	out := ve.BasicOutput()
	var fields []FieldError
	for _, unit := range out.Errors {
		if unit.Error == nil {
			continue
		}
		fields = append(fields, FieldError{
			Field:   unit.InstanceLocation,
			Message: unit.Error.String(),
		})
	}
	if len(fields) == 0 && out.Error != nil {
		fields = append(fields, FieldError{Field: out.InstanceLocation, Message: out.Error.String()})
	}
	return fields
}
