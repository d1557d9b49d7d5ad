// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package web exposes the auth workflow over HTTP/JSON.
//
// Every response uses the envelope {"error": bool, "message": string,
// "data": any}. Request bodies are validated against the JSON Schemas
// generated from the payload types before they reach the workflow.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/pkg/errutil"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 64 << 10

// Route patterns.
const (
	RouteSignupRequest  = "POST /api/auth/signup/request"
	RouteSignupVerify   = "POST /api/auth/signup/verify"
	RouteLogin          = "POST /api/auth/login"
	RouteForgotPassword = "POST /api/auth/forgot-password"
	RouteResetPassword  = "POST /api/auth/reset-password"
)

const msgInternal = "internal server error"

// Workflow is the auth workflow served by Handler.
type Workflow interface {
	RequestSignup(ctx context.Context, req auth.SignupRequest) error
	VerifySignup(ctx context.Context, email, code string) (*auth.Credential, error)
	Login(ctx context.Context, email, password string) (*auth.Credential, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// TokenIssuer turns an authenticated credential into a bearer token.
type TokenIssuer interface {
	Issue(cred *auth.Credential) (string, time.Time, error)
}

// Metrics records served requests.
type Metrics interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
}

// Envelope is the body of every response.
type Envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// CredentialView is the public projection of a credential. The password
// hash never leaves the server.
type CredentialView struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	LastName     string    `json:"lastName"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// LoginView is the data of a successful login.
type LoginView struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      CredentialView `json:"user"`
}

func viewOf(cred *auth.Credential) CredentialView {
	return CredentialView{
		ID:           cred.ID.String(),
		Email:        cred.Email,
		Name:         cred.Profile.Name,
		LastName:     cred.Profile.LastName,
		Phone:        cred.Profile.Phone,
		Address:      cred.Profile.Address,
		RegisteredAt: cred.RegisteredAt,
	}
}

// Handler serves the auth routes.
type Handler struct {
	wf        Workflow
	tokens    TokenIssuer
	validator *validator
	logger    *slog.Logger
	metrics   Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the request metrics sink.
func WithMetrics(m Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler.
func NewHandler(wf Workflow, tokens TokenIssuer, opts ...Option) (*Handler, error) {
	if wf == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("workflow is required")
	}
	if tokens == nil {
		return nil, oops.Code("WEB_INVALID_DEPENDENCY").Errorf("token issuer is required")
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		wf:        wf,
		tokens:    tokens,
		validator: v,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the HTTP handler with every route and middleware attached.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.handle(mux, RouteSignupRequest, h.signupRequest)
	h.handle(mux, RouteSignupVerify, h.signupVerify)
	h.handle(mux, RouteLogin, h.login)
	h.handle(mux, RouteForgotPassword, h.forgotPassword)
	h.handle(mux, RouteResetPassword, h.resetPassword)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{Error: true, Message: "route not found"})
	})
	return SecurityHeaders(mux)
}

// apiFunc handles one route. It returns the success status and data, or an
// error that is mapped to a status by statusOf.
type apiFunc func(r *http.Request, body []byte) (int, string, any, error)

func (h *Handler) handle(mux *http.ServeMux, route string, fn apiFunc) {
	mux.Handle(route, h.instrument(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, Envelope{Error: true, Message: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, Envelope{Error: true, Message: "could not read request body"})
			return
		}

		status, message, data, err := fn(r, body)
		if err != nil {
			h.writeError(r.Context(), w, route, err)
			return
		}
		writeJSON(w, status, Envelope{Message: message, Data: data})
	})))
}

// statusOf maps a workflow failure to an HTTP status.
func statusOf(err error) int {
	switch auth.KindOf(err) {
	case auth.KindInvalidInput, auth.KindInvalidCode:
		return http.StatusBadRequest
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, route string, err error) {
	status := statusOf(err)
	message := auth.PublicMessage(err, msgInternal)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		if status == http.StatusInternalServerError {
			message = msgInternal
		}
	}
	errutil.LogErrorContext(ctx, h.logger.With("route", route, "status", status), level, "request failed", err)
	writeJSON(w, status, Envelope{Error: true, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(env)
}

func (h *Handler) signupRequest(r *http.Request, body []byte) (int, string, any, error) {
	var p SignupPayload
	if err := h.validator.decode(SchemaSignup, body, &p); err != nil {
		return 0, "", nil, err
	}
	err := h.wf.RequestSignup(r.Context(), auth.SignupRequest{
		Profile: auth.Profile{
			Name:     p.Name,
			LastName: p.LastName,
			Phone:    p.Phone,
			Address:  p.Address,
		},
		Email:    p.Email,
		Password: p.Password,
	})
	if err != nil {
		return 0, "", nil, err
	}
	return http.StatusAccepted, "verification code sent to the administrator", nil, nil
}

func (h *Handler) signupVerify(r *http.Request, body []byte) (int, string, any, error) {
	var p VerifyPayload
	if err := h.validator.decode(SchemaVerify, body, &p); err != nil {
		return 0, "", nil, err
	}
	cred, err := h.wf.VerifySignup(r.Context(), p.Email, p.Code)
	if err != nil {
		return 0, "", nil, err
	}
	return http.StatusCreated, "registration completed", viewOf(cred), nil
}

func (h *Handler) login(r *http.Request, body []byte) (int, string, any, error) {
	var p LoginPayload
	if err := h.validator.decode(SchemaLogin, body, &p); err != nil {
		return 0, "", nil, err
	}
	cred, err := h.wf.Login(r.Context(), p.Email, p.Password)
	if err != nil {
		return 0, "", nil, err
	}
	token, expiresAt, err := h.tokens.Issue(cred)
	if err != nil {
		return 0, "", nil, err
	}
	return http.StatusOK, "login successful", LoginView{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      viewOf(cred),
	}, nil
}

func (h *Handler) forgotPassword(r *http.Request, body []byte) (int, string, any, error) {
	var p ForgotPasswordPayload
	if err := h.validator.decode(SchemaForgotPassword, body, &p); err != nil {
		return 0, "", nil, err
	}
	if err := h.wf.RequestPasswordReset(r.Context(), p.Email); err != nil {
		return 0, "", nil, err
	}
	return http.StatusAccepted, "password reset code sent", nil, nil
}

func (h *Handler) resetPassword(r *http.Request, body []byte) (int, string, any, error) {
	var p ResetPasswordPayload
	if err := h.validator.decode(SchemaResetPassword, body, &p); err != nil {
		return 0, "", nil, err
	}
	if err := h.wf.ResetPassword(r.Context(), p.Email, p.Code, p.NewPassword); err != nil {
		return 0, "", nil, err
	}
	return http.StatusOK, "password updated", nil, nil
}
