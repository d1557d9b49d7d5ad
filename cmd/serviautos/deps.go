// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/config"
	"github.com/serviautos/serviautos/internal/notify"
	"github.com/serviautos/serviautos/internal/observability"
	"github.com/serviautos/serviautos/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the credential store selected by cfg.Store. The
	// returned func releases it.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg config.Config) (auth.CredentialStore, func(), error)

	// HasherFactory creates the password hasher.
	// Default: auth.NewArgon2idHasher
	HasherFactory func() auth.PasswordHasher

	// NotifierFactory creates the notifier selected by cfg.Notifier.
	// Default: newNotifier
	NotifierFactory func(cfg config.Config, logger *slog.Logger) (notify.Notifier, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// WebServerFactory creates the API server.
	// Default: web.NewServer
	WebServerFactory func(addr string, h *web.Handler) WebServer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	TrackPendingCodes(counts map[string]func() int)
}

// WebServer interface wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

var (
	_ ObservabilityServer = (*observability.Server)(nil)
	_ WebServer           = (*web.Server)(nil)
	_ auth.Recorder       = (*observability.Metrics)(nil)
	_ web.Metrics         = (*observability.Metrics)(nil)
)
