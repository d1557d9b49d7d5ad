// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/auth/memstore"
	"github.com/serviautos/serviautos/internal/auth/postgres"
	"github.com/serviautos/serviautos/internal/auth/sqlite"
	"github.com/serviautos/serviautos/internal/config"
	"github.com/serviautos/serviautos/internal/logging"
	"github.com/serviautos/serviautos/internal/notify"
	"github.com/serviautos/serviautos/internal/observability"
	"github.com/serviautos/serviautos/internal/store"
	"github.com/serviautos/serviautos/internal/token"
	"github.com/serviautos/serviautos/internal/web"
	"github.com/serviautos/serviautos/internal/xdg"
	"github.com/serviautos/serviautos/pkg/errutil"
)

const (
	serviceName     = "serviautos"
	shutdownTimeout = 10 * time.Second
	mailFromName    = "ServiAutos"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP API for signup, login and password reset, plus the
metrics and health server when metrics-addr is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until a signal, a server failure, or ctx cancellation.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = openStore
	}
	if deps.HasherFactory == nil {
		deps.HasherFactory = func() auth.PasswordHasher { return auth.NewArgon2idHasher() }
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = newNotifier
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.WebServerFactory == nil {
		deps.WebServerFactory = func(addr string, h *web.Handler) WebServer {
			return web.NewServer(addr, h)
		}
	}

	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logger := logging.SetDefault(serviceName, version, cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting serviautos",
		"http_addr", cfg.HTTPAddr,
		"store", cfg.Store,
		"notifier", cfg.Notifier,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	credentials, closeStore, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return oops.With("operation", "open credential store").Wrap(err)
	}
	defer closeStore()

	notifier, err := deps.NotifierFactory(cfg, logger)
	if err != nil {
		return oops.With("operation", "create notifier").Wrap(err)
	}

	codes := auth.NewCodeRegistry(cfg.CodeTTL,
		auth.WithSweepInterval(cfg.SweepInterval),
		auth.WithRegistryLogger(logger),
	)
	codes.Start(ctx)
	defer func() {
		if err := codes.Close(); err != nil {
			errutil.LogError(logger, "error stopping code sweeper", err)
		}
	}()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load)
		obsServer.TrackPendingCodes(map[string]func() int{
			auth.PurposeRegistration.String():  func() int { return codes.Len(auth.PurposeRegistration) },
			auth.PurposePasswordReset.String(): func() int { return codes.Len(auth.PurposePasswordReset) },
		})
		metrics = obsServer.Metrics()
	}

	wfOpts := []auth.WorkflowOption{auth.WithLogger(logger)}
	if metrics != nil {
		wfOpts = append(wfOpts, auth.WithRecorder(metrics))
	}
	workflow, err := auth.NewWorkflow(auth.WorkflowConfig{AdminEmail: cfg.AdminEmail},
		credentials, codes, deps.HasherFactory(), notifier, wfOpts...)
	if err != nil {
		return oops.With("operation", "create workflow").Wrap(err)
	}

	issuer, err := token.NewIssuer(cfg.TokenSecret, cfg.TokenTTL, cfg.TokenIssuer)
	if err != nil {
		return oops.With("operation", "create token issuer").Wrap(err)
	}

	handlerOpts := []web.Option{web.WithLogger(logger)}
	if metrics != nil {
		handlerOpts = append(handlerOpts, web.WithMetrics(metrics))
	}
	handler, err := web.NewHandler(workflow, issuer, handlerOpts...)
	if err != nil {
		return oops.With("operation", "create http handler").Wrap(err)
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		defer stopServer(obsServer, "observability")
	}

	webServer := deps.WebServerFactory(cfg.HTTPAddr, handler)
	webErrCh, err := webServer.Start()
	if err != nil {
		return oops.With("operation", "start web server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")
	defer stopServer(webServer, "web")

	ready.Store(true)
	cmd.Println("ServiAutos started")
	logger.Info("serviautos ready", "http_addr", webServer.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")
	return nil
}

// stoppable is implemented by both servers.
type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(s stoppable, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// openStore opens the credential store selected by cfg.Store.
func openStore(ctx context.Context, cfg config.Config) (auth.CredentialStore, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultConnectOptions)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to database")
		return postgres.NewCredentialRepository(pool), pool.Close, nil
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := xdg.EnsureDir(dir); err != nil {
				return nil, nil, err
			}
		}
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLitePath)
		return repo, func() {
			if err := repo.Close(); err != nil {
				errutil.LogError(slog.Default(), "error closing sqlite database", err)
			}
		}, nil
	case config.StoreMemory:
		slog.Warn("using in-memory credential store; accounts are lost on restart")
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("key", "store").Errorf("unknown store %q", cfg.Store)
	}
}

// newNotifier creates the notifier selected by cfg.Notifier.
func newNotifier(cfg config.Config, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierLog:
		logger.Warn("using log notifier; verification codes are written to the log")
		return notify.NewLogNotifier(logger), nil
	case config.NotifierSMTP:
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: mailFromName,
			TLS:      cfg.SMTPTLS,
			Retries:  cfg.SMTPRetries,
		}, notify.WithSMTPLogger(logger))
	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "notifier").Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
