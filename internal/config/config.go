// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package config loads ServiAutos settings.
//
// Sources are layered, lowest precedence first: built-in defaults, a YAML
// file, SERVIAUTOS_* environment variables, and command-line flags the user
// set explicitly.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/logging"
	"github.com/serviautos/serviautos/internal/notify"
	"github.com/serviautos/serviautos/internal/token"
	"github.com/serviautos/serviautos/internal/xdg"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SERVIAUTOS_"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Notifier backends.
const (
	NotifierSMTP = "smtp"
	NotifierLog  = "log"
)

// Config holds every runtime setting.
type Config struct {
	HTTPAddr    string `koanf:"http_addr" env:"HTTP_ADDR"`
	MetricsAddr string `koanf:"metrics_addr" env:"METRICS_ADDR"`
	LogFormat   string `koanf:"log_format" env:"LOG_FORMAT"`
	LogLevel    string `koanf:"log_level" env:"LOG_LEVEL"`

	Store       string `koanf:"store" env:"STORE"`
	DatabaseURL string `koanf:"database_url" env:"DATABASE_URL"`
	SQLitePath  string `koanf:"sqlite_path" env:"SQLITE_PATH"`

	AdminEmail    string        `koanf:"admin_email" env:"ADMIN_EMAIL"`
	CodeTTL       time.Duration `koanf:"code_ttl" env:"CODE_TTL"`
	SweepInterval time.Duration `koanf:"sweep_interval" env:"SWEEP_INTERVAL"`

	Notifier     string `koanf:"notifier" env:"NOTIFIER"`
	SMTPHost     string `koanf:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int    `koanf:"smtp_port" env:"SMTP_PORT"`
	SMTPUsername string `koanf:"smtp_username" env:"SMTP_USERNAME"`
	SMTPPassword string `koanf:"smtp_password" env:"SMTP_PASSWORD"`
	SMTPFrom     string `koanf:"smtp_from" env:"SMTP_FROM"`
	SMTPTLS      string `koanf:"smtp_tls" env:"SMTP_TLS"`
	SMTPRetries  uint64 `koanf:"smtp_retries" env:"SMTP_RETRIES"`

	TokenSecret string        `koanf:"token_secret" env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `koanf:"token_ttl" env:"TOKEN_TTL"`
	TokenIssuer string        `koanf:"token_issuer" env:"TOKEN_ISSUER"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		MetricsAddr:   "127.0.0.1:9100",
		LogFormat:     "json",
		LogLevel:      "info",
		Store:         StorePostgres,
		SQLitePath:    xdg.DefaultDatabasePath(),
		CodeTTL:       auth.DefaultCodeTTL,
		SweepInterval: time.Minute,
		Notifier:      NotifierSMTP,
		SMTPPort:      notify.DefaultSMTPPort,
		SMTPTLS:       notify.TLSMandatory,
		SMTPRetries:   notify.DefaultSMTPRetries,
		TokenTTL:      token.DefaultTTL,
		TokenIssuer:   token.DefaultIssuer,
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when empty), the environment, and the changed flags in flags (may be nil).
// Flag names use dashes where keys use underscores.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	return cfg, nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// Validate checks that the configuration is usable by serve.
func (c Config) Validate() error {
	if err := c.ValidateLogging(); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return invalid("http_addr", "http_addr is required")
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if _, err := auth.NormalizeEmail(c.AdminEmail); err != nil {
		return invalid("admin_email", "admin_email %q is not a valid address", c.AdminEmail)
	}
	if c.CodeTTL <= 0 {
		return invalid("code_ttl", "code_ttl must be positive, got %s", c.CodeTTL)
	}
	if c.SweepInterval < 0 {
		return invalid("sweep_interval", "sweep_interval must not be negative, got %s", c.SweepInterval)
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierSMTP:
		if c.SMTPHost == "" {
			return invalid("smtp_host", "smtp_host is required for the smtp notifier")
		}
		if c.SMTPFrom == "" {
			return invalid("smtp_from", "smtp_from is required for the smtp notifier")
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			return invalid("smtp_port", "smtp_port must be between 1 and 65535, got %d", c.SMTPPort)
		}
		switch c.SMTPTLS {
		case notify.TLSMandatory, notify.TLSOpportunistic, notify.TLSNone:
		default:
			return invalid("smtp_tls", "smtp_tls must be %q, %q or %q, got %q",
				notify.TLSMandatory, notify.TLSOpportunistic, notify.TLSNone, c.SMTPTLS)
		}
	default:
		return invalid("notifier", "notifier must be %q or %q, got %q", NotifierSMTP, NotifierLog, c.Notifier)
	}

	if len(c.TokenSecret) < token.MinSecretLength {
		return invalid("token_secret", "token_secret must be at least %d bytes", token.MinSecretLength)
	}
	if c.TokenTTL <= 0 {
		return invalid("token_ttl", "token_ttl must be positive, got %s", c.TokenTTL)
	}
	return nil
}

// ValidateLogging checks log_format and log_level.
func (c Config) ValidateLogging() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// ValidateStore checks the store backend and its connection setting.
func (c Config) ValidateStore() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database_url", "database_url is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path", "sqlite_path is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return invalid("store", "store must be %q, %q or %q, got %q",
			StorePostgres, StoreSQLite, StoreMemory, c.Store)
	}
	return nil
}
