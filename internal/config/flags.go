// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package config

import "github.com/spf13/pflag"

// RegisterServeFlags adds the serve command flags to fs. Defaults shown in
// help come from Default; only flags the user sets override other sources.
func RegisterServeFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTPAddr, "API listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("store", d.Store, "credential store (postgres, sqlite or memory)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("sqlite-path", d.SQLitePath, "SQLite database file")
	fs.String("admin-email", "", "address that receives signup approval codes")
	fs.Duration("code-ttl", d.CodeTTL, "verification code validity window")
	fs.Duration("sweep-interval", d.SweepInterval, "expired code sweep interval (0 = disabled)")
	fs.String("notifier", d.Notifier, "notification transport (smtp or log)")
}

// RegisterLoggingFlags adds the logging flags shared by every command.
func RegisterLoggingFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn or error)")
}
