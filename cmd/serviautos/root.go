// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/serviautos/serviautos/internal/config"
	"github.com/serviautos/serviautos/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ServiAutos CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serviautos",
		Short: "ServiAutos - account service for the ServiAutos workshop",
		Long: `ServiAutos serves admin-gated signup, login and password reset.
New accounts are approved by an administrator who receives a one-time
verification code by email.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterLoggingFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// resolveConfigFile returns --config, or config.yaml under the XDG config
// directory when the flag is unset and that file exists.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.DefaultConfigFile()
}
