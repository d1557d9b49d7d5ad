// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

// Package xdg resolves ServiAutos paths under the XDG base directories.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "serviautos"

// ConfigFileName is the name of the config file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// DatabaseFileName is the name of the default SQLite database in DataDir.
const DatabaseFileName = "serviautos.db"

func baseDir(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_HOME_UNKNOWN").With("env", env).Wrap(err)
	}
	return filepath.Join(append([]string{home}, fallback...)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/serviautos, defaulting to
// ~/.config/serviautos.
func ConfigDir() (string, error) {
	base, err := baseDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName), nil
}

// DataDir returns $XDG_DATA_HOME/serviautos, defaulting to
// ~/.local/share/serviautos.
func DataDir() (string, error) {
	base, err := baseDir("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName), nil
}

// DefaultConfigFile returns the path of config.yaml in ConfigDir when that
// file exists, or "" otherwise.
func DefaultConfigFile() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// DefaultDatabasePath returns the SQLite database path in DataDir. It falls
// back to the working directory when no home directory can be resolved.
func DefaultDatabasePath() string {
	dir, err := DataDir()
	if err != nil {
		return DatabaseFileName
	}
	return filepath.Join(dir, DatabaseFileName)
}

// EnsureDir creates path and its parents with owner-only permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return oops.Code("XDG_DIR_DENIED").With("path", path).Wrap(err)
		}
		return oops.Code("XDG_DIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
