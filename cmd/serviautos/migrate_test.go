// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviautos/serviautos/pkg/errutil"
)

type fakeMigrator struct {
	version  uint
	dirty    bool
	pending  []uint
	calls    []string
	steps    []int
	forced   []int
	upErr    error
	closed   bool
	closeErr error
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *fakeMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = append(m.steps, n)
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, nil
}

func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = append(m.forced, v)
	return nil
}

func (m *fakeMigrator) Pending() ([]uint, error) {
	return m.pending, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return m.closeErr
}

func runMigrate(t *testing.T, m *fakeMigrator, factoryErr error, args ...string) (string, string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var gotURL string
	cmd := newMigrateCmdWithDeps(&MigrateDeps{
		MigratorFactory: func(databaseURL string) (Migrator, error) {
			gotURL = databaseURL
			if factoryErr != nil {
				return nil, factoryErr
			}
			return m, nil
		},
	})
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SilenceUsage = true
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil && factoryErr == nil {
		assert.Equal(t, "postgres://db/serviautos", gotURL)
	}
	return out.String(), errOut.String(), err
}

func TestMigrateUp(t *testing.T) {
	t.Run("applies pending", func(t *testing.T) {
		m := &fakeMigrator{pending: []uint{1}}
		out, _, err := runMigrate(t, m, nil, "up", "--database-url", "postgres://db/serviautos")
		require.NoError(t, err)
		assert.Equal(t, []string{"up"}, m.calls)
		assert.Contains(t, out, "Applying 1 migration(s)")
		assert.True(t, m.closed)
	})

	t.Run("nothing pending", func(t *testing.T) {
		m := &fakeMigrator{version: 1}
		out, _, err := runMigrate(t, m, nil, "up", "--database-url", "postgres://db/serviautos")
		require.NoError(t, err)
		assert.Empty(t, m.calls)
		assert.Contains(t, out, "up to date")
	})

	t.Run("failure is returned and migrator closed", func(t *testing.T) {
		m := &fakeMigrator{pending: []uint{1}, upErr: oops.Code("MIGRATION_UP_FAILED").Errorf("boom")}
		_, _, err := runMigrate(t, m, nil, "up", "--database-url", "postgres://db/serviautos")
		errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
		assert.True(t, m.closed)
	})

	t.Run("database url from environment", func(t *testing.T) {
		t.Setenv("SERVIAUTOS_DATABASE_URL", "postgres://db/serviautos")
		m := &fakeMigrator{pending: []uint{1}}
		_, _, err := runMigrate(t, m, nil, "up")
		require.NoError(t, err)
		assert.Equal(t, []string{"up"}, m.calls)
	})
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("SERVIAUTOS_DATABASE_URL", "")
	m := &fakeMigrator{}
	_, _, err := runMigrate(t, m, nil, "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database_url")
	assert.Empty(t, m.calls)
}

func TestMigrate_FactoryFailure(t *testing.T) {
	_, _, err := runMigrate(t, nil, oops.Code("MIGRATION_INIT_FAILED").Errorf("no db"),
		"up", "--database-url", "postgres://db/serviautos")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateDown(t *testing.T) {
	t.Run("one step by default", func(t *testing.T) {
		m := &fakeMigrator{}
		_, _, err := runMigrate(t, m, nil, "down", "--database-url", "postgres://db/serviautos")
		require.NoError(t, err)
		assert.Equal(t, []int{-1}, m.steps)
	})

	t.Run("all", func(t *testing.T) {
		m := &fakeMigrator{}
		_, _, err := runMigrate(t, m, nil, "down", "--all", "--database-url", "postgres://db/serviautos")
		require.NoError(t, err)
		assert.Equal(t, []string{"down"}, m.calls)
	})
}

func TestMigrateVersion(t *testing.T) {
	m := &fakeMigrator{version: 1, dirty: true, pending: []uint{2, 3}}
	out, _, err := runMigrate(t, m, nil, "version", "--database-url", "postgres://db/serviautos")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: 1 (dirty)")
	assert.Contains(t, out, "Pending: 2, 3")
}

func TestMigrateForce(t *testing.T) {
	m := &fakeMigrator{}
	out, _, err := runMigrate(t, m, nil, "force", "1", "--database-url", "postgres://db/serviautos")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, m.forced)
	assert.Contains(t, out, "Forced schema version to 1")

	_, _, err = runMigrate(t, &fakeMigrator{}, nil, "force", "abc", "--database-url", "postgres://db/serviautos")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrate_CloseFailureIsReported(t *testing.T) {
	m := &fakeMigrator{version: 1, closeErr: errors.New("close failed")}
	_, errOut, err := runMigrate(t, m, nil, "version", "--database-url", "postgres://db/serviautos")
	require.NoError(t, err)
	assert.Contains(t, errOut, "close failed")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
		{name: "negative parses", input: "-1", wantVersion: -1},
		{name: "non-numeric", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "3abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, got)
		})
	}
}

func TestFormatVersions(t *testing.T) {
	assert.Equal(t, "none", formatVersions(nil))
	assert.Equal(t, "1, 2", formatVersions([]uint{1, 2}))
}
