package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSQLite_AppliesSchemaMigrations(t *testing.T) {
	sqlite := setupTestSQLite(t)

	runner, err := NewMigrationRunner(sqlite.WriteDB, nil)
	require.NoError(t, err)
	applied, err := runner.GetAppliedMigrations()
	require.NoError(t, err)

	versions := make([]string, 0, len(applied))
	for _, rec := range applied {
		versions = append(versions, rec.Version)
		assert.False(t, rec.AppliedAt.IsZero())
	}
	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.2.0"}, versions)

	for _, table := range []string{"evidence_records", "custody_entries", "analysis_results"} {
		var name string
		err := sqlite.ReadDB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestNewSQLite_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "custodian.db")

	first, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.ReadDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(schemaMigrations()), count)
}

func TestMigrationRunner_OrdersByVersion(t *testing.T) {
	sqlite := setupTestSQLite(t)
	runner, err := NewMigrationRunner(sqlite.WriteDB, nil)
	require.NoError(t, err)

	var order []string
	record := func(v string) func(*sql.Tx) error {
		return func(*sql.Tx) error {
			order = append(order, v)
			return nil
		}
	}
	runner.Register(Migration{Version: "2.10.0", Name: "later", Up: record("2.10.0")})
	runner.Register(Migration{Version: "2.2.0", Name: "earlier", Up: record("2.2.0")})

	require.NoError(t, runner.RunMigrations())
	assert.Equal(t, []string{"2.2.0", "2.10.0"}, order)

	pending, err := runner.GetPendingMigrations()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrationRunner_FailedMigrationRollsBack(t *testing.T) {
	sqlite := setupTestSQLite(t)
	runner, err := NewMigrationRunner(sqlite.WriteDB, nil)
	require.NoError(t, err)

	runner.Register(Migration{
		Version: "9.0.0",
		Name:    "broken",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec("CREATE TABLE half_done (id INTEGER)"); err != nil {
				return err
			}
			return errors.New("boom")
		},
	})
	runner.Register(Migration{
		Version: "9.1.0",
		Name:    "panics",
		Up:      func(*sql.Tx) error { panic("unexpected") },
	})

	err = runner.RunMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "9.0.0")

	var count int
	require.NoError(t, sqlite.WriteDB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE name='half_done'").Scan(&count))
	assert.Zero(t, count)

	err = runner.runMigration(runner.migrations[1])
	assert.ErrorContains(t, err, "migration panicked")
}

func TestMigrationRunner_VerifyIntegrity(t *testing.T) {
	sqlite := setupTestSQLite(t)
	runner, err := NewMigrationRunner(sqlite.WriteDB, nil)
	require.NoError(t, err)

	for _, m := range schemaMigrations() {
		runner.Register(m)
	}
	issues, err := runner.VerifyIntegrity()
	require.NoError(t, err)
	assert.Empty(t, issues)

	runner.migrations[0].Checksum = "changed"
	runner.migrations = runner.migrations[:2]
	issues, err = runner.VerifyIntegrity()
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("1.2.0", "1.10.0"))
	assert.Equal(t, 0, compareVersions("1.0", "1.0.0"))
	assert.Equal(t, 1, compareVersions("2.0.0", "1.9.9"))
}
