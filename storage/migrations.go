package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration is one versioned schema change. Custody tables are append-only,
// so migrations only move forward.
type Migration struct {
	Version  string // Semantic version (e.g., "1.0.0")
	Name     string
	Up       func(*sql.Tx) error
	Checksum string // drift detection, derived from Version and Name when empty
}

// MigrationRecord represents a row in the schema_migrations table
type MigrationRecord struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationRunner applies registered migrations in version order
type MigrationRunner struct {
	db         *sql.DB
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates a runner and the schema_migrations table
func NewMigrationRunner(db *sql.DB, logger *zap.SugaredLogger) (*MigrationRunner, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	runner := &MigrationRunner{db: db, logger: logger}

	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return runner, nil
}

// Register adds a migration to the runner
func (r *MigrationRunner) Register(m Migration) {
	if m.Checksum == "" {
		m.Checksum = migrationChecksum(m)
	}
	r.migrations = append(r.migrations, m)
}

func migrationChecksum(m Migration) string {
	hash := sha256.Sum256([]byte(m.Version + ":" + m.Name))
	return hex.EncodeToString(hash[:8])
}

// GetAppliedMigrations returns applied migrations in version order
func (r *MigrationRunner) GetAppliedMigrations() ([]MigrationRecord, error) {
	rows, err := r.db.Query(`SELECT version, name, checksum, applied_at, duration_ms FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			rec       MigrationRecord
			appliedAt string
		)
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})
	return records, nil
}

// GetPendingMigrations returns registered migrations not yet applied
func (r *MigrationRunner) GetPendingMigrations() ([]Migration, error) {
	applied, err := r.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]bool, len(applied))
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})
	return pending, nil
}

// RunMigrations applies all pending migrations
func (r *MigrationRunner) RunMigrations() error {
	pending, err := r.GetPendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))
	for _, m := range pending {
		if err := r.runMigration(m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// runMigration applies a single migration within a transaction.
// A panicking Up is rolled back and reported as an error.
func (r *MigrationRunner) runMigration(m Migration) (err error) {
	start := time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("migration panicked: %v", p)
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	_, err = tx.Exec(`
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339Nano), duration)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	r.logger.Infow("Migration applied",
		"version", m.Version,
		"name", m.Name,
		"duration_ms", duration)
	return nil
}

// VerifyIntegrity reports applied migrations whose checksum no longer
// matches the registered one, and applied migrations that are not registered
func (r *MigrationRunner) VerifyIntegrity() ([]string, error) {
	applied, err := r.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	registered := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		registered[m.Version] = m
	}

	var issues []string
	for _, rec := range applied {
		m, ok := registered[rec.Version]
		if !ok {
			issues = append(issues, fmt.Sprintf("migration %s was applied but is not registered", rec.Version))
			continue
		}
		if m.Checksum != rec.Checksum {
			issues = append(issues, fmt.Sprintf("migration %s checksum mismatch: applied=%s, registered=%s",
				rec.Version, rec.Checksum, m.Checksum))
		}
	}
	return issues, nil
}

// compareVersions compares two semantic versions
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	maxLen := len(partsA)
	if len(partsB) > maxLen {
		maxLen = len(partsB)
	}

	for i := 0; i < maxLen; i++ {
		var numA, numB int
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}
		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}
	return 0
}

func execStatements(statements ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// schemaMigrations is the full custodian schema history
func schemaMigrations() []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Name:    "create_evidence_tables",
			Up: execStatements(
				`CREATE TABLE IF NOT EXISTS evidence_records (
					evidence_id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					source_type TEXT NOT NULL,
					source_path TEXT NOT NULL,
					source_hash TEXT NOT NULL DEFAULT '',
					source_json TEXT NOT NULL,
					acquisition_time TEXT NOT NULL,
					investigator TEXT NOT NULL DEFAULT '',
					admitted_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_evidence_records_admitted_at ON evidence_records(admitted_at)`,
				`CREATE INDEX IF NOT EXISTS idx_evidence_records_source_hash ON evidence_records(source_hash)`,
				`CREATE TABLE IF NOT EXISTS custody_entries (
					sequence INTEGER PRIMARY KEY,
					timestamp TEXT NOT NULL,
					action TEXT NOT NULL,
					evidence_id TEXT NOT NULL,
					investigator TEXT NOT NULL DEFAULT '',
					details TEXT NOT NULL,
					prev_hash TEXT NOT NULL,
					entry_hash TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_custody_entries_evidence_id ON custody_entries(evidence_id)`,
			),
		},
		{
			Version: "1.1.0",
			Name:    "custody_append_only",
			Up: execStatements(
				`CREATE TRIGGER IF NOT EXISTS custody_entries_no_update
				BEFORE UPDATE ON custody_entries
				BEGIN
					SELECT RAISE(ABORT, 'custody entries are append-only');
				END`,
				`CREATE TRIGGER IF NOT EXISTS custody_entries_no_delete
				BEFORE DELETE ON custody_entries
				BEGIN
					SELECT RAISE(ABORT, 'custody entries are append-only');
				END`,
			),
		},
		{
			Version: "1.2.0",
			Name:    "create_analysis_results",
			Up: execStatements(
				`CREATE TABLE IF NOT EXISTS analysis_results (
					analysis_id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					investigator TEXT NOT NULL DEFAULT '',
					source_path TEXT NOT NULL,
					start_time TEXT NOT NULL,
					end_time TEXT,
					event_count INTEGER NOT NULL DEFAULT 0,
					anomaly_count INTEGER NOT NULL DEFAULT 0,
					integrity_hash TEXT NOT NULL,
					document TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_analysis_results_start_time ON analysis_results(start_time)`,
				`CREATE INDEX IF NOT EXISTS idx_analysis_results_status ON analysis_results(status)`,
			),
		},
	}
}

// migrateSchema brings db up to the latest schema version
func migrateSchema(db *sql.DB, logger *zap.SugaredLogger) error {
	runner, err := NewMigrationRunner(db, logger)
	if err != nil {
		return err
	}
	for _, m := range schemaMigrations() {
		runner.Register(m)
	}
	if err := runner.RunMigrations(); err != nil {
		return err
	}

	issues, err := runner.VerifyIntegrity()
	if err != nil {
		return err
	}
	for _, issue := range issues {
		logger.Warnw("Schema drift detected", "issue", issue)
	}
	return nil
}
