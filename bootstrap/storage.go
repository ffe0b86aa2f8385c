package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"custodian/config"
	"custodian/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite   *storage.SQLite
	Evidence *storage.SQLiteEvidenceStorage
	Results  *storage.SQLiteResultStorage
}

// Close releases the database connections
func (s *StorageComponents) Close() error {
	if s == nil || s.SQLite == nil {
		return nil
	}
	return s.SQLite.Close()
}

// InitSQLite initializes SQLite connection.
func InitSQLite(dbPath string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dbPath, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dbPath)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitStorage opens the database and creates the evidence and result tables.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	dbPath := cfg.GetSQLitePath()
	if err := EnsureDataDirectory(filepath.Dir(dbPath), sugar); err != nil {
		return nil, err
	}

	sqlite, err := InitSQLite(dbPath, sugar)
	if err != nil {
		return nil, err
	}
	if err := sqlite.HealthCheck(ctx); err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("SQLite health check failed: %w", err)
	}

	evidence, err := storage.NewSQLiteEvidenceStorage(sqlite, sugar)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to initialize evidence storage: %w", err)
	}

	results, err := storage.NewSQLiteResultStorage(sqlite, sugar)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to initialize result storage: %w", err)
	}

	return &StorageComponents{
		SQLite:   sqlite,
		Evidence: evidence,
		Results:  results,
	}, nil
}
