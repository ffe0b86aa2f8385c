package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"custodian/core"
	"custodian/ledger"
)

// SQLiteEvidenceStorage persists evidence records and the custody chain.
// It satisfies ledger.Store.
type SQLiteEvidenceStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEvidenceStorage creates the evidence storage over a migrated database
func NewSQLiteEvidenceStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteEvidenceStorage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sqlite == nil || sqlite.WriteDB == nil {
		return nil, ErrDatabaseClosed
	}
	return &SQLiteEvidenceStorage{
		sqlite: sqlite,
		logger: logger,
	}, nil
}

// InsertEvidence stores an evidence record
func (s *SQLiteEvidenceStorage) InsertEvidence(ctx context.Context, record *core.EvidenceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sourceJSON, err := json.Marshal(record.Source)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence source: %w", err)
	}

	query := `
		INSERT INTO evidence_records (evidence_id, session_id, source_type, source_path, source_hash, source_json, acquisition_time, investigator, admitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.sqlite.WriteDB.ExecContext(ctx, query,
		record.EvidenceID,
		record.SessionID,
		string(record.Source.SourceType),
		record.Source.SourcePath,
		record.Source.SourceHash,
		string(sourceJSON),
		core.FormatTimestamp(record.AcquisitionTime),
		record.Investigator,
		core.FormatTimestamp(record.AdmittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}

	s.logger.Infow("Evidence record stored",
		"evidence_id", record.EvidenceID,
		"source_path", record.Source.SourcePath)
	return nil
}

// GetEvidence retrieves an evidence record by id
func (s *SQLiteEvidenceStorage) GetEvidence(ctx context.Context, evidenceID string) (*core.EvidenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT evidence_id, session_id, source_json, acquisition_time, investigator, admitted_at
		FROM evidence_records WHERE evidence_id = ?
	`
	record, err := scanEvidence(s.sqlite.ReadDB.QueryRowContext(ctx, query, evidenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return record, nil
}

// ListEvidence returns the most recently admitted evidence records
func (s *SQLiteEvidenceStorage) ListEvidence(ctx context.Context, limit int) ([]*core.EvidenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT evidence_id, session_id, source_json, acquisition_time, investigator, admitted_at
		FROM evidence_records ORDER BY admitted_at DESC, evidence_id LIMIT ?
	`
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	records := make([]*core.EvidenceRecord, 0)
	for rows.Next() {
		record, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// AppendCustody stores one custody entry. Sequences are unique.
func (s *SQLiteEvidenceStorage) AppendCustody(ctx context.Context, entry *core.CustodyEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal custody details: %w", err)
	}

	query := `
		INSERT INTO custody_entries (sequence, timestamp, action, evidence_id, investigator, details, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.sqlite.WriteDB.ExecContext(ctx, query,
		entry.Sequence,
		core.FormatTimestamp(entry.Timestamp),
		string(entry.Action),
		entry.EvidenceID,
		entry.Investigator,
		string(detailsJSON),
		entry.PrevHash,
		entry.EntryHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %d", ErrDuplicateSequence, entry.Sequence)
		}
		return fmt.Errorf("failed to insert custody entry: %w", err)
	}
	return nil
}

// LastCustodyEntry returns the entry with the highest sequence, or nil when the chain is empty
func (s *SQLiteEvidenceStorage) LastCustodyEntry(ctx context.Context) (*core.CustodyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT sequence, timestamp, action, evidence_id, investigator, details, prev_hash, entry_hash
		FROM custody_entries ORDER BY sequence DESC LIMIT 1
	`
	entry, err := scanCustody(s.sqlite.ReadDB.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last custody entry: %w", err)
	}
	return entry, nil
}

// GetCustodyChain returns every persisted custody entry in sequence order
func (s *SQLiteEvidenceStorage) GetCustodyChain(ctx context.Context) ([]core.CustodyEntry, error) {
	return s.queryCustody(ctx, `
		SELECT sequence, timestamp, action, evidence_id, investigator, details, prev_hash, entry_hash
		FROM custody_entries ORDER BY sequence ASC
	`)
}

// GetCustodyChainForEvidence returns the custody entries of one evidence id in sequence order
func (s *SQLiteEvidenceStorage) GetCustodyChainForEvidence(ctx context.Context, evidenceID string) ([]core.CustodyEntry, error) {
	return s.queryCustody(ctx, `
		SELECT sequence, timestamp, action, evidence_id, investigator, details, prev_hash, entry_hash
		FROM custody_entries WHERE evidence_id = ? ORDER BY sequence ASC
	`, evidenceID)
}

// VerifyCustodyChain re-hashes the whole persisted chain from genesis
func (s *SQLiteEvidenceStorage) VerifyCustodyChain(ctx context.Context) (int, error) {
	chain, err := s.GetCustodyChain(ctx)
	if err != nil {
		return 0, err
	}
	if err := ledger.VerifyEntries(chain, true); err != nil {
		s.logger.Warnw("Custody chain verification failed",
			"entries", len(chain),
			"error", err)
		return len(chain), err
	}
	return len(chain), nil
}

func (s *SQLiteEvidenceStorage) queryCustody(ctx context.Context, query string, args ...interface{}) ([]core.CustodyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query custody entries: %w", err)
	}
	defer rows.Close()

	entries := make([]core.CustodyEntry, 0)
	for rows.Next() {
		entry, err := scanCustody(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custody entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvidence(row rowScanner) (*core.EvidenceRecord, error) {
	var (
		record                          core.EvidenceRecord
		sourceJSON, acquired, admitted string
	)
	if err := row.Scan(&record.EvidenceID, &record.SessionID, &sourceJSON, &acquired, &record.Investigator, &admitted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sourceJSON), &record.Source); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence source: %w", err)
	}
	var err error
	if record.AcquisitionTime, err = time.Parse(time.RFC3339Nano, acquired); err != nil {
		return nil, fmt.Errorf("failed to parse acquisition time: %w", err)
	}
	if record.AdmittedAt, err = time.Parse(time.RFC3339Nano, admitted); err != nil {
		return nil, fmt.Errorf("failed to parse admitted_at: %w", err)
	}
	return &record, nil
}

func scanCustody(row rowScanner) (*core.CustodyEntry, error) {
	var (
		entry                   core.CustodyEntry
		timestamp, action, body string
	)
	if err := row.Scan(&entry.Sequence, &timestamp, &action, &entry.EvidenceID, &entry.Investigator, &body, &entry.PrevHash, &entry.EntryHash); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse custody timestamp: %w", err)
	}
	entry.Timestamp = ts.UTC()
	entry.Action = core.CustodyAction(action)

	// Numbers stay json.Number so the entry re-hashes byte for byte
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	if err := dec.Decode(&entry.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custody details: %w", err)
	}
	return &entry, nil
}
