package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"custodian/core"
)

// ResultSummary is the listing view of a stored analysis result
type ResultSummary struct {
	AnalysisID    string              `json:"analysis_id"`
	Status        core.AnalysisStatus `json:"status"`
	Investigator  string              `json:"investigator,omitempty"`
	SourcePath    string              `json:"source_path"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	EventCount    int                 `json:"event_count"`
	AnomalyCount  int                 `json:"anomaly_count"`
	IntegrityHash string              `json:"integrity_hash"`
}

// SQLiteResultStorage persists terminal analysis results as JSON documents
type SQLiteResultStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteResultStorage creates the result storage over a migrated database
func NewSQLiteResultStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteResultStorage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sqlite == nil || sqlite.WriteDB == nil {
		return nil, ErrDatabaseClosed
	}
	return &SQLiteResultStorage{
		sqlite: sqlite,
		logger: logger,
	}, nil
}

// SaveResult stores a terminal result. Results are written once.
func (s *SQLiteResultStorage) SaveResult(ctx context.Context, result *core.AnalysisResult) error {
	if result == nil {
		return errors.New("nil analysis result")
	}
	if !result.Status.IsTerminal() {
		return fmt.Errorf("cannot persist analysis %s in status %s", result.AnalysisID, result.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	document, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	var endTime interface{}
	if result.EndTime != nil {
		endTime = core.FormatTimestamp(*result.EndTime)
	}

	query := `
		INSERT INTO analysis_results (analysis_id, status, investigator, source_path, start_time, end_time, event_count, anomaly_count, integrity_hash, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.sqlite.WriteDB.ExecContext(ctx, query,
		result.AnalysisID,
		string(result.Status),
		result.Investigator,
		result.Source.SourcePath,
		core.FormatTimestamp(result.StartTime),
		endTime,
		len(result.Events),
		len(result.Anomalies),
		result.IntegrityHash,
		string(document),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis result: %w", err)
	}

	s.logger.Infow("Analysis result stored",
		"analysis_id", result.AnalysisID,
		"status", result.Status,
		"events", len(result.Events))
	return nil
}

// GetResultDocument returns the stored JSON document of a result, byte for byte
func (s *SQLiteResultStorage) GetResultDocument(ctx context.Context, analysisID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var document string
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		"SELECT document FROM analysis_results WHERE analysis_id = ?", analysisID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}
	return []byte(document), nil
}

// GetResult decodes a stored result. Metadata numbers stay json.Number so the
// decoded result still verifies against its integrity hash.
func (s *SQLiteResultStorage) GetResult(ctx context.Context, analysisID string) (*core.AnalysisResult, error) {
	document, err := s.GetResultDocument(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(document))
	dec.UseNumber()
	var result core.AnalysisResult
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis result: %w", err)
	}
	return &result, nil
}

// ListResults returns the most recent results, newest first
func (s *SQLiteResultStorage) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT analysis_id, status, investigator, source_path, start_time, end_time, event_count, anomaly_count, integrity_hash
		FROM analysis_results ORDER BY start_time DESC, analysis_id LIMIT ?
	`
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	defer rows.Close()

	summaries := make([]ResultSummary, 0)
	for rows.Next() {
		var (
			summary         ResultSummary
			status, started string
			ended           sql.NullString
		)
		if err := rows.Scan(&summary.AnalysisID, &status, &summary.Investigator, &summary.SourcePath,
			&started, &ended, &summary.EventCount, &summary.AnomalyCount, &summary.IntegrityHash); err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		summary.Status = core.AnalysisStatus(status)
		if summary.StartTime, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("failed to parse start_time: %w", err)
		}
		if ended.Valid {
			t, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse end_time: %w", err)
			}
			summary.EndTime = &t
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
