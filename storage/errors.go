package storage

import "errors"

// Storage error constants
var (
	// ErrEvidenceNotFound is returned when an evidence record is not found
	ErrEvidenceNotFound = errors.New("evidence not found")

	// ErrAnalysisNotFound is returned when an analysis result is not found
	ErrAnalysisNotFound = errors.New("analysis result not found")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrDuplicateSequence is returned when a custody entry reuses a sequence number
	ErrDuplicateSequence = errors.New("custody sequence already recorded")
)
