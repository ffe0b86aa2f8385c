package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching against the typed errors below
var (
	// ErrValidation matches any *ValidationError
	ErrValidation = errors.New("validation failed")

	// ErrCapacity matches any *CapacityError
	ErrCapacity = errors.New("analysis capacity exceeded")

	// ErrStage matches any *StageError
	ErrStage = errors.New("pipeline stage failed")

	// ErrLedger matches any *LedgerError
	ErrLedger = errors.New("evidence ledger failure")
)

// ValidationError reports a malformed request or source descriptor.
// It is returned synchronously, before any evidence is touched.
type ValidationError struct {
	// Field is the request or source field that failed validation
	Field string `json:"field"`
	// Message describes the failure
	Message string `json:"message"`
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CapacityError reports that the concurrent analysis bound was reached.
type CapacityError struct {
	Limit    int `json:"limit"`
	InFlight int `json:"in_flight"`
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("analysis capacity exceeded: %d of %d slots in use", e.InFlight, e.Limit)
}

// Is matches ErrCapacity
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacity
}

// StageError reports a pipeline failure mid-run. The orchestrator never returns it
// directly; it is folded into a terminal error-status AnalysisResult.
type StageError struct {
	Stage string
	Err   error
}

// NewStageError wraps err as a failure of the named stage
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStage
func (e *StageError) Is(target error) bool {
	return target == ErrStage
}

// LedgerError reports a custody or evidence-store failure. It is logged and
// degrades gracefully unless the ledger runs in strict mode.
type LedgerError struct {
	Op         string
	EvidenceID string
	Err        error
}

func (e *LedgerError) Error() string {
	if e.EvidenceID != "" {
		return fmt.Sprintf("ledger %s failed for evidence %s: %v", e.Op, e.EvidenceID, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches ErrLedger
func (e *LedgerError) Is(target error) bool {
	return target == ErrLedger
}
