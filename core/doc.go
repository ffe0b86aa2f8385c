// Package core defines the domain model of the custodian timeline engine.
//
// # Overview
//
// The core package provides:
//   - Domain types (ForensicsSource, TimelineEvent, EvidenceRecord, CustodyEntry, AnalysisResult)
//   - The Anomaly union and its JSON codec
//   - Source validation and event normalization
//   - Canonical serialization and integrity hashing
//   - The error taxonomy shared by every other package
//
// # Error taxonomy
//
// ValidationError and CapacityError are returned synchronously and reject a
// request before any evidence is touched. StageError and LedgerError describe
// failures that happen mid-run; the orchestrator records them as data in a
// terminal AnalysisResult instead of returning them. Each type matches its
// sentinel (ErrValidation, ErrCapacity, ErrStage, ErrLedger) with errors.Is.
//
// # Timestamps
//
// All timestamps are UTC. ParseTimestamp accepts unix seconds (as digits or
// numbers) and ISO-8601 strings; FormatTimestamp renders RFC3339 with
// nanoseconds, and the two round-trip exactly.
package core
