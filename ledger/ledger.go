// Package ledger keeps the append-only chain of custody for admitted evidence.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"custodian/core"
	"custodian/metrics"
)

// SentinelEvidenceID is returned by Admit when the evidence could not be recorded
const SentinelEvidenceID = "evidence-unrecorded"

// Store persists evidence records and custody entries.
// AppendCustody is always called in ledger order, under the ledger's writer lock.
type Store interface {
	InsertEvidence(ctx context.Context, record *core.EvidenceRecord) error
	AppendCustody(ctx context.Context, entry *core.CustodyEntry) error
	// LastCustodyEntry returns the tail of the persisted chain, or nil when empty
	LastCustodyEntry(ctx context.Context) (*core.CustodyEntry, error)
}

// Options configures a Ledger
type Options struct {
	// Strict returns admission failures as *core.LedgerError instead of the sentinel id
	Strict bool
	// Now overrides the clock (tests)
	Now func() time.Time
}

// Ledger is the append-only chain of custody. It is safe for concurrent use;
// appends are serialized so custody order matches insertion order.
type Ledger struct {
	mu        sync.RWMutex
	evidence  map[string]core.EvidenceRecord
	chain     []core.CustodyEntry
	nextSeq   int64
	tailHash  string
	store     Store
	sessionID string
	strict    bool
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewLedger creates a ledger. store may be nil for an in-memory ledger.
func NewLedger(store Store, opts Options, logger *zap.SugaredLogger) *Ledger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		evidence:  make(map[string]core.EvidenceRecord),
		chain:     make([]core.CustodyEntry, 0),
		nextSeq:   1,
		store:     store,
		sessionID: uuid.New().String(),
		strict:    opts.Strict,
		now:       now,
		logger:    logger,
	}
}

// Resume continues the hash chain from the tail of the persisted store, so
// entries written by this process extend the chain left by earlier ones.
// It must be called before the first append.
func (l *Ledger) Resume(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	tail, err := l.store.LastCustodyEntry(ctx)
	if err != nil {
		return &core.LedgerError{Op: "resume", Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.chain) > 0 {
		return &core.LedgerError{Op: "resume", Err: errors.New("ledger already has entries")}
	}
	if tail != nil {
		l.nextSeq = tail.Sequence + 1
		l.tailHash = tail.EntryHash
		l.logger.Infow("Resumed custody chain",
			"sequence", tail.Sequence,
			"session_id", l.sessionID)
	}
	return nil
}

// SessionID identifies this ledger instance on every evidence record
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Admit records a validated source as evidence and appends an acquired entry.
//
// On failure the ledger logs, counts the failure, appends a failed entry for
// the sentinel id and returns SentinelEvidenceID, so the analysis can proceed.
// In strict mode the failure is returned as *core.LedgerError instead.
func (l *Ledger) Admit(ctx context.Context, source core.ForensicsSource, investigator string) (string, error) {
	if investigator == "" {
		investigator = source.Investigator
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return l.admitFailed(ctx, source, investigator, &core.LedgerError{Op: "admit", Err: err})
	}
	evidenceID := id.String()

	acquired := l.now().UTC()
	if source.AcquisitionTime != nil {
		acquired = source.AcquisitionTime.UTC()
	}
	record := core.EvidenceRecord{
		EvidenceID:      evidenceID,
		Source:          source.Clone(),
		AcquisitionTime: acquired,
		Investigator:    investigator,
		SessionID:       l.sessionID,
		AdmittedAt:      l.now().UTC(),
	}

	if l.store != nil {
		if err := l.store.InsertEvidence(ctx, &record); err != nil {
			return l.admitFailed(ctx, source, investigator, &core.LedgerError{Op: "admit", EvidenceID: evidenceID, Err: err})
		}
	}

	l.mu.Lock()
	l.evidence[evidenceID] = record
	l.mu.Unlock()

	_, err = l.AppendCustody(ctx, core.CustodyActionAcquired, evidenceID, investigator, map[string]interface{}{
		"source_path": source.SourcePath,
		"source_type": string(source.SourceType),
		"source_hash": source.SourceHash,
	})
	if err != nil && l.strict {
		return "", err
	}

	l.logger.Infow("Evidence admitted",
		"evidence_id", evidenceID,
		"source_type", source.SourceType,
		"investigator", investigator)
	return evidenceID, nil
}

func (l *Ledger) admitFailed(ctx context.Context, source core.ForensicsSource, investigator string, cause *core.LedgerError) (string, error) {
	metrics.LedgerFailures.WithLabelValues(cause.Op).Inc()
	l.logger.Errorw("Failed to admit evidence",
		"source_path", source.SourcePath,
		"error", cause)

	if l.strict {
		return "", cause
	}

	_, _ = l.AppendCustody(ctx, core.CustodyActionFailed, SentinelEvidenceID, investigator, map[string]interface{}{
		"stage":       "admit",
		"source_path": source.SourcePath,
		"error":       cause.Err.Error(),
	})
	return SentinelEvidenceID, nil
}

// AppendCustody appends one immutable entry to the chain. The entry is always
// kept in memory once hashed; a persistence failure is returned as
// *core.LedgerError after the append.
func (l *Ledger) AppendCustody(ctx context.Context, action core.CustodyAction, evidenceID, investigator string, details map[string]interface{}) (core.CustodyEntry, error) {
	if !action.IsValid() {
		return core.CustodyEntry{}, &core.LedgerError{Op: "append", EvidenceID: evidenceID, Err: fmt.Errorf("invalid custody action %q", action)}
	}
	if details == nil {
		details = map[string]interface{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := core.CustodyEntry{
		Sequence:     l.nextSeq,
		Timestamp:    l.now().UTC(),
		Action:       action,
		EvidenceID:   evidenceID,
		Investigator: investigator,
		Details:      core.CloneDetails(details),
		PrevHash:     l.tailHash,
	}
	hash, err := entry.ComputeHash()
	if err != nil {
		metrics.LedgerFailures.WithLabelValues("append").Inc()
		return core.CustodyEntry{}, &core.LedgerError{Op: "append", EvidenceID: evidenceID, Err: err}
	}
	entry.EntryHash = hash

	l.chain = append(l.chain, entry)
	l.nextSeq++
	l.tailHash = hash

	if l.store != nil {
		if err := l.store.AppendCustody(ctx, &entry); err != nil {
			metrics.LedgerFailures.WithLabelValues("append").Inc()
			l.logger.Errorw("Failed to persist custody entry",
				"sequence", entry.Sequence,
				"action", action,
				"evidence_id", evidenceID,
				"error", err)
			return entry.Clone(), &core.LedgerError{Op: "append", EvidenceID: evidenceID, Err: err}
		}
	}

	return entry.Clone(), nil
}

// GetChain returns a deep copy of every entry appended by this ledger
func (l *Ledger) GetChain() []core.CustodyEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.CustodyEntry, len(l.chain))
	for i, entry := range l.chain {
		out[i] = entry.Clone()
	}
	return out
}

// GetChainForEvidence returns a deep copy of the entries for one evidence id
func (l *Ledger) GetChainForEvidence(evidenceID string) []core.CustodyEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.CustodyEntry, 0)
	for _, entry := range l.chain {
		if entry.EvidenceID == evidenceID {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// GetEvidence returns the record admitted under evidenceID
func (l *Ledger) GetEvidence(evidenceID string) (core.EvidenceRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.evidence[evidenceID]
	if !ok {
		return core.EvidenceRecord{}, false
	}
	return record.Clone(), true
}

// VerifyChain recomputes the hash chain of this ledger's entries
func (l *Ledger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyEntries(l.chain, false)
}
