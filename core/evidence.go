package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EvidenceRecord is an admitted source plus the metadata of its admission.
// Records are created once per admitted source and never mutated.
type EvidenceRecord struct {
	EvidenceID      string          `json:"evidence_id"`
	Source          ForensicsSource `json:"source"`
	AcquisitionTime time.Time       `json:"acquisition_time"`
	Investigator    string          `json:"investigator"`
	SessionID       string          `json:"session_id"`
	AdmittedAt      time.Time       `json:"admitted_at"`
}

// Clone returns a copy that shares no pointers with the receiver
func (r EvidenceRecord) Clone() EvidenceRecord {
	out := r
	out.Source = r.Source.Clone()
	return out
}

// CustodyEntry is one immutable link in the chain of custody
type CustodyEntry struct {
	// Sequence is the 1-based position in the ledger
	Sequence     int64                  `json:"sequence"`
	Timestamp    time.Time              `json:"timestamp"`
	Action       CustodyAction          `json:"action"`
	EvidenceID   string                 `json:"evidence_id"`
	Investigator string                 `json:"investigator"`
	Details      map[string]interface{} `json:"details"`
	PrevHash     string                 `json:"prev_hash"`
	EntryHash    string                 `json:"entry_hash"`
}

// Clone deep-copies the entry so callers cannot reach ledger state
func (c CustodyEntry) Clone() CustodyEntry {
	out := c
	out.Details = CloneDetails(c.Details)
	return out
}

// ComputeHash hashes the canonical form of the entry, chained to PrevHash.
// EntryHash itself does not participate.
func (c CustodyEntry) ComputeHash() (string, error) {
	details := c.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	payload := map[string]interface{}{
		"sequence":     c.Sequence,
		"timestamp":    FormatTimestamp(c.Timestamp),
		"action":       string(c.Action),
		"evidence_id":  c.EvidenceID,
		"investigator": c.Investigator,
		"details":      details,
		"prev_hash":    c.PrevHash,
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CloneDetails deep-copies a details map. Nested maps and slices are copied; scalars are shared.
func CloneDetails(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneDetails(t)
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}
