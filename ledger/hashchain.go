package ledger

import (
	"fmt"

	"custodian/core"
)

// BreakType categorizes a detected break in the custody hash chain
type BreakType string

const (
	BreakTypeHashMismatch    BreakType = "hash_mismatch"
	BreakTypeMissingPrevious BreakType = "missing_previous"
	BreakTypeSequenceGap     BreakType = "sequence_gap"
	BreakTypeBadGenesis      BreakType = "bad_genesis"
)

// ChainBreakError reports the first entry at which a custody chain fails verification
type ChainBreakError struct {
	Sequence  int64
	BreakType BreakType
	Expected  string
	Actual    string
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("custody chain broken at sequence %d (%s): expected %q, got %q",
		e.Sequence, e.BreakType, e.Expected, e.Actual)
}

// VerifyEntries checks that each entry's hash matches its content and links to
// its predecessor. With fromGenesis the first entry must be sequence 1 with an
// empty PrevHash; otherwise the first entry's PrevHash is trusted as the anchor.
func VerifyEntries(entries []core.CustodyEntry, fromGenesis bool) error {
	for i, entry := range entries {
		switch {
		case i == 0 && fromGenesis:
			if entry.Sequence != 1 || entry.PrevHash != "" {
				return &ChainBreakError{
					Sequence:  entry.Sequence,
					BreakType: BreakTypeBadGenesis,
					Expected:  "sequence 1 with empty prev_hash",
					Actual:    fmt.Sprintf("sequence %d prev_hash %q", entry.Sequence, entry.PrevHash),
				}
			}
		case i > 0:
			prev := entries[i-1]
			if entry.Sequence != prev.Sequence+1 {
				return &ChainBreakError{
					Sequence:  entry.Sequence,
					BreakType: BreakTypeSequenceGap,
					Expected:  fmt.Sprintf("%d", prev.Sequence+1),
					Actual:    fmt.Sprintf("%d", entry.Sequence),
				}
			}
			if entry.PrevHash != prev.EntryHash {
				return &ChainBreakError{
					Sequence:  entry.Sequence,
					BreakType: BreakTypeMissingPrevious,
					Expected:  prev.EntryHash,
					Actual:    entry.PrevHash,
				}
			}
		}

		computed, err := entry.ComputeHash()
		if err != nil {
			return fmt.Errorf("failed to hash custody entry %d: %w", entry.Sequence, err)
		}
		if computed != entry.EntryHash {
			return &ChainBreakError{
				Sequence:  entry.Sequence,
				BreakType: BreakTypeHashMismatch,
				Expected:  computed,
				Actual:    entry.EntryHash,
			}
		}
	}
	return nil
}
