// Package ingest supplies the raw event records an analysis normalizes.
//
// Artifact parsing (disk images, memory dumps, registry hives) happens
// upstream; suppliers only hand over already-extracted records.
package ingest

import (
	"context"
	"sync"

	"custodian/core"
)

// Batch is the output of one supply call. An empty Records slice with a nil
// error means the source genuinely had no events.
type Batch struct {
	Records []map[string]interface{}
	Format  string
	// Malformed counts records the supplier could not decode
	Malformed int
	// Truncated is set when the supplier stopped at its record limit
	Truncated bool
}

// Supplier returns the raw event records extracted from a validated source
type Supplier interface {
	Supply(ctx context.Context, source core.ForensicsSource) (*Batch, error)
}

// SupplierFunc adapts a function to the Supplier interface
type SupplierFunc func(ctx context.Context, source core.ForensicsSource) (*Batch, error)

// Supply calls f
func (f SupplierFunc) Supply(ctx context.Context, source core.ForensicsSource) (*Batch, error) {
	return f(ctx, source)
}

// StaticSupplier serves records registered in memory, keyed by source path.
// Unknown paths yield an empty batch.
type StaticSupplier struct {
	mu      sync.RWMutex
	records map[string][]map[string]interface{}
}

// NewStaticSupplier creates an empty in-memory supplier
func NewStaticSupplier() *StaticSupplier {
	return &StaticSupplier{records: make(map[string][]map[string]interface{})}
}

// Add registers records for a source path, appending to any already present
func (s *StaticSupplier) Add(sourcePath string, records ...map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[sourcePath] = append(s.records[sourcePath], core.CloneDetails(r))
	}
}

// Supply returns copies of the records registered for source.SourcePath
func (s *StaticSupplier) Supply(ctx context.Context, source core.ForensicsSource) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.records[source.SourcePath]
	out := make([]map[string]interface{}, len(stored))
	for i, r := range stored {
		out[i] = core.CloneDetails(r)
	}
	return &Batch{Records: out, Format: "static"}, nil
}
