package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"custodian/core"
	"custodian/ingest"
	"custodian/ledger"
	"custodian/metrics"
	"custodian/storage"
	"custodian/timeline"
	"custodian/util/goroutine"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func rawEvent(offset time.Duration, eventType, description string) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":   core.FormatTimestamp(baseTime.Add(offset)),
		"event_type":  eventType,
		"description": description,
	}
}

func newTestService(t *testing.T, deps Dependencies, opts Options) *AnalysisService {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	svc, err := NewAnalysisService(deps, opts)
	require.NoError(t, err)
	return svc
}

func assertTerminal(t *testing.T, result *core.AnalysisResult) {
	t.Helper()
	require.NotNil(t, result)
	assert.True(t, result.Status.IsTerminal(), "status %s is not terminal", result.Status)
	assert.NotNil(t, result.EndTime)
	ok, err := core.VerifyIntegrity(result)
	require.NoError(t, err)
	assert.True(t, ok, "integrity hash must verify")
}

func TestNewAnalysisService_RequiresSupplier(t *testing.T) {
	_, err := NewAnalysisService(Dependencies{}, DefaultOptions())
	assert.Error(t, err)
}

func TestNewAnalysisService_RejectsInconsistentBounds(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultMaxEvents = 50
	_, err := NewAnalysisService(Dependencies{Supplier: ingest.NewStaticSupplier()}, opts)
	assert.Error(t, err)
}

func TestRunTimelineAnalysis_Completed(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl",
		rawEvent(2*time.Minute, "logout", "session closed"),
		rawEvent(0, "login", "user login"),
		rawEvent(time.Minute, "file_access", "read /etc/shadow"),
		map[string]interface{}{"event_type": "login", "description": "no timestamp"},
	)
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	before := testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("completed"))

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
		Source:       "cases/0042/auth.jsonl",
		Investigator: "j.doe",
	})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusCompleted, result.Status)
	assert.NotEmpty(t, result.AnalysisID)
	require.Len(t, result.EvidenceIDs, 1)
	require.Len(t, result.Events, 3)
	assert.Equal(t, "login", result.Events[0].EventType)
	assert.Equal(t, "file_access", result.Events[1].EventType)
	assert.Equal(t, "logout", result.Events[2].EventType)
	assert.Equal(t, result.EvidenceIDs[0], result.Events[0].Source)

	require.NotNil(t, result.Summary)
	assert.Equal(t, 3, result.Summary.RollUp.TotalEvents)
	assert.Equal(t, 1, result.Metadata["skipped_events"])
	assert.Equal(t, false, result.Metadata["truncated"])
	_, failed := result.Failure()
	assert.False(t, failed)

	chain := svc.Ledger().GetChain()
	require.Len(t, chain, 3)
	assert.Equal(t, core.CustodyActionAcquired, chain[0].Action)
	assert.Equal(t, core.CustodyActionAnalysisStarted, chain[1].Action)
	assert.Equal(t, core.CustodyActionCompleted, chain[2].Action)
	assert.Equal(t, result.AnalysisID, chain[2].Details["analysis_id"])
	assert.Equal(t, result.IntegrityHash, chain[2].Details["integrity_hash"])
	assert.NoError(t, svc.Ledger().VerifyChain())

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("completed")))
	assert.Equal(t, 0, svc.InFlight())
}

func TestRunTimelineAnalysis_MaxEventsCapsAfterSort(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	for i := 19; i >= 0; i-- {
		supplier.Add("exports/events.json",
			rawEvent(time.Duration(i)*time.Minute, "process_start", fmt.Sprintf("process %d", i)))
	}

	opts := DefaultOptions()
	opts.MinMaxEvents = 1
	svc := newTestService(t, Dependencies{Supplier: supplier}, opts)

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
		Source:    "exports/events.json",
		MaxEvents: 5,
	})
	require.NoError(t, err)
	assertTerminal(t, result)

	require.Len(t, result.Events, 5)
	for i, e := range result.Events {
		assert.True(t, e.Timestamp.Equal(baseTime.Add(time.Duration(i)*time.Minute)),
			"event %d should be the %d-th earliest", i, i)
	}
	assert.Equal(t, true, result.Metadata["truncated"])
	assert.Equal(t, 5, result.Metadata["max_events"])
	assert.Equal(t, 20, result.Summary.RollUp.TotalEvents, "summary covers the full timeline")
}

func TestRunTimelineAnalysis_ValidationErrorsTouchNoEvidence(t *testing.T) {
	tests := []struct {
		name  string
		req   *core.AnalysisRequest
		field string
	}{
		{"nil request", nil, ""},
		{"max events below bound", &core.AnalysisRequest{Source: "a.json", MaxEvents: 50}, "max_events"},
		{"max events above bound", &core.AnalysisRequest{Source: "a.json", MaxEvents: 100001}, "max_events"},
		{"traversal", &core.AnalysisRequest{Source: "../secrets.json"}, ""},
		{"end before start", &core.AnalysisRequest{
			Source:    "a.json",
			StartTime: timePtr(baseTime.Add(time.Hour)),
			EndTime:   timePtr(baseTime),
		}, "end_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, Dependencies{Supplier: ingest.NewStaticSupplier()}, DefaultOptions())

			result, err := svc.RunTimelineAnalysis(context.Background(), tt.req)
			assert.Nil(t, result)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrValidation))

			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			if tt.field != "" {
				assert.Equal(t, tt.field, verr.Field)
			}
			assert.Empty(t, svc.Ledger().GetChain(), "rejected requests leave no custody entries")
			assert.Equal(t, 0, svc.InFlight())
		})
	}
}

func TestRunTimelineAnalysis_AdditionalSourceErrorNamesIndex(t *testing.T) {
	svc := newTestService(t, Dependencies{Supplier: ingest.NewStaticSupplier()}, DefaultOptions())

	_, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
		Source:            "a.json",
		AdditionalSources: []interface{}{"../b.json"},
	})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, strings.HasPrefix(verr.Field, "additional_sources[0]."), verr.Field)
}

func TestRunTimelineAnalysis_CapacityRejectsExactlyOne(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	const limit = 3

	entered := make(chan struct{}, limit)
	release := make(chan struct{})
	supplier := ingest.SupplierFunc(func(ctx context.Context, _ core.ForensicsSource) (*ingest.Batch, error) {
		entered <- struct{}{}
		<-release
		return &ingest.Batch{}, nil
	})

	opts := DefaultOptions()
	opts.MaxConcurrent = limit
	svc := newTestService(t, Dependencies{Supplier: supplier}, opts)

	rejectedBefore := testutil.ToFloat64(metrics.CapacityRejections)

	var wg sync.WaitGroup
	results := make(chan *core.AnalysisResult, limit)
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
				Source: fmt.Sprintf("exports/host-%d.json", i),
			})
			assert.NoError(t, err)
			results <- result
		}(i)
	}
	for i := 0; i < limit; i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("analyses did not reach the ingest stage")
		}
	}
	assert.Equal(t, limit, svc.InFlight())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "exports/late.json"})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCapacity))
	var cerr *core.CapacityError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, limit, cerr.Limit)
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(metrics.CapacityRejections))

	close(release)
	wg.Wait()
	close(results)
	for r := range results {
		assertTerminal(t, r)
		assert.Equal(t, core.AnalysisStatusCompleted, r.Status)
	}
	assert.Equal(t, 0, svc.InFlight())
}

func TestRunTimelineAnalysis_SupplierErrorBecomesErrorResult(t *testing.T) {
	supplier := ingest.SupplierFunc(func(context.Context, core.ForensicsSource) (*ingest.Batch, error) {
		return nil, errors.New("export unreadable: password=hunter2")
	})
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusError, result.Status)
	assert.NotNil(t, result.Events)
	assert.Empty(t, result.Events)
	assert.Empty(t, result.Anomalies)
	assert.Nil(t, result.Summary)

	failure, ok := result.Failure()
	require.True(t, ok)
	assert.Equal(t, StageIngest, failure.Stage)
	assert.NotContains(t, failure.Message, "hunter2")
	assert.Contains(t, failure.Message, "REDACTED")

	chain := svc.Ledger().GetChain()
	require.NotEmpty(t, chain)
	last := chain[len(chain)-1]
	assert.Equal(t, core.CustodyActionFailed, last.Action)
	assert.Equal(t, StageIngest, last.Details["stage"])
	assert.Equal(t, result.EvidenceIDs[0], last.EvidenceID)
}

func TestRunTimelineAnalysis_PanicBecomesStageError(t *testing.T) {
	supplier := ingest.SupplierFunc(func(context.Context, core.ForensicsSource) (*ingest.Batch, error) {
		panic("corrupt export")
	})
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusError, result.Status)
	failure, ok := result.Failure()
	require.True(t, ok)
	assert.Equal(t, StageIngest, failure.Stage)
	assert.Contains(t, failure.Message, "corrupt export")
	assert.Equal(t, 0, svc.InFlight())
}

func TestRunTimelineAnalysis_NilBatchIsAnError(t *testing.T) {
	supplier := ingest.SupplierFunc(func(context.Context, core.ForensicsSource) (*ingest.Batch, error) {
		return nil, nil
	})
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assert.Equal(t, core.AnalysisStatusError, result.Status)
}

func TestRunTimelineAnalysis_CorrelatesAcrossSources(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl",
		rawEvent(0, "login", "user login"),
		rawEvent(2*time.Hour, "logout", "user logout"),
	)
	supplier.Add("cases/0042/mem.json",
		rawEvent(10*time.Second, "process_start", "powershell.exe"),
		rawEvent(0, "login", "user login"),
	)
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
		Source: "cases/0042/auth.jsonl",
		AdditionalSources: []interface{}{
			map[string]interface{}{"source_path": "cases/0042/mem.json", "source_type": "memory"},
		},
		CorrelationRules: &core.CorrelationRules{TimeThreshold: 60},
	})
	require.NoError(t, err)
	assertTerminal(t, result)
	require.Equal(t, core.AnalysisStatusCompleted, result.Status)

	require.Len(t, result.EvidenceIDs, 2)
	require.Len(t, result.AdditionalSources, 1)
	assert.Equal(t, core.SourceTypeMemory, result.AdditionalSources[0].SourceType)

	assert.Equal(t, 1, result.Metadata["duplicate_events"])
	require.Len(t, result.Events, 3)

	key := timeline.PairKey(result.EvidenceIDs[0], result.EvidenceIDs[1])
	assert.Equal(t, 1, result.CorrelationMatrix[key])
	assert.True(t, result.Events[0].HasTag(core.CorrelatedTag))
	assert.True(t, result.Events[1].HasTag(core.CorrelatedTag))
	assert.False(t, result.Events[2].HasTag(core.CorrelatedTag))
	assert.Equal(t, float64(60), result.Metadata["correlation_threshold"])

	// acquired x2, analysis_started x2, completed x2
	assert.Len(t, svc.Ledger().GetChain(), 6)
	assert.NoError(t, svc.Ledger().VerifyChain())
}

func TestRunTimelineAnalysis_FiltersEventTypesAndWindow(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl",
		rawEvent(0, "login", "early login"),
		rawEvent(time.Hour, "login", "login"),
		rawEvent(time.Hour+time.Minute, "logout", "logout"),
		rawEvent(3*time.Hour, "login", "late login"),
	)
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{
		Source:     "cases/0042/auth.jsonl",
		EventTypes: []string{"login"},
		StartTime:  timePtr(baseTime.Add(30 * time.Minute)),
		EndTime:    timePtr(baseTime.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	assertTerminal(t, result)

	require.Len(t, result.Events, 1)
	assert.Equal(t, "login", result.Events[0].Description)
	assert.Equal(t, 3, result.Metadata["filtered_events"])
}

type failingEvidenceStore struct {
	mu      sync.Mutex
	entries []core.CustodyEntry
}

func (s *failingEvidenceStore) InsertEvidence(context.Context, *core.EvidenceRecord) error {
	return errors.New("disk full")
}

func (s *failingEvidenceStore) AppendCustody(_ context.Context, entry *core.CustodyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry.Clone())
	return nil
}

func (s *failingEvidenceStore) LastCustodyEntry(context.Context) (*core.CustodyEntry, error) {
	return nil, nil
}

func TestRunTimelineAnalysis_StrictLedgerFailsAtAdmit(t *testing.T) {
	store := &failingEvidenceStore{}
	l := ledger.NewLedger(store, ledger.Options{Strict: true}, nil)
	svc := newTestService(t, Dependencies{Supplier: ingest.NewStaticSupplier(), Ledger: l}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusError, result.Status)
	failure, ok := result.Failure()
	require.True(t, ok)
	assert.Equal(t, StageAdmit, failure.Stage)
	assert.Empty(t, result.EvidenceIDs)

	chain := l.GetChain()
	require.NotEmpty(t, chain)
	last := chain[len(chain)-1]
	assert.Equal(t, core.CustodyActionFailed, last.Action)
	assert.Equal(t, ledger.SentinelEvidenceID, last.EvidenceID)
}

func TestRunTimelineAnalysis_LenientLedgerContinuesWithSentinel(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl", rawEvent(0, "login", "user login"))
	l := ledger.NewLedger(&failingEvidenceStore{}, ledger.Options{}, nil)
	svc := newTestService(t, Dependencies{Supplier: supplier, Ledger: l}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusCompleted, result.Status)
	assert.Equal(t, []string{ledger.SentinelEvidenceID}, result.EvidenceIDs)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "source-1", result.Events[0].Source)
}

func TestRunTimelineAnalysis_MillisecondEpochSkipped(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl",
		rawEvent(0, "login", "user login"),
		rawEvent(time.Minute, "logout", "user logout"),
		map[string]interface{}{"timestamp": "1709287200000", "event_type": "login", "description": "ms epoch"},
	)
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	result, err := svc.RunTimelineAnalysis(context.Background(), &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	assertTerminal(t, result)

	assert.Equal(t, core.AnalysisStatusCompleted, result.Status)
	require.Len(t, result.Events, 2)
	assert.Equal(t, 1, result.Metadata["skipped_events"])
	assert.NotContains(t, result.Metadata, "error")
}

func TestGetResult_CacheThenStore(t *testing.T) {
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "results.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	results, err := storage.NewSQLiteResultStorage(sqlite, nil)
	require.NoError(t, err)
	cache, err := storage.NewResultCache(1)
	require.NoError(t, err)

	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl", rawEvent(0, "login", "user login"))
	svc := newTestService(t, Dependencies{Supplier: supplier, Results: results, Cache: cache}, DefaultOptions())

	ctx := context.Background()
	first, err := svc.RunTimelineAnalysis(ctx, &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)
	second, err := svc.RunTimelineAnalysis(ctx, &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)

	cached, err := svc.GetResult(ctx, second.AnalysisID)
	require.NoError(t, err)
	assert.NotSame(t, second, cached)
	assert.Equal(t, second, cached)

	loaded, err := svc.GetResult(ctx, first.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, first.IntegrityHash, loaded.IntegrityHash)
	ok, err := core.VerifyIntegrity(loaded)
	require.NoError(t, err)
	assert.True(t, ok, "a stored result still verifies")

	_, err = svc.GetResult(ctx, "no-such-analysis")
	assert.True(t, errors.Is(err, ErrResultNotFound))
}

func TestGetResult_ReturnsIndependentCopies(t *testing.T) {
	supplier := ingest.NewStaticSupplier()
	supplier.Add("cases/0042/auth.jsonl",
		rawEvent(0, "login", "user login"),
		rawEvent(time.Minute, "file_access", "read report.docx"),
		rawEvent(2*time.Minute, "logout", "user logout"),
	)
	svc := newTestService(t, Dependencies{Supplier: supplier}, DefaultOptions())

	ctx := context.Background()
	result, err := svc.RunTimelineAnalysis(ctx, &core.AnalysisRequest{Source: "cases/0042/auth.jsonl"})
	require.NoError(t, err)

	// The caller's own result is not the cached one
	result.Events[0].Description = "edited by caller"

	first, err := svc.GetResult(ctx, result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, "user login", first.Events[0].Description)

	first.Status = core.AnalysisStatusRunning
	first.Events[1].Tags = append(first.Events[1].Tags, "edited")
	first.Events = first.Events[:1]
	first.Metadata["raw_events"] = -1
	first.Summary.EventTypes["login"] = 99
	first.EvidenceIDs[0] = "forged"

	second, err := svc.GetResult(ctx, result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, core.AnalysisStatusCompleted, second.Status)
	require.Len(t, second.Events, 3)
	assert.NotContains(t, second.Events[1].Tags, "edited")
	assert.Equal(t, 3, second.Metadata["raw_events"])
	assert.Equal(t, 1, second.Summary.EventTypes["login"])
	assert.NotEqual(t, "forged", second.EvidenceIDs[0])

	ok, err := core.VerifyIntegrity(second)
	require.NoError(t, err)
	assert.True(t, ok, "a returned copy still verifies")
}

func TestGetResult_WithoutStore(t *testing.T) {
	svc := newTestService(t, Dependencies{Supplier: ingest.NewStaticSupplier()}, DefaultOptions())
	_, err := svc.GetResult(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrResultNotFound))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
