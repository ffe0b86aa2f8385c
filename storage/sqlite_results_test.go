package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/core"
)

func setupResultStorage(t *testing.T) *SQLiteResultStorage {
	storage, err := NewSQLiteResultStorage(setupTestSQLite(t), nil)
	require.NoError(t, err)
	return storage
}

func testResult(t *testing.T, id string, start time.Time) *core.AnalysisResult {
	end := start.Add(3 * time.Second)
	result := &core.AnalysisResult{
		AnalysisID:  id,
		Source:      core.ForensicsSource{SourceType: core.SourceTypeLog, SourcePath: "exports/auth.jsonl", SourceHash: "ab12"},
		EvidenceIDs: []string{"ev-1"},
		Status:      core.AnalysisStatusCompleted,
		StartTime:   start,
		EndTime:     &end,
		Events: []*core.TimelineEvent{
			{EventID: "e1", Timestamp: start.Add(-time.Hour), EventType: "login", Source: "log-1", Description: "user login",
				Details: map[string]interface{}{"pid": 4242, "user": "alice"}, Confidence: 0.75, Tags: []string{}},
		},
		Anomalies: core.AnomalyList{
			&core.PatternAnomaly{NGram: []string{"login", "file_access", "logout"}, Count: 3, FirstOccurrence: start, FirstEventID: "e1", Severity: core.SeverityLow},
		},
		CorrelationMatrix: map[string]int{},
		Summary:           &core.Summary{EventTypes: map[string]int{"login": 1}},
		Metadata:          map[string]interface{}{"skipped_events": 2, "clamped_confidence": 0},
	}
	hash, err := core.ComputeIntegrityHash(result)
	require.NoError(t, err)
	result.IntegrityHash = hash
	return result
}

func TestSQLiteResultStorage_SaveAndGet(t *testing.T) {
	storage := setupResultStorage(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	saved := testResult(t, "a-1", start)
	require.NoError(t, storage.SaveResult(ctx, saved))

	loaded, err := storage.GetResult(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, saved.IntegrityHash, loaded.IntegrityHash)
	assert.Equal(t, core.AnalysisStatusCompleted, loaded.Status)
	require.Len(t, loaded.Events, 1)
	require.Len(t, loaded.Anomalies, 1)
	assert.Equal(t, core.AnomalyTypePattern, loaded.Anomalies[0].Type())

	ok, err := core.VerifyIntegrity(loaded)
	require.NoError(t, err)
	assert.True(t, ok, "a stored result must still verify after decoding")

	document, err := storage.GetResultDocument(ctx, "a-1")
	require.NoError(t, err)
	_, ok, err = core.VerifyIntegrityJSON(document)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteResultStorage_GetMissing(t *testing.T) {
	storage := setupResultStorage(t)

	_, err := storage.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestSQLiteResultStorage_RejectsRunningResult(t *testing.T) {
	storage := setupResultStorage(t)

	result := testResult(t, "a-1", time.Now().UTC())
	result.Status = core.AnalysisStatusRunning
	assert.Error(t, storage.SaveResult(context.Background(), result))
}

func TestSQLiteResultStorage_ListNewestFirst(t *testing.T) {
	storage := setupResultStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, storage.SaveResult(ctx, testResult(t, id, base.Add(time.Duration(i)*time.Minute))))
	}

	summaries, err := storage.ListResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "a-3", summaries[0].AnalysisID)
	assert.Equal(t, "a-2", summaries[1].AnalysisID)
	assert.Equal(t, 1, summaries[0].EventCount)
	assert.Equal(t, 1, summaries[0].AnomalyCount)
	require.NotNil(t, summaries[0].EndTime)
}

func TestResultCache(t *testing.T) {
	cache, err := NewResultCache(2)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.Add(testResult(t, "a-1", base))
	cache.Add(testResult(t, "a-2", base))
	cache.Add(testResult(t, "a-3", base))
	cache.Add(nil)

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a-1")
	assert.False(t, ok, "oldest entry is evicted")

	result, ok := cache.Get("a-3")
	require.True(t, ok)
	assert.Equal(t, "a-3", result.AnalysisID)
}
