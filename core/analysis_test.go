package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisRequest_Validate(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	tests := []struct {
		name    string
		req     *AnalysisRequest
		field   string
		wantErr bool
	}{
		{"minimal", &AnalysisRequest{Source: "exports/auth.jsonl"}, "", false},
		{"nil request", nil, "", true},
		{"missing source", &AnalysisRequest{}, "source", true},
		{"negative max events", &AnalysisRequest{Source: "a.jsonl", MaxEvents: -1}, "max_events", true},
		{"inverted window", &AnalysisRequest{Source: "a.jsonl", StartTime: &start, EndTime: &before}, "end_time", true},
		{"threshold too large", &AnalysisRequest{Source: "a.jsonl", CorrelationRules: &CorrelationRules{TimeThreshold: 90000}}, "time_threshold", true},
		{"empty event type", &AnalysisRequest{Source: "a.jsonl", EventTypes: []string{"login", ""}}, "", true},
		{"investigator too long", &AnalysisRequest{Source: "a.jsonl", Investigator: strings.Repeat("x", 201)}, "investigator", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			if tt.field != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}

func TestAnalysisRequest_FiltersAllTypes(t *testing.T) {
	assert.True(t, (&AnalysisRequest{}).FiltersAllTypes())
	assert.True(t, (&AnalysisRequest{EventTypes: []string{"login", EventTypeFilterAll}}).FiltersAllTypes())
	assert.False(t, (&AnalysisRequest{EventTypes: []string{"login"}}).FiltersAllTypes())
}

func TestAnalysisResult_Failure(t *testing.T) {
	r := &AnalysisResult{Metadata: map[string]interface{}{}}
	_, ok := r.Failure()
	assert.False(t, ok)

	r.Metadata["error"] = map[string]interface{}{"stage": "ingest", "message": "export missing"}
	failure, ok := r.Failure()
	require.True(t, ok)
	assert.Equal(t, StageFailure{Stage: "ingest", Message: "export missing"}, failure)

	r.Metadata["error"] = StageFailure{Stage: "merge", Message: "boom"}
	failure, ok = r.Failure()
	require.True(t, ok)
	assert.Equal(t, "merge", failure.Stage)
}
