package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/core"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(id, eventType string, offset time.Duration) *core.TimelineEvent {
	return &core.TimelineEvent{
		EventID:    id,
		Timestamp:  t0.Add(offset),
		EventType:  eventType,
		Confidence: 1,
		Details:    map[string]interface{}{},
		Tags:       []string{},
	}
}

func TestDetectTimeGaps_MediumBetweenThresholds(t *testing.T) {
	events := []*core.TimelineEvent{
		at("e0", "boot", 0),
		at("e1", "login", 5000*time.Second),
	}

	anomalies := DetectTimeGaps(events, DefaultParams())

	require.Len(t, anomalies, 1)
	gap, ok := anomalies[0].(*core.TimeGapAnomaly)
	require.True(t, ok)
	assert.Equal(t, core.SeverityMedium, gap.Severity)
	assert.Equal(t, 5000.0, gap.GapDuration)
	assert.Equal(t, "e0", gap.BeforeID)
	assert.Equal(t, "e1", gap.AfterID)
}

func TestDetectTimeGaps_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		gap      time.Duration
		expected []core.Severity
	}{
		{"at threshold is not flagged", 3600 * time.Second, nil},
		{"just over threshold", 3601 * time.Second, []core.Severity{core.SeverityMedium}},
		{"at high cutoff is medium", 7200 * time.Second, []core.Severity{core.SeverityMedium}},
		{"over high cutoff", 7201 * time.Second, []core.Severity{core.SeverityHigh}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalies := DetectTimeGaps([]*core.TimelineEvent{at("a", "x", 0), at("b", "x", tt.gap)}, DefaultParams())
			var got []core.Severity
			for _, a := range anomalies {
				got = append(got, a.GetSeverity())
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDetectFrequency_HighFrequencyHour(t *testing.T) {
	var events []*core.TimelineEvent
	for i := 0; i < 11; i++ {
		events = append(events, at(fmt.Sprintf("e%d", i), "login", time.Duration(i)*time.Minute))
	}
	// A single event in a later hour is neither busy nor quiet
	events = append(events, at("late", "login", 3*time.Hour))

	anomalies := DetectFrequency(events, DefaultParams())

	require.Len(t, anomalies, 1)
	freq, ok := anomalies[0].(*core.FrequencyAnomaly)
	require.True(t, ok)
	assert.Equal(t, core.FrequencyKindHigh, freq.Kind)
	assert.Equal(t, 11, freq.Count)
	assert.Equal(t, t0, freq.Hour)
	assert.Equal(t, core.SeverityMedium, freq.Severity)
}

func TestDetectFrequency_TenEventsIsNotFlagged(t *testing.T) {
	var events []*core.TimelineEvent
	for i := 0; i < 10; i++ {
		events = append(events, at(fmt.Sprintf("e%d", i), "login", time.Duration(i)*time.Minute))
	}
	assert.Empty(t, DetectFrequency(events, DefaultParams()))
}

func TestDetectFrequency_LowFrequency(t *testing.T) {
	params := DefaultParams()
	params.LowFrequencyThreshold = 2

	anomalies := DetectFrequency([]*core.TimelineEvent{at("a", "x", 0)}, params)

	require.Len(t, anomalies, 1)
	freq := anomalies[0].(*core.FrequencyAnomaly)
	assert.Equal(t, core.FrequencyKindLow, freq.Kind)
	assert.Equal(t, core.SeverityLow, freq.Severity)
}

func TestDetectPatterns_FlagsOnceAtFirstOccurrence(t *testing.T) {
	types := []string{"noise", "a", "b", "c", "a", "b", "c", "a", "b", "c"}
	events := make([]*core.TimelineEvent, len(types))
	for i, et := range types {
		events[i] = at(fmt.Sprintf("e%d", i), et, time.Duration(i)*time.Second)
	}

	anomalies := DetectPatterns(events, DefaultParams())

	require.Len(t, anomalies, 1)
	p := anomalies[0].(*core.PatternAnomaly)
	assert.Equal(t, []string{"a", "b", "c"}, p.NGram)
	assert.Equal(t, 3, p.Count)
	assert.Equal(t, "e1", p.FirstEventID)
	assert.Equal(t, core.SeverityLow, p.Severity)
}

func TestDetectPatterns_TwiceIsNotFlagged(t *testing.T) {
	types := []string{"a", "b", "c", "a", "b", "c"}
	events := make([]*core.TimelineEvent, len(types))
	for i, et := range types {
		events[i] = at(fmt.Sprintf("e%d", i), et, time.Duration(i)*time.Second)
	}
	assert.Empty(t, DetectPatterns(events, DefaultParams()))
}

func TestDetectSequences_SlowSessionFlagged(t *testing.T) {
	events := []*core.TimelineEvent{
		at("1", "login", 0),
		at("2", "process_start", time.Minute),
		at("3", "file_access", 30*time.Minute),
		at("4", "logout", 2*time.Hour),
	}

	anomalies := DetectSequences(events, DefaultParams())

	require.Len(t, anomalies, 1)
	seq := anomalies[0].(*core.SequenceAnomaly)
	assert.Equal(t, "interactive_session", seq.Name)
	assert.Equal(t, []string{"login", "file_access", "logout"}, seq.Expected)
	assert.Equal(t, []string{"1", "3", "4"}, seq.EventIDs)
	assert.Equal(t, (2 * time.Hour).Seconds(), seq.ActualDuration)
	assert.Equal(t, core.SeverityMedium, seq.Severity)
}

func TestDetectSequences_FastSessionNotFlagged(t *testing.T) {
	events := []*core.TimelineEvent{
		at("1", "login", 0),
		at("2", "file_access", time.Minute),
		at("3", "logout", 10*time.Minute),
	}
	assert.Empty(t, DetectSequences(events, DefaultParams()))
}

func TestDetectSequences_ReanchorsOnRepeatedFirstStep(t *testing.T) {
	events := []*core.TimelineEvent{
		at("1", "login", 0),
		at("2", "login", 5*time.Hour),
		at("3", "file_access", 5*time.Hour+time.Minute),
		at("4", "logout", 5*time.Hour+2*time.Minute),
	}
	assert.Empty(t, DetectSequences(events, DefaultParams()))

	// a stale partial match is dropped once the first step recurs
	events = []*core.TimelineEvent{
		at("1", "login", 0),
		at("2", "file_access", time.Minute),
		at("3", "login", 5*time.Hour),
		at("4", "file_access", 7*time.Hour),
		at("5", "logout", 7*time.Hour+time.Minute),
	}
	anomalies := DetectSequences(events, DefaultParams())
	require.Len(t, anomalies, 1)
	seq := anomalies[0].(*core.SequenceAnomaly)
	assert.Equal(t, []string{"3", "4", "5"}, seq.EventIDs)
	assert.Equal(t, (2*time.Hour + time.Minute).Seconds(), seq.ActualDuration)
}

func TestDetectSequences_ResumesAfterMatch(t *testing.T) {
	events := []*core.TimelineEvent{
		at("1", "usb_connect", 0),
		at("2", "file_copy", time.Minute),
		at("3", "usb_disconnect", 2*time.Hour),
		at("4", "usb_connect", 3*time.Hour),
		at("5", "file_copy", 4*time.Hour),
		at("6", "usb_disconnect", 5*time.Hour),
	}

	anomalies := DetectSequences(events, DefaultParams())

	require.Len(t, anomalies, 2)
	assert.Equal(t, []string{"1", "2", "3"}, anomalies[0].(*core.SequenceAnomaly).EventIDs)
	assert.Equal(t, []string{"4", "5", "6"}, anomalies[1].(*core.SequenceAnomaly).EventIDs)
}

func TestCorrelateAnomalies(t *testing.T) {
	sameHourA := &core.TimeGapAnomaly{GapStart: t0.Add(5 * time.Minute), Severity: core.SeverityMedium}
	sameHourB := &core.PatternAnomaly{FirstOccurrence: t0.Add(50 * time.Minute), Severity: core.SeverityLow}
	sameHourC := &core.TimeGapAnomaly{GapStart: t0.Add(10 * time.Minute), Severity: core.SeverityHigh}
	alone := &core.FrequencyAnomaly{Hour: t0.Add(-3 * time.Hour), Severity: core.SeverityMedium}

	out := CorrelateAnomalies([]core.Anomaly{sameHourA, sameHourB, alone, sameHourC})

	require.Len(t, out, 2)
	assert.Same(t, alone, out[0], "singletons pass through unchanged, ordered by hour")

	corr, ok := out[1].(*core.CorrelatedAnomaly)
	require.True(t, ok)
	assert.Equal(t, t0, corr.TimePeriod)
	assert.Equal(t, core.SeverityHigh, corr.Severity)
	require.Len(t, corr.Members, 3)
	assert.Same(t, sameHourA, corr.Members[0])
	assert.Same(t, sameHourB, corr.Members[1])
	assert.Same(t, sameHourC, corr.Members[2])
}

func TestDetector_Detect(t *testing.T) {
	events := []*core.TimelineEvent{
		at("e0", "boot", 0),
		at("e1", "login", 5000*time.Second),
	}

	result := NewDetector(DefaultParams(), nil).Detect(events)

	require.Len(t, result.Raw, 1)
	assert.Equal(t, core.AnomalyTypeTimeGap, result.Raw[0].Type())
	require.Len(t, result.Correlated, 1)
	assert.Same(t, result.Raw[0], result.Correlated[0])
}

func TestDetector_EmptyTimeline(t *testing.T) {
	result := NewDetector(DefaultParams(), nil).Detect(nil)
	assert.Empty(t, result.Raw)
	assert.Empty(t, result.Correlated)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := DefaultParams()
	bad.HighGapThreshold = time.Second
	assert.Error(t, bad.Validate())

	bad = DefaultParams()
	bad.Sequences = []SequenceDefinition{{Name: "short", Steps: []string{"only"}}}
	assert.Error(t, bad.Validate())
}

func TestLoadSequenceCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequences.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sequences:
  - name: remote_admin
    steps: [rdp_connect, process_start, rdp_disconnect]
`), 0o600))

	seqs, err := LoadSequenceCatalog(path, nil)
	require.NoError(t, err)
	require.Len(t, seqs, 1)
	assert.Equal(t, "remote_admin", seqs[0].Name)
	assert.Equal(t, []string{"rdp_connect", "process_start", "rdp_disconnect"}, seqs[0].Steps)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("sequences: []\n"), 0o600))
	_, err = LoadSequenceCatalog(empty, nil)
	assert.Error(t, err)

	_, err = LoadSequenceCatalog(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}
