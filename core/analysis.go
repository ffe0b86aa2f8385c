package core

import (
	"time"
)

// CorrelationRules tunes cross-source correlation for one request
type CorrelationRules struct {
	// TimeThreshold is the co-occurrence window in seconds (0 = default)
	TimeThreshold int `json:"time_threshold,omitempty" mapstructure:"time_threshold" validate:"gte=0,lte=86400"`
}

// AnalysisRequest is the single input of a timeline analysis.
// Source and each AdditionalSources entry may be a path string, a field map
// or a ForensicsSource.
type AnalysisRequest struct {
	Source            interface{}       `json:"source" validate:"required"`
	AdditionalSources []interface{}     `json:"additional_sources,omitempty" validate:"omitempty,max=16,dive,required"`
	StartTime         *time.Time        `json:"start_time,omitempty"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
	EventTypes        []string          `json:"event_types,omitempty" validate:"omitempty,dive,required,max=100"`
	CorrelationRules  *CorrelationRules `json:"correlation_rules,omitempty"`
	// MaxEvents caps the returned events (0 = default); bounds are enforced by the orchestrator
	MaxEvents    int    `json:"max_events,omitempty" validate:"gte=0"`
	Investigator string `json:"investigator,omitempty" validate:"max=200"`
}

// Validate checks the structural constraints of the request. Sources are
// checked separately by ValidateSource; max_events bounds by the orchestrator.
func (r *AnalysisRequest) Validate() error {
	if r == nil {
		return NewValidationError("", "request is required")
	}
	if err := structValidator.Struct(r); err != nil {
		return translateValidatorError(err)
	}
	if r.StartTime != nil && r.EndTime != nil && r.EndTime.Before(*r.StartTime) {
		return NewValidationError("end_time", "must not be before start_time")
	}
	return nil
}

// FiltersAllTypes reports whether the event-type filter is disabled
func (r *AnalysisRequest) FiltersAllTypes() bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if t == EventTypeFilterAll {
			return true
		}
	}
	return false
}

// TimeRange bounds the events of a summary
type TimeRange struct {
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// PatternCount is one event-type 3-gram and how often it occurs
type PatternCount struct {
	Pattern []string `json:"pattern"`
	Count   int      `json:"count"`
}

// RollUp holds the aggregate statistics of a summary
type RollUp struct {
	TotalEvents         int            `json:"total_events"`
	UniqueTypes         int            `json:"unique_types"`
	UniqueSources       int            `json:"unique_sources"`
	AverageConfidence   float64        `json:"average_confidence"`
	CorrelatedEvents    int            `json:"correlated_events"`
	AnomalyCount        int            `json:"anomaly_count"`
	AnomaliesBySeverity map[string]int `json:"anomalies_by_severity"`
	AnomaliesByType     map[string]int `json:"anomalies_by_type"`
}

// Summary is the statistical roll-up of an analysis
type Summary struct {
	TimeRange TimeRange `json:"time_range"`

	// HourlyDistribution is keyed by hour of day, "00" to "23"
	HourlyDistribution map[string]int `json:"hourly_distribution"`
	PeakHour           string         `json:"peak_hour"`

	// DailyDistribution is keyed by UTC date, "2006-01-02"
	DailyDistribution map[string]int `json:"daily_distribution"`
	PeakDay           string         `json:"peak_day"`

	EventTypes       map[string]int `json:"event_types"`
	MostCommonType   string         `json:"most_common_type"`
	Sources          map[string]int `json:"sources"`
	MostCommonSource string         `json:"most_common_source"`

	TopPatterns []PatternCount `json:"top_patterns"`
	RollUp      RollUp         `json:"roll_up"`
}

// AnalysisResult is the terminal output of a timeline analysis.
// Once Status is terminal the result is never modified again.
type AnalysisResult struct {
	AnalysisID        string                 `json:"analysis_id"`
	Source            ForensicsSource        `json:"source"`
	AdditionalSources []ForensicsSource      `json:"additional_sources,omitempty"`
	EvidenceIDs       []string               `json:"evidence_ids"`
	Investigator      string                 `json:"investigator,omitempty"`
	Status            AnalysisStatus         `json:"status"`
	StartTime         time.Time              `json:"start_time"`
	EndTime           *time.Time             `json:"end_time"`
	Events            []*TimelineEvent       `json:"events"`
	Anomalies         AnomalyList            `json:"anomalies"`
	CorrelationMatrix map[string]int         `json:"correlation_matrix"`
	Summary           *Summary               `json:"summary"`
	Metadata          map[string]interface{} `json:"metadata"`
	IntegrityHash     string                 `json:"integrity_hash"`
}

// StageFailure is the error record placed in Metadata["error"] on the error path
type StageFailure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Failure returns the stage failure recorded in metadata, if any
func (r *AnalysisResult) Failure() (StageFailure, bool) {
	switch v := r.Metadata["error"].(type) {
	case StageFailure:
		return v, true
	case map[string]interface{}:
		stage, _ := v["stage"].(string)
		message, _ := v["message"].(string)
		return StageFailure{Stage: stage, Message: message}, true
	default:
		return StageFailure{}, false
	}
}

// Clone returns a deep copy of the result. Readers of shared results
// receive clones so the terminal original is never modified.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Source = r.Source.Clone()
	if r.AdditionalSources != nil {
		out.AdditionalSources = make([]ForensicsSource, len(r.AdditionalSources))
		for i, s := range r.AdditionalSources {
			out.AdditionalSources[i] = s.Clone()
		}
	}
	out.EvidenceIDs = cloneStrings(r.EvidenceIDs)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	if r.Events != nil {
		out.Events = make([]*TimelineEvent, len(r.Events))
		for i, e := range r.Events {
			if e == nil {
				continue
			}
			c := *e
			c.Tags = cloneStrings(e.Tags)
			c.Details = CloneDetails(e.Details)
			out.Events[i] = &c
		}
	}
	out.Anomalies = r.Anomalies.Clone()
	out.CorrelationMatrix = cloneCounts(r.CorrelationMatrix)
	out.Summary = r.Summary.Clone()
	out.Metadata = CloneDetails(r.Metadata)
	return &out
}

// Clone returns a deep copy of the summary
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	if s.TimeRange.Start != nil {
		start := *s.TimeRange.Start
		out.TimeRange.Start = &start
	}
	if s.TimeRange.End != nil {
		end := *s.TimeRange.End
		out.TimeRange.End = &end
	}
	out.HourlyDistribution = cloneCounts(s.HourlyDistribution)
	out.DailyDistribution = cloneCounts(s.DailyDistribution)
	out.EventTypes = cloneCounts(s.EventTypes)
	out.Sources = cloneCounts(s.Sources)
	if s.TopPatterns != nil {
		out.TopPatterns = make([]PatternCount, len(s.TopPatterns))
		for i, p := range s.TopPatterns {
			out.TopPatterns[i] = PatternCount{Pattern: cloneStrings(p.Pattern), Count: p.Count}
		}
	}
	out.RollUp.AnomaliesBySeverity = cloneCounts(s.RollUp.AnomaliesBySeverity)
	out.RollUp.AnomaliesByType = cloneCounts(s.RollUp.AnomaliesByType)
	return &out
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneStrings copies s, keeping nil and empty distinct so JSON output is unchanged
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
