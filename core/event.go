package core

import (
	"time"
)

// TimelineEvent is one normalized, timestamped occurrence from an evidence source.
// After normalization an event is read-only except for MarkCorrelated.
type TimelineEvent struct {
	EventID     string                 `json:"event_id"`
	Timestamp   time.Time              `json:"timestamp"`
	EventType   string                 `json:"event_type"`
	Source      string                 `json:"source"`
	SourceType  SourceType             `json:"source_type,omitempty"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details"`
	Confidence  float64                `json:"confidence"`
	Tags        []string               `json:"tags"`
}

// MarkCorrelated appends the correlated tag once
func (e *TimelineEvent) MarkCorrelated() {
	if e.HasTag(CorrelatedTag) {
		return
	}
	e.Tags = append(e.Tags, CorrelatedTag)
}

// HasTag reports whether the event carries tag
func (e *TimelineEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Copy returns a shallow copy with its own tag slice. Details are shared and
// must be treated as read-only by both copies.
func (e *TimelineEvent) Copy() *TimelineEvent {
	out := *e
	out.Tags = append(make([]string, 0, len(e.Tags)+1), e.Tags...)
	return &out
}

// Canonical returns the event as a map with ISO-8601 timestamps, for hashing and export
func (e *TimelineEvent) Canonical() map[string]interface{} {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	return map[string]interface{}{
		"event_id":    e.EventID,
		"timestamp":   FormatTimestamp(e.Timestamp),
		"event_type":  e.EventType,
		"source":      e.Source,
		"source_type": string(e.SourceType),
		"description": e.Description,
		"details":     details,
		"confidence":  e.Confidence,
		"tags":        tags,
	}
}

// Origin identifies the evidence source a batch of raw events came from
type Origin struct {
	SourceID   string
	SourceType SourceType
}
