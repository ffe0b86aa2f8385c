package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// canonicalEventFields are consumed by the normalizer and never copied into Details
var canonicalEventFields = map[string]bool{
	"event_id":    true,
	"timestamp":   true,
	"event_type":  true,
	"source":      true,
	"description": true,
	"details":     true,
	"confidence":  true,
	"tags":        true,
}

// defaultFieldAliases maps source-specific field names onto canonical names.
// An alias is only consulted when the canonical field is absent.
var defaultFieldAliases = map[string][]string{
	"event_id":    {"id", "record_id"},
	"timestamp":   {"@timestamp", "datetime", "time", "ts"},
	"event_type":  {"type", "action"},
	"description": {"message", "msg", "desc"},
}

// NormalizeResult is the outcome of normalizing one source's raw events
type NormalizeResult struct {
	// Events are in input order
	Events []*TimelineEvent
	// Skipped counts events dropped for an unparseable or missing timestamp
	Skipped int
	// Clamped counts events whose confidence was outside [0,1]
	Clamped int
}

// EventNormalizer converts source-specific raw maps into TimelineEvents
type EventNormalizer struct {
	aliases map[string][]string
	logger  *zap.SugaredLogger
}

// NewEventNormalizer creates a normalizer with the default field aliases
func NewEventNormalizer(logger *zap.SugaredLogger) *EventNormalizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventNormalizer{
		aliases: defaultFieldAliases,
		logger:  logger,
	}
}

// Normalize converts raw events from one origin into canonical events.
// Events without a usable timestamp are dropped and counted as skipped.
func (n *EventNormalizer) Normalize(raw []map[string]interface{}, origin Origin) *NormalizeResult {
	result := &NormalizeResult{Events: make([]*TimelineEvent, 0, len(raw))}

	for i, rawEvent := range raw {
		if rawEvent == nil {
			result.Skipped++
			continue
		}

		ts, err := ParseTimestamp(n.lookup(rawEvent, "timestamp"))
		if err != nil {
			result.Skipped++
			n.logger.Debugw("Dropping event with unusable timestamp",
				"source", origin.SourceID,
				"index", i,
				"error", err)
			continue
		}

		event := &TimelineEvent{
			Timestamp:  ts,
			EventType:  stringOr(n.lookup(rawEvent, "event_type"), DefaultEventType),
			Source:     stringOr(rawEvent["source"], origin.SourceID),
			SourceType: origin.SourceType,
			Details:    buildDetails(rawEvent, n.consumedAliases()),
			Tags:       toStringSlice(rawEvent["tags"]),
		}
		event.Description = stringOr(n.lookup(rawEvent, "description"), "")

		confidence, clamped := normalizeConfidence(rawEvent["confidence"])
		event.Confidence = confidence
		if clamped {
			result.Clamped++
			event.Details["raw_confidence"] = rawEvent["confidence"]
		}

		event.EventID = stringOr(n.lookup(rawEvent, "event_id"), "")
		if event.EventID == "" {
			event.EventID = synthesizeEventID(origin.SourceID, event, i)
		}

		result.Events = append(result.Events, event)
	}

	if result.Skipped > 0 {
		n.logger.Infow("Skipped events during normalization",
			"source", origin.SourceID,
			"skipped", result.Skipped,
			"normalized", len(result.Events))
	}

	return result
}

// lookup returns the canonical field, falling back to its aliases
func (n *EventNormalizer) lookup(raw map[string]interface{}, field string) interface{} {
	if v, ok := raw[field]; ok && v != nil {
		return v
	}
	for _, alias := range n.aliases[field] {
		if v, ok := raw[alias]; ok && v != nil {
			return v
		}
	}
	return nil
}

// consumedAliases lists alias keys that must not leak into Details
func (n *EventNormalizer) consumedAliases() map[string]bool {
	consumed := make(map[string]bool, len(canonicalEventFields))
	for _, aliases := range n.aliases {
		for _, a := range aliases {
			consumed[a] = true
		}
	}
	return consumed
}

// buildDetails merges an explicit details map with any non-canonical raw fields
func buildDetails(raw map[string]interface{}, aliases map[string]bool) map[string]interface{} {
	details := make(map[string]interface{})
	if nested, ok := raw["details"].(map[string]interface{}); ok {
		for k, v := range nested {
			details[k] = v
		}
	}
	for k, v := range raw {
		if canonicalEventFields[k] || aliases[k] {
			continue
		}
		if _, exists := details[k]; !exists {
			details[k] = v
		}
	}
	return details
}

// normalizeConfidence defaults a missing confidence to 1.0 and clamps it into [0,1].
// The second return value reports whether the raw value had to be adjusted.
func normalizeConfidence(raw interface{}) (float64, bool) {
	if raw == nil {
		return DefaultConfidence, false
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return DefaultConfidence, true
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultConfidence, true
		}
		f = parsed
	default:
		return DefaultConfidence, true
	}

	switch {
	case math.IsNaN(f):
		return 0, true
	case f < 0:
		return 0, true
	case f > 1:
		return 1, true
	default:
		return f, false
	}
}

// synthesizeEventID derives a stable id for events that arrived without one
func synthesizeEventID(sourceID string, e *TimelineEvent, index int) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%d", sourceID, FormatTimestamp(e.Timestamp), e.EventType, e.Description, index)
	sum := sha256.Sum256([]byte(key))
	return "evt-" + hex.EncodeToString(sum[:8])
}

func stringOr(v interface{}, fallback string) string {
	switch s := v.(type) {
	case nil:
		return fallback
	case string:
		if s == "" {
			return fallback
		}
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toStringSlice(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return append([]string{}, items...)
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
