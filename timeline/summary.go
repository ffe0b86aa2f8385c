package timeline

import (
	"fmt"
	"sort"
	"strings"

	"custodian/core"
)

// maxTopPatterns bounds Summary.TopPatterns
const maxTopPatterns = 10

// patternLength is the event-type n-gram size used for pattern frequencies
const patternLength = 3

// Summarize builds the statistical roll-up of a timeline.
// It is deterministic and never modifies its inputs; ties resolve lexically.
func Summarize(events []*core.TimelineEvent, anomalies []core.Anomaly) *core.Summary {
	summary := &core.Summary{
		HourlyDistribution: make(map[string]int, 24),
		DailyDistribution:  make(map[string]int),
		EventTypes:         make(map[string]int),
		Sources:            make(map[string]int),
		TopPatterns:        []core.PatternCount{},
		RollUp: core.RollUp{
			AnomaliesBySeverity: make(map[string]int),
			AnomaliesByType:     make(map[string]int),
		},
	}
	for h := 0; h < 24; h++ {
		summary.HourlyDistribution[fmt.Sprintf("%02d", h)] = 0
	}

	confidenceSum := 0.0
	for i, e := range events {
		ts := e.Timestamp.UTC()
		if i == 0 || ts.Before(*summary.TimeRange.Start) {
			start := ts
			summary.TimeRange.Start = &start
		}
		if i == 0 || ts.After(*summary.TimeRange.End) {
			end := ts
			summary.TimeRange.End = &end
		}

		summary.HourlyDistribution[fmt.Sprintf("%02d", ts.Hour())]++
		summary.DailyDistribution[ts.Format("2006-01-02")]++
		summary.EventTypes[e.EventType]++
		summary.Sources[e.Source]++

		confidenceSum += e.Confidence
		if e.HasTag(core.CorrelatedTag) {
			summary.RollUp.CorrelatedEvents++
		}
	}

	if summary.TimeRange.Start != nil {
		summary.TimeRange.DurationSeconds = summary.TimeRange.End.Sub(*summary.TimeRange.Start).Seconds()
	}

	if len(events) > 0 {
		summary.PeakHour = peakKey(summary.HourlyDistribution)
		summary.PeakDay = peakKey(summary.DailyDistribution)
		summary.MostCommonType = peakKey(summary.EventTypes)
		summary.MostCommonSource = peakKey(summary.Sources)
		summary.RollUp.AverageConfidence = confidenceSum / float64(len(events))
	}

	summary.TopPatterns = topPatterns(events, maxTopPatterns)

	summary.RollUp.TotalEvents = len(events)
	summary.RollUp.UniqueTypes = len(summary.EventTypes)
	summary.RollUp.UniqueSources = len(summary.Sources)
	summary.RollUp.AnomalyCount = len(anomalies)
	for _, a := range anomalies {
		summary.RollUp.AnomaliesBySeverity[string(a.GetSeverity())]++
		summary.RollUp.AnomaliesByType[string(a.Type())]++
	}

	return summary
}

// peakKey returns the key with the highest count, the lexically smallest on ties
func peakKey(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best = k
			bestCount = c
		}
	}
	return best
}

// topPatterns counts event-type 3-grams and returns the most frequent
func topPatterns(events []*core.TimelineEvent, limit int) []core.PatternCount {
	if len(events) < patternLength {
		return []core.PatternCount{}
	}

	counts := make(map[string]int)
	for i := 0; i+patternLength <= len(events); i++ {
		gram := make([]string, patternLength)
		for k := 0; k < patternLength; k++ {
			gram[k] = events[i+k].EventType
		}
		counts[strings.Join(gram, "\x00")]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]core.PatternCount, len(keys))
	for i, k := range keys {
		out[i] = core.PatternCount{Pattern: strings.Split(k, "\x00"), Count: counts[k]}
	}
	return out
}
