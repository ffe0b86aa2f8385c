package detect

import (
	"strings"

	"custodian/core"
)

const ngramSize = 3

type ngramStats struct {
	first int
	count int
}

// DetectPatterns flags event-type 3-grams that recur more than
// PatternRepeatThreshold times. Each 3-gram is reported once, anchored at its
// first occurrence; output is ordered by first occurrence.
func DetectPatterns(events []*core.TimelineEvent, params Params) []core.Anomaly {
	if len(events) < ngramSize {
		return nil
	}

	stats := make(map[string]*ngramStats)
	var order []string

	for i := 0; i+ngramSize <= len(events); i++ {
		key := ngramKey(events[i : i+ngramSize])
		s, ok := stats[key]
		if !ok {
			s = &ngramStats{first: i}
			stats[key] = s
			order = append(order, key)
		}
		s.count++
	}

	var anomalies []core.Anomaly
	for _, key := range order {
		s := stats[key]
		if s.count <= params.PatternRepeatThreshold {
			continue
		}
		first := events[s.first]
		anomalies = append(anomalies, &core.PatternAnomaly{
			NGram:           strings.Split(key, "\x00"),
			Count:           s.count,
			FirstOccurrence: first.Timestamp,
			FirstEventID:    first.EventID,
			Severity:        core.SeverityLow,
		})
	}

	return anomalies
}

func ngramKey(window []*core.TimelineEvent) string {
	types := make([]string, len(window))
	for i, e := range window {
		types[i] = e.EventType
	}
	return strings.Join(types, "\x00")
}
