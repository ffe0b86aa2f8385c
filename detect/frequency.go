package detect

import (
	"sort"
	"time"

	"custodian/core"
)

// DetectFrequency counts events per UTC hour and flags unusually busy or
// quiet hours. Hours without any event are never inspected.
func DetectFrequency(events []*core.TimelineEvent, params Params) []core.Anomaly {
	counts := make(map[time.Time]int)
	for _, e := range events {
		counts[e.Timestamp.UTC().Truncate(time.Hour)]++
	}

	hours := make([]time.Time, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	var anomalies []core.Anomaly
	for _, hour := range hours {
		count := counts[hour]
		switch {
		case count > params.HighFrequencyThreshold:
			anomalies = append(anomalies, &core.FrequencyAnomaly{
				Hour:      hour,
				Count:     count,
				Kind:      core.FrequencyKindHigh,
				Threshold: params.HighFrequencyThreshold,
				Severity:  core.SeverityMedium,
			})
		case count < params.LowFrequencyThreshold:
			anomalies = append(anomalies, &core.FrequencyAnomaly{
				Hour:      hour,
				Count:     count,
				Kind:      core.FrequencyKindLow,
				Threshold: params.LowFrequencyThreshold,
				Severity:  core.SeverityLow,
			})
		}
	}

	return anomalies
}
