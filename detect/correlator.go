package detect

import (
	"sort"
	"time"

	"custodian/core"
)

// CorrelateAnomalies groups anomalies by the UTC hour they occurred in.
// Hours holding more than one anomaly collapse into a CorrelatedAnomaly with
// the worst member severity; singletons pass through unchanged. Output is
// ordered by hour, members keep their input order.
func CorrelateAnomalies(anomalies []core.Anomaly) []core.Anomaly {
	buckets := make(map[time.Time][]core.Anomaly)
	for _, a := range anomalies {
		hour := a.OccurredAt().UTC().Truncate(time.Hour)
		buckets[hour] = append(buckets[hour], a)
	}

	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make([]core.Anomaly, 0, len(hours))
	for _, hour := range hours {
		members := buckets[hour]
		if len(members) == 1 {
			out = append(out, members[0])
			continue
		}

		severity := core.SeverityLow
		for _, m := range members {
			severity = core.MaxSeverity(severity, m.GetSeverity())
		}
		out = append(out, &core.CorrelatedAnomaly{
			TimePeriod: hour,
			Members:    core.AnomalyList(members),
			Severity:   severity,
		})
	}

	return out
}
