package detect

import (
	"custodian/core"
)

// DetectTimeGaps flags silences between adjacent events longer than
// MaxGapThreshold. events must be sorted by timestamp.
func DetectTimeGaps(events []*core.TimelineEvent, params Params) []core.Anomaly {
	var anomalies []core.Anomaly

	for i := 1; i < len(events); i++ {
		before, after := events[i-1], events[i]
		gap := after.Timestamp.Sub(before.Timestamp)
		if gap <= params.MaxGapThreshold {
			continue
		}

		severity := core.SeverityMedium
		if gap > params.HighGapThreshold {
			severity = core.SeverityHigh
		}

		anomalies = append(anomalies, &core.TimeGapAnomaly{
			GapStart:    before.Timestamp,
			GapEnd:      after.Timestamp,
			GapDuration: gap.Seconds(),
			BeforeID:    before.EventID,
			AfterID:     after.EventID,
			Severity:    severity,
		})
	}

	return anomalies
}
