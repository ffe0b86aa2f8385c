// Package detect finds temporal anomalies in a merged timeline: silences,
// busy hours, recurring event-type patterns and slow expected sequences,
// then groups co-occurring anomalies by hour.
package detect

import (
	"go.uber.org/zap"

	"custodian/core"
)

// DetectionResult holds the detector output before and after correlation
type DetectionResult struct {
	// Raw is every anomaly in detector order: gaps, frequency, patterns, sequences
	Raw []core.Anomaly
	// Correlated is Raw grouped by hour
	Correlated []core.Anomaly
}

// Detector runs the four sub-detectors and the correlator over a timeline
type Detector struct {
	params Params
	logger *zap.SugaredLogger
}

// NewDetector creates a Detector with the given thresholds
func NewDetector(params Params, logger *zap.SugaredLogger) *Detector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(params.Sequences) == 0 {
		params.Sequences = DefaultSequences()
	}
	return &Detector{
		params: params,
		logger: logger,
	}
}

// Params returns the detector thresholds
func (d *Detector) Params() Params {
	return d.params
}

// Detect runs every sub-detector over events, which must be sorted by timestamp
func (d *Detector) Detect(events []*core.TimelineEvent) *DetectionResult {
	gaps := DetectTimeGaps(events, d.params)
	frequency := DetectFrequency(events, d.params)
	patterns := DetectPatterns(events, d.params)
	sequences := DetectSequences(events, d.params)

	raw := make([]core.Anomaly, 0, len(gaps)+len(frequency)+len(patterns)+len(sequences))
	raw = append(raw, gaps...)
	raw = append(raw, frequency...)
	raw = append(raw, patterns...)
	raw = append(raw, sequences...)

	correlated := CorrelateAnomalies(raw)

	d.logger.Debugw("Anomaly detection complete",
		"events", len(events),
		"time_gaps", len(gaps),
		"frequency", len(frequency),
		"patterns", len(patterns),
		"sequences", len(sequences),
		"correlated", len(correlated))

	return &DetectionResult{
		Raw:        raw,
		Correlated: correlated,
	}
}
