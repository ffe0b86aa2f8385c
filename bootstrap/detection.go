package bootstrap

import (
	"fmt"
	"time"

	"custodian/config"
	"custodian/detect"

	"go.uber.org/zap"
)

// DetectionParams builds detector thresholds from configuration, loading the
// sequence catalogue when one is configured.
func DetectionParams(cfg *config.Config, sugar *zap.SugaredLogger) (detect.Params, error) {
	params := detect.Params{
		MaxGapThreshold:        time.Duration(cfg.Detection.MaxGapSeconds) * time.Second,
		HighGapThreshold:       time.Duration(cfg.Detection.HighGapSeconds) * time.Second,
		HighFrequencyThreshold: cfg.Detection.HighFrequencyThreshold,
		LowFrequencyThreshold:  cfg.Detection.LowFrequencyThreshold,
		PatternRepeatThreshold: cfg.Detection.PatternRepeatThreshold,
		SequenceMaxSpan:        time.Duration(cfg.Detection.SequenceMaxSpanSeconds) * time.Second,
		Sequences:              detect.DefaultSequences(),
	}

	if cfg.Detection.SequenceCatalog != "" {
		sequences, err := detect.LoadSequenceCatalog(cfg.Detection.SequenceCatalog, sugar)
		if err != nil {
			return detect.Params{}, err
		}
		params.Sequences = sequences
	} else {
		sugar.Infow("Using built-in sequence catalog", "sequences", len(params.Sequences))
	}

	if err := params.Validate(); err != nil {
		return detect.Params{}, err
	}
	return params, nil
}

// InitDetector creates the anomaly detector.
func InitDetector(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.Detector, error) {
	params, err := DetectionParams(cfg, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detector: %w", err)
	}

	sugar.Infow("Detector configured",
		"max_gap", params.MaxGapThreshold,
		"high_frequency_threshold", params.HighFrequencyThreshold,
		"pattern_repeat_threshold", params.PatternRepeatThreshold,
		"sequences", len(params.Sequences))
	return detect.NewDetector(params, sugar), nil
}
