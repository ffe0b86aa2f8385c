package detect

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var paramsValidator = validator.New()

// Params holds the thresholds of every sub-detector
type Params struct {
	// MaxGapThreshold is the silence between adjacent events that is flagged
	MaxGapThreshold time.Duration `validate:"gt=0"`
	// HighGapThreshold raises a gap from medium to high severity
	HighGapThreshold time.Duration `validate:"gtefield=MaxGapThreshold"`

	// HighFrequencyThreshold flags hours with strictly more events
	HighFrequencyThreshold int `validate:"gt=0"`
	// LowFrequencyThreshold flags non-empty hours with strictly fewer events
	LowFrequencyThreshold int `validate:"gte=0,ltfield=HighFrequencyThreshold"`

	// PatternRepeatThreshold flags 3-grams occurring strictly more often
	PatternRepeatThreshold int `validate:"gte=1"`

	// SequenceMaxSpan flags catalogue sequences that take longer to complete
	SequenceMaxSpan time.Duration        `validate:"gt=0"`
	Sequences       []SequenceDefinition `validate:"dive"`
}

// DefaultParams returns the standard thresholds and sequence catalogue
func DefaultParams() Params {
	return Params{
		MaxGapThreshold:        3600 * time.Second,
		HighGapThreshold:       7200 * time.Second,
		HighFrequencyThreshold: 10,
		LowFrequencyThreshold:  1,
		PatternRepeatThreshold: 2,
		SequenceMaxSpan:        3600 * time.Second,
		Sequences:              DefaultSequences(),
	}
}

// Validate checks the thresholds are consistent
func (p Params) Validate() error {
	if err := paramsValidator.Struct(p); err != nil {
		return fmt.Errorf("invalid detection parameters: %w", err)
	}
	return nil
}
