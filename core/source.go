package core

import (
	"time"
)

// ForensicsSource describes one piece of evidence an analysis runs against.
// A source is a value: once admitted to the ledger it is never modified.
type ForensicsSource struct {
	SourceType      SourceType `json:"source_type" mapstructure:"source_type" validate:"omitempty,oneof=image memory log registry other"`
	SourcePath      string     `json:"source_path" mapstructure:"source_path" validate:"required"`
	SourceHash      string     `json:"source_hash,omitempty" mapstructure:"source_hash" validate:"omitempty,hexadecimal"`
	SourceSize      int64      `json:"source_size" mapstructure:"source_size" validate:"gte=0"`
	AcquisitionTime *time.Time `json:"acquisition_time,omitempty" mapstructure:"acquisition_time"`
	Investigator    string     `json:"investigator,omitempty" mapstructure:"investigator" validate:"max=200"`
}

// Identity returns the fields that identify the source in an integrity hash
func (s ForensicsSource) Identity() map[string]interface{} {
	identity := map[string]interface{}{
		"source_type": string(s.SourceType),
		"source_path": s.SourcePath,
		"source_hash": s.SourceHash,
		"source_size": s.SourceSize,
	}
	if s.AcquisitionTime != nil {
		identity["acquisition_time"] = FormatTimestamp(*s.AcquisitionTime)
	}
	return identity
}

// Clone returns a copy that shares no pointers with the receiver
func (s ForensicsSource) Clone() ForensicsSource {
	out := s
	if s.AcquisitionTime != nil {
		t := *s.AcquisitionTime
		out.AcquisitionTime = &t
	}
	return out
}
