package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnomalyType discriminates the concrete anomaly kinds in JSON
type AnomalyType string

const (
	AnomalyTypeTimeGap    AnomalyType = "time_gap"
	AnomalyTypeFrequency  AnomalyType = "frequency"
	AnomalyTypePattern    AnomalyType = "pattern"
	AnomalyTypeSequence   AnomalyType = "sequence"
	AnomalyTypeCorrelated AnomalyType = "correlated"
)

// FrequencyKind distinguishes bursts from quiet hours
type FrequencyKind string

const (
	FrequencyKindHigh FrequencyKind = "high_frequency"
	FrequencyKindLow  FrequencyKind = "low_frequency"
)

// Anomaly is a flagged deviation from expected temporal behaviour.
// Implementations are *TimeGapAnomaly, *FrequencyAnomaly, *PatternAnomaly,
// *SequenceAnomaly and *CorrelatedAnomaly.
type Anomaly interface {
	Type() AnomalyType
	GetSeverity() Severity
	// OccurredAt is the instant the anomaly is anchored to for correlation
	OccurredAt() time.Time
}

// TimeGapAnomaly flags a silence between two adjacent events
type TimeGapAnomaly struct {
	GapStart time.Time `json:"gap_start"`
	GapEnd   time.Time `json:"gap_end"`
	// GapDuration is in seconds
	GapDuration float64  `json:"gap_duration"`
	BeforeID    string   `json:"before_id"`
	AfterID     string   `json:"after_id"`
	Severity    Severity `json:"severity"`
}

func (a *TimeGapAnomaly) Type() AnomalyType     { return AnomalyTypeTimeGap }
func (a *TimeGapAnomaly) GetSeverity() Severity { return a.Severity }
func (a *TimeGapAnomaly) OccurredAt() time.Time { return a.GapStart }

func (a *TimeGapAnomaly) MarshalJSON() ([]byte, error) {
	type alias TimeGapAnomaly
	return marshalTagged(AnomalyTypeTimeGap, (*alias)(a))
}

// FrequencyAnomaly flags an hour bucket with unusual activity
type FrequencyAnomaly struct {
	// Hour is the start of the UTC hour bucket
	Hour      time.Time     `json:"hour"`
	Count     int           `json:"count"`
	Kind      FrequencyKind `json:"kind"`
	Threshold int           `json:"threshold"`
	Severity  Severity      `json:"severity"`
}

func (a *FrequencyAnomaly) Type() AnomalyType     { return AnomalyTypeFrequency }
func (a *FrequencyAnomaly) GetSeverity() Severity { return a.Severity }
func (a *FrequencyAnomaly) OccurredAt() time.Time { return a.Hour }

func (a *FrequencyAnomaly) MarshalJSON() ([]byte, error) {
	type alias FrequencyAnomaly
	return marshalTagged(AnomalyTypeFrequency, (*alias)(a))
}

// PatternAnomaly flags an event-type 3-gram that recurs more than expected
type PatternAnomaly struct {
	NGram           []string  `json:"ngram"`
	Count           int       `json:"count"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	FirstEventID    string    `json:"first_event_id"`
	Severity        Severity  `json:"severity"`
}

func (a *PatternAnomaly) Type() AnomalyType     { return AnomalyTypePattern }
func (a *PatternAnomaly) GetSeverity() Severity { return a.Severity }
func (a *PatternAnomaly) OccurredAt() time.Time { return a.FirstOccurrence }

func (a *PatternAnomaly) MarshalJSON() ([]byte, error) {
	type alias PatternAnomaly
	return marshalTagged(AnomalyTypePattern, (*alias)(a))
}

// SequenceAnomaly flags an expected event sequence that took too long to complete
type SequenceAnomaly struct {
	Name     string    `json:"name,omitempty"`
	Expected []string  `json:"expected"`
	EventIDs []string  `json:"event_ids"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	// ActualDuration is in seconds
	ActualDuration float64  `json:"actual_duration"`
	Severity       Severity `json:"severity"`
}

func (a *SequenceAnomaly) Type() AnomalyType     { return AnomalyTypeSequence }
func (a *SequenceAnomaly) GetSeverity() Severity { return a.Severity }
func (a *SequenceAnomaly) OccurredAt() time.Time { return a.Start }

func (a *SequenceAnomaly) MarshalJSON() ([]byte, error) {
	type alias SequenceAnomaly
	return marshalTagged(AnomalyTypeSequence, (*alias)(a))
}

// CorrelatedAnomaly groups anomalies that fall into the same hour
type CorrelatedAnomaly struct {
	// TimePeriod is the start of the UTC hour bucket
	TimePeriod time.Time   `json:"time_period"`
	Members    AnomalyList `json:"members"`
	Severity   Severity    `json:"severity"`
}

func (a *CorrelatedAnomaly) Type() AnomalyType     { return AnomalyTypeCorrelated }
func (a *CorrelatedAnomaly) GetSeverity() Severity { return a.Severity }
func (a *CorrelatedAnomaly) OccurredAt() time.Time { return a.TimePeriod }

func (a *CorrelatedAnomaly) MarshalJSON() ([]byte, error) {
	type alias CorrelatedAnomaly
	return marshalTagged(AnomalyTypeCorrelated, (*alias)(a))
}

// marshalTagged emits v with an added "type" discriminator
func marshalTagged(t AnomalyType, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(t)
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// AnomalyList is a JSON-decodable list of anomalies
type AnomalyList []Anomaly

// UnmarshalJSON decodes each element by its "type" discriminator
func (l *AnomalyList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	if raws == nil {
		*l = nil
		return nil
	}
	out := make(AnomalyList, 0, len(raws))
	for i, raw := range raws {
		a, err := DecodeAnomaly(raw)
		if err != nil {
			return fmt.Errorf("anomaly %d: %w", i, err)
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

// DecodeAnomaly decodes one tagged anomaly
func DecodeAnomaly(raw json.RawMessage) (Anomaly, error) {
	var head struct {
		Type AnomalyType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var a Anomaly
	switch head.Type {
	case AnomalyTypeTimeGap:
		a = &TimeGapAnomaly{}
	case AnomalyTypeFrequency:
		a = &FrequencyAnomaly{}
	case AnomalyTypePattern:
		a = &PatternAnomaly{}
	case AnomalyTypeSequence:
		a = &SequenceAnomaly{}
	case AnomalyTypeCorrelated:
		a = &CorrelatedAnomaly{}
	default:
		return nil, fmt.Errorf("unknown anomaly type %q", head.Type)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Clone deep-copies every anomaly in the list
func (l AnomalyList) Clone() AnomalyList {
	if l == nil {
		return nil
	}
	out := make(AnomalyList, len(l))
	for i, a := range l {
		out[i] = CloneAnomaly(a)
	}
	return out
}

// CloneAnomaly returns an independent copy of a
func CloneAnomaly(a Anomaly) Anomaly {
	switch v := a.(type) {
	case *TimeGapAnomaly:
		c := *v
		return &c
	case *FrequencyAnomaly:
		c := *v
		return &c
	case *PatternAnomaly:
		c := *v
		c.NGram = cloneStrings(v.NGram)
		return &c
	case *SequenceAnomaly:
		c := *v
		c.Expected = cloneStrings(v.Expected)
		c.EventIDs = cloneStrings(v.EventIDs)
		return &c
	case *CorrelatedAnomaly:
		c := *v
		c.Members = v.Members.Clone()
		return &c
	default:
		return a
	}
}
