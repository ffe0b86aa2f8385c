package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"custodian/core"
)

// SequenceDefinition is an ordered list of event types expected to occur together
type SequenceDefinition struct {
	Name  string   `json:"name" yaml:"name" validate:"required"`
	Steps []string `json:"steps" yaml:"steps" validate:"min=2,dive,required"`
}

// SequenceCatalog is the on-disk form of a sequence catalogue
type SequenceCatalog struct {
	Sequences []SequenceDefinition `json:"sequences" yaml:"sequences"`
}

// DefaultSequences returns the built-in catalogue
func DefaultSequences() []SequenceDefinition {
	return []SequenceDefinition{
		{Name: "interactive_session", Steps: []string{"login", "file_access", "logout"}},
		{Name: "process_network_activity", Steps: []string{"process_start", "network_connection", "process_end"}},
		{Name: "removable_media_copy", Steps: []string{"usb_connect", "file_copy", "usb_disconnect"}},
	}
}

// LoadSequenceCatalog reads a YAML or JSON sequence catalogue
func LoadSequenceCatalog(filename string, logger *zap.SugaredLogger) ([]SequenceDefinition, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence catalog: %w", err)
	}

	var catalog SequenceCatalog
	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		err = yaml.Unmarshal(data, &catalog)
	} else {
		err = json.Unmarshal(data, &catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal sequence catalog: %w", err)
	}

	if len(catalog.Sequences) == 0 {
		return nil, fmt.Errorf("sequence catalog %s defines no sequences", filename)
	}
	for _, seq := range catalog.Sequences {
		if err := paramsValidator.Struct(seq); err != nil {
			return nil, fmt.Errorf("invalid sequence %q: %w", seq.Name, err)
		}
	}

	logger.Infow("Loaded sequence catalog",
		"file", filename,
		"sequences", len(catalog.Sequences))
	return catalog.Sequences, nil
}

// DetectSequences looks for each catalogue sequence as an in-order, not
// necessarily contiguous, subsequence of the event types. A partial match
// re-anchors on the latest occurrence of the first step, so the span is
// measured from the start nearest the completing events. After a match the
// scan resumes after its last event. Matches spanning more than
// SequenceMaxSpan are flagged with medium severity.
func DetectSequences(events []*core.TimelineEvent, params Params) []core.Anomaly {
	var anomalies []core.Anomaly

	for _, seq := range params.Sequences {
		if len(seq.Steps) == 0 {
			continue
		}

		matched := make([]*core.TimelineEvent, 0, len(seq.Steps))
		for _, e := range events {
			switch {
			case e.EventType == seq.Steps[len(matched)]:
				matched = append(matched, e)
			case len(matched) > 0 && e.EventType == seq.Steps[0]:
				matched = append(matched[:0], e)
				continue
			default:
				continue
			}
			if len(matched) < len(seq.Steps) {
				continue
			}

			first, last := matched[0], matched[len(matched)-1]
			span := last.Timestamp.Sub(first.Timestamp)
			if span > params.SequenceMaxSpan {
				ids := make([]string, len(matched))
				for i, m := range matched {
					ids[i] = m.EventID
				}
				anomalies = append(anomalies, &core.SequenceAnomaly{
					Name:           seq.Name,
					Expected:       append([]string{}, seq.Steps...),
					EventIDs:       ids,
					Start:          first.Timestamp,
					End:            last.Timestamp,
					ActualDuration: span.Seconds(),
					Severity:       core.SeverityMedium,
				})
			}
			matched = matched[:0]
		}
	}

	return anomalies
}
