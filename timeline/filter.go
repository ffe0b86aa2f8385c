package timeline

import (
	"time"

	"custodian/core"
)

// FilterOptions selects events by time window and type
type FilterOptions struct {
	// Start and End are inclusive bounds; nil leaves the side open
	Start *time.Time
	End   *time.Time
	// EventTypes keeps only the listed types; empty or containing "all" keeps every type
	EventTypes []string
}

// Filter returns the events matching opts, in order, and how many were removed
func Filter(events []*core.TimelineEvent, opts FilterOptions) ([]*core.TimelineEvent, int) {
	allTypes := len(opts.EventTypes) == 0
	types := make(map[string]bool, len(opts.EventTypes))
	for _, t := range opts.EventTypes {
		if t == core.EventTypeFilterAll {
			allTypes = true
		}
		types[t] = true
	}

	if allTypes && opts.Start == nil && opts.End == nil {
		return events, 0
	}

	kept := make([]*core.TimelineEvent, 0, len(events))
	for _, e := range events {
		if opts.Start != nil && e.Timestamp.Before(*opts.Start) {
			continue
		}
		if opts.End != nil && e.Timestamp.After(*opts.End) {
			continue
		}
		if !allTypes && !types[e.EventType] {
			continue
		}
		kept = append(kept, e)
	}
	return kept, len(events) - len(kept)
}
