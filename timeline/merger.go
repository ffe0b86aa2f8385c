// Package timeline merges normalized events from several evidence sources into
// one chronological stream, correlates them across sources, and summarizes it.
package timeline

import (
	"sort"
	"time"

	"custodian/core"
)

// SourceEvents is the normalized output of one evidence source
type SourceEvents struct {
	Origin core.Origin
	Events []*core.TimelineEvent
}

// MergeResult is the single chronological stream built from all sources
type MergeResult struct {
	// Events are sorted ascending by timestamp; ties keep their pre-merge order
	Events []*core.TimelineEvent
	// Duplicates counts events dropped on an exact (timestamp, description) match
	Duplicates int
	// Matrix counts cross-source co-occurrences keyed by PairKey
	Matrix map[string]int
}

// mergeEntry keeps the origin id alongside an event through sort and dedup
type mergeEntry struct {
	event  *core.TimelineEvent
	origin string
}

type dedupKey struct {
	sec         int64
	nsec        int
	description string
}

// Merge flattens per-source event lists into one deduplicated timeline and
// computes the cross-source correlation matrix. Input events are not modified;
// the returned events are copies.
func Merge(lists []SourceEvents, threshold time.Duration) *MergeResult {
	if threshold <= 0 {
		threshold = core.DefaultCorrelationThresholdSeconds * time.Second
	}

	total := 0
	for _, list := range lists {
		total += len(list.Events)
	}

	entries := make([]mergeEntry, 0, total)
	for _, list := range lists {
		for _, e := range list.Events {
			if e == nil {
				continue
			}
			tagged := e.Copy()
			if tagged.Source == "" {
				tagged.Source = list.Origin.SourceID
			}
			if list.Origin.SourceType != "" {
				tagged.SourceType = list.Origin.SourceType
			}
			origin := list.Origin.SourceID
			if origin == "" {
				origin = tagged.Source
			}
			entries = append(entries, mergeEntry{event: tagged, origin: origin})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].event.Timestamp.Before(entries[j].event.Timestamp)
	})

	seen := make(map[dedupKey]struct{}, len(entries))
	unique := entries[:0]
	duplicates := 0
	for _, entry := range entries {
		key := dedupKey{
			sec:         entry.event.Timestamp.Unix(),
			nsec:        entry.event.Timestamp.Nanosecond(),
			description: entry.event.Description,
		}
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, entry)
	}

	matrix := correlate(unique, threshold)

	events := make([]*core.TimelineEvent, len(unique))
	for i, entry := range unique {
		events[i] = entry.event
	}

	return &MergeResult{
		Events:     events,
		Duplicates: duplicates,
		Matrix:     matrix,
	}
}
