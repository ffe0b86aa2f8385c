package core

// SourceType identifies the kind of artifact an evidence source was extracted from
type SourceType string

const (
	SourceTypeImage    SourceType = "image"
	SourceTypeMemory   SourceType = "memory"
	SourceTypeLog      SourceType = "log"
	SourceTypeRegistry SourceType = "registry"
	SourceTypeOther    SourceType = "other"
)

// String returns the string representation
func (s SourceType) String() string {
	return string(s)
}

// IsValid checks if the source type is one of the known artifact kinds
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeImage, SourceTypeMemory, SourceTypeLog, SourceTypeRegistry, SourceTypeOther:
		return true
	default:
		return false
	}
}

// AnalysisStatus represents the lifecycle state of an analysis
type AnalysisStatus string

const (
	// AnalysisStatusRunning is set while the pipeline executes
	AnalysisStatusRunning AnalysisStatus = "running"
	// AnalysisStatusCompleted is terminal: every stage succeeded
	AnalysisStatusCompleted AnalysisStatus = "completed"
	// AnalysisStatusError is terminal: a stage failed and the failure is recorded in metadata
	AnalysisStatusError AnalysisStatus = "error"
)

// String returns the string representation
func (s AnalysisStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusError
}

// CustodyAction is the verb recorded on a chain-of-custody entry
type CustodyAction string

const (
	CustodyActionAcquired        CustodyAction = "acquired"
	CustodyActionAnalysisStarted CustodyAction = "analysis_started"
	CustodyActionCompleted       CustodyAction = "completed"
	CustodyActionFailed          CustodyAction = "failed"
)

// IsValid checks if the action is valid
func (a CustodyAction) IsValid() bool {
	switch a {
	case CustodyActionAcquired, CustodyActionAnalysisStarted, CustodyActionCompleted, CustodyActionFailed:
		return true
	default:
		return false
	}
}

// Severity grades an anomaly. Values are ordered low < medium < high.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordinal of the severity (unknown values rank lowest)
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the worse of two severities
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

const (
	// DefaultEventType is assigned to events that do not carry a type
	DefaultEventType = "unknown"

	// DefaultConfidence is assigned to events that do not carry a confidence
	DefaultConfidence = 1.0

	// CorrelatedTag is the only tag appended to an event after normalization
	CorrelatedTag = "correlated"

	// EventTypeFilterAll disables event-type filtering
	EventTypeFilterAll = "all"

	// DefaultMaxPathLength bounds the length of a source path
	DefaultMaxPathLength = 500

	// DefaultMaxEvents is the default cap on events returned in a result
	DefaultMaxEvents = 10000

	// MinMaxEvents and MaxMaxEvents bound the max_events request field
	MinMaxEvents = 100
	MaxMaxEvents = 100000

	// DefaultCorrelationThresholdSeconds is the cross-source co-occurrence window
	DefaultCorrelationThresholdSeconds = 300
)
