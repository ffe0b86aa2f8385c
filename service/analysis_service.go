// Package service runs timeline analyses end to end: capacity admission,
// evidence custody, the staged pipeline and the integrity-hashed result.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"custodian/core"
	"custodian/detect"
	"custodian/ingest"
	"custodian/ledger"
	"custodian/metrics"
	"custodian/storage"
	"custodian/telemetry"
	"custodian/timeline"
	"custodian/util"
	"custodian/util/goroutine"
)

// Pipeline stage names, as recorded in error metadata, spans and metrics
const (
	StageAdmit     = "admit"
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageFilter    = "filter"
	StageMerge     = "merge"
	StageDetect    = "detect"
	StageSummarize = "summarize"
	StageFinalize  = "finalize"
)

// ErrResultNotFound is returned by GetResult for unknown analysis ids
var ErrResultNotFound = errors.New("analysis result not found")

// ResultStore persists terminal analysis results
type ResultStore interface {
	SaveResult(ctx context.Context, result *core.AnalysisResult) error
	GetResult(ctx context.Context, analysisID string) (*core.AnalysisResult, error)
}

// Options holds the orchestrator limits
type Options struct {
	MaxConcurrent    int
	DefaultMaxEvents int
	MinMaxEvents     int
	MaxMaxEvents     int
	// CorrelationWindow applies when a request sets no time_threshold
	CorrelationWindow time.Duration
	Validation        core.ValidationOptions
	// Now overrides the clock (tests)
	Now func() time.Time
}

// DefaultOptions returns the standard limits
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:     3,
		DefaultMaxEvents:  core.DefaultMaxEvents,
		MinMaxEvents:      core.MinMaxEvents,
		MaxMaxEvents:      core.MaxMaxEvents,
		CorrelationWindow: core.DefaultCorrelationThresholdSeconds * time.Second,
		Validation:        core.DefaultValidationOptions(),
	}
}

// Dependencies are the collaborators of an AnalysisService.
// Only Supplier is required.
type Dependencies struct {
	Supplier ingest.Supplier
	// Ledger defaults to an in-memory ledger
	Ledger *ledger.Ledger
	// Detector defaults to the standard thresholds
	Detector *detect.Detector
	// Results is optional; without it results live only in Cache
	Results ResultStore
	Cache   *storage.ResultCache
	Tracer  *telemetry.Tracer
	Logger  *zap.SugaredLogger
}

// AnalysisService orchestrates timeline analyses. It owns its ledger and
// in-flight set; there is no package-level instance.
type AnalysisService struct {
	supplier   ingest.Supplier
	ledger     *ledger.Ledger
	detector   *detect.Detector
	normalizer *core.EventNormalizer
	results    ResultStore
	cache      *storage.ResultCache
	tracer     *telemetry.Tracer
	opts       Options
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewAnalysisService creates an orchestrator
func NewAnalysisService(deps Dependencies, opts Options) (*AnalysisService, error) {
	if deps.Supplier == nil {
		return nil, errors.New("an event supplier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	defaults := DefaultOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaults.MaxConcurrent
	}
	if opts.MinMaxEvents <= 0 {
		opts.MinMaxEvents = defaults.MinMaxEvents
	}
	if opts.MaxMaxEvents <= 0 {
		opts.MaxMaxEvents = defaults.MaxMaxEvents
	}
	if opts.DefaultMaxEvents <= 0 {
		opts.DefaultMaxEvents = defaults.DefaultMaxEvents
	}
	if opts.MinMaxEvents > opts.MaxMaxEvents {
		return nil, fmt.Errorf("min max_events %d exceeds max max_events %d", opts.MinMaxEvents, opts.MaxMaxEvents)
	}
	if opts.DefaultMaxEvents < opts.MinMaxEvents || opts.DefaultMaxEvents > opts.MaxMaxEvents {
		return nil, fmt.Errorf("default max_events %d outside [%d, %d]", opts.DefaultMaxEvents, opts.MinMaxEvents, opts.MaxMaxEvents)
	}
	if opts.CorrelationWindow <= 0 {
		opts.CorrelationWindow = defaults.CorrelationWindow
	}
	if opts.Validation.MaxPathLength <= 0 {
		opts.Validation.MaxPathLength = core.DefaultMaxPathLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := deps.Ledger
	if l == nil {
		l = ledger.NewLedger(nil, ledger.Options{}, logger)
	}
	detector := deps.Detector
	if detector == nil {
		detector = detect.NewDetector(detect.DefaultParams(), logger)
	}
	cache := deps.Cache
	if cache == nil {
		var err error
		if cache, err = storage.NewResultCache(storage.DefaultResultCacheSize); err != nil {
			return nil, err
		}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.NewTracer(nil)
	}

	return &AnalysisService{
		supplier:   deps.Supplier,
		ledger:     l,
		detector:   detector,
		normalizer: core.NewEventNormalizer(logger),
		results:    deps.Results,
		cache:      cache,
		tracer:     tracer,
		opts:       opts,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}, nil
}

// Ledger returns the custody ledger of this service
func (s *AnalysisService) Ledger() *ledger.Ledger {
	return s.ledger
}

// InFlight returns the number of running analyses
func (s *AnalysisService) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// reserve atomically checks capacity and claims a slot for a new analysis id
func (s *AnalysisService) reserve() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inFlight) >= s.opts.MaxConcurrent {
		metrics.CapacityRejections.Inc()
		return "", &core.CapacityError{Limit: s.opts.MaxConcurrent, InFlight: len(s.inFlight)}
	}
	id := uuid.New().String()
	s.inFlight[id] = struct{}{}
	metrics.AnalysesInFlight.Inc()
	return id, nil
}

func (s *AnalysisService) release(analysisID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[analysisID]; ok {
		delete(s.inFlight, analysisID)
		metrics.AnalysesInFlight.Dec()
	}
}

// analysisPlan is a validated request
type analysisPlan struct {
	sources   []core.ForensicsSource
	maxEvents int
	threshold time.Duration
	filter    timeline.FilterOptions
}

func (s *AnalysisService) plan(req *core.AnalysisRequest) (*analysisPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxEvents := req.MaxEvents
	if maxEvents == 0 {
		maxEvents = s.opts.DefaultMaxEvents
	}
	if maxEvents < s.opts.MinMaxEvents || maxEvents > s.opts.MaxMaxEvents {
		return nil, core.NewValidationError("max_events", "must be between %d and %d, got %d",
			s.opts.MinMaxEvents, s.opts.MaxMaxEvents, maxEvents)
	}

	threshold := s.opts.CorrelationWindow
	if req.CorrelationRules != nil && req.CorrelationRules.TimeThreshold > 0 {
		threshold = time.Duration(req.CorrelationRules.TimeThreshold) * time.Second
	}

	raws := append([]interface{}{req.Source}, req.AdditionalSources...)
	sources := make([]core.ForensicsSource, 0, len(raws))
	for i, raw := range raws {
		src, err := core.ValidateSource(raw, s.opts.Validation)
		if err != nil {
			var verr *core.ValidationError
			if i > 0 && errors.As(err, &verr) {
				verr.Field = fmt.Sprintf("additional_sources[%d].%s", i-1, verr.Field)
			}
			return nil, err
		}
		sources = append(sources, *src)
	}

	eventTypes := req.EventTypes
	if req.FiltersAllTypes() {
		eventTypes = nil
	}

	return &analysisPlan{
		sources:   sources,
		maxEvents: maxEvents,
		threshold: threshold,
		filter: timeline.FilterOptions{
			Start:      req.StartTime,
			End:        req.EndTime,
			EventTypes: eventTypes,
		},
	}, nil
}

// RunTimelineAnalysis runs one analysis to a terminal result.
//
// The returned error is non-nil only for *core.ValidationError and
// *core.CapacityError, both raised before any evidence is admitted. Every
// other failure is captured in a result with status "error" whose metadata
// names the failed stage.
func (s *AnalysisService) RunTimelineAnalysis(ctx context.Context, req *core.AnalysisRequest) (*core.AnalysisResult, error) {
	analysisID, err := s.reserve()
	if err != nil {
		s.logger.Warnw("Analysis rejected: capacity exceeded", "error", err)
		return nil, err
	}
	defer s.release(analysisID)

	plan, err := s.plan(req)
	if err != nil {
		s.logger.Infow("Analysis request rejected",
			"analysis_id", analysisID,
			"error", err)
		return nil, err
	}

	investigator := req.Investigator
	if investigator == "" {
		investigator = plan.sources[0].Investigator
	}

	result := &core.AnalysisResult{
		AnalysisID:        analysisID,
		Source:            plan.sources[0],
		EvidenceIDs:       make([]string, 0, len(plan.sources)),
		Investigator:      investigator,
		Status:            core.AnalysisStatusRunning,
		StartTime:         s.opts.Now().UTC(),
		Events:            make([]*core.TimelineEvent, 0),
		Anomalies:         core.AnomalyList{},
		CorrelationMatrix: map[string]int{},
		Metadata:          map[string]interface{}{},
	}
	if len(plan.sources) > 1 {
		result.AdditionalSources = plan.sources[1:]
	}

	ctx, span := s.tracer.StartAnalysis(ctx, analysisID, len(plan.sources))

	var runErr error
	if runErr = s.admit(ctx, result, plan, investigator); runErr == nil {
		s.appendStarted(ctx, result, plan, investigator)
		runErr = s.runPipeline(ctx, result, plan)
	}

	s.finalize(ctx, result, plan, investigator, runErr)
	telemetry.EndSpan(span, runErr)
	return result, nil
}

// admit records every source as evidence. In strict ledger mode an
// admission failure fails the analysis at the admit stage.
func (s *AnalysisService) admit(ctx context.Context, result *core.AnalysisResult, plan *analysisPlan, investigator string) error {
	for _, src := range plan.sources {
		id, err := s.ledger.Admit(ctx, src, investigator)
		if err != nil {
			return core.NewStageError(StageAdmit, err)
		}
		result.EvidenceIDs = append(result.EvidenceIDs, id)
	}
	return nil
}

func (s *AnalysisService) appendStarted(ctx context.Context, result *core.AnalysisResult, plan *analysisPlan, investigator string) {
	for _, evidenceID := range result.EvidenceIDs {
		details := map[string]interface{}{
			"analysis_id":           result.AnalysisID,
			"max_events":            plan.maxEvents,
			"correlation_threshold": plan.threshold.Seconds(),
		}
		if len(plan.filter.EventTypes) > 0 {
			details["event_types"] = plan.filter.EventTypes
		}
		if _, err := s.ledger.AppendCustody(ctx, core.CustodyActionAnalysisStarted, evidenceID, investigator, details); err != nil {
			s.logger.Warnw("Custody entry not persisted",
				"analysis_id", result.AnalysisID,
				"action", core.CustodyActionAnalysisStarted,
				"error", err)
		}
	}
}

// originID names the source of each event. Admitted sources use their
// evidence id; unrecorded ones get a positional id so origins stay distinct.
func originID(result *core.AnalysisResult, index int) string {
	if index < len(result.EvidenceIDs) && result.EvidenceIDs[index] != ledger.SentinelEvidenceID {
		return result.EvidenceIDs[index]
	}
	return fmt.Sprintf("source-%d", index+1)
}

// runPipeline executes ingest → normalize → filter → merge → detect →
// summarize. Each stage is traced, timed and guarded against panics.
func (s *AnalysisService) runPipeline(ctx context.Context, result *core.AnalysisResult, plan *analysisPlan) error {
	meta := result.Metadata
	origins := make([]core.Origin, len(plan.sources))
	for i, src := range plan.sources {
		origins[i] = core.Origin{SourceID: originID(result, i), SourceType: src.SourceType}
	}

	var batches []*ingest.Batch
	err := s.stage(ctx, result.AnalysisID, StageIngest, func(ctx context.Context) error {
		batches = make([]*ingest.Batch, len(plan.sources))
		raw, malformed := 0, 0
		for i, src := range plan.sources {
			batch, err := s.supplier.Supply(ctx, src)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.SourcePath, err)
			}
			if batch == nil {
				return fmt.Errorf("source %s: supplier returned no batch", src.SourcePath)
			}
			batches[i] = batch
			raw += len(batch.Records)
			malformed += batch.Malformed
		}
		meta["raw_events"] = raw
		meta["malformed_records"] = malformed
		return nil
	})
	if err != nil {
		return err
	}

	lists := make([]timeline.SourceEvents, len(batches))
	err = s.stage(ctx, result.AnalysisID, StageNormalize, func(context.Context) error {
		normalized, skipped, clamped := 0, 0, 0
		for i, batch := range batches {
			out := s.normalizer.Normalize(batch.Records, origins[i])
			lists[i] = timeline.SourceEvents{Origin: origins[i], Events: out.Events}
			normalized += len(out.Events)
			skipped += out.Skipped
			clamped += out.Clamped
			metrics.EventsNormalized.WithLabelValues(string(origins[i].SourceType)).Add(float64(len(out.Events)))
			metrics.EventsSkipped.WithLabelValues(string(origins[i].SourceType)).Add(float64(out.Skipped))
		}
		meta["normalized_events"] = normalized
		meta["skipped_events"] = skipped
		meta["clamped_confidence"] = clamped
		return nil
	})
	if err != nil {
		return err
	}

	err = s.stage(ctx, result.AnalysisID, StageFilter, func(context.Context) error {
		filtered := 0
		for i := range lists {
			var removed int
			lists[i].Events, removed = timeline.Filter(lists[i].Events, plan.filter)
			filtered += removed
		}
		meta["filtered_events"] = filtered
		return nil
	})
	if err != nil {
		return err
	}

	var merged *timeline.MergeResult
	err = s.stage(ctx, result.AnalysisID, StageMerge, func(context.Context) error {
		merged = timeline.Merge(lists, plan.threshold)
		meta["duplicate_events"] = merged.Duplicates
		meta["merged_events"] = len(merged.Events)
		meta["correlation_threshold"] = plan.threshold.Seconds()
		return nil
	})
	if err != nil {
		return err
	}

	var detection *detect.DetectionResult
	err = s.stage(ctx, result.AnalysisID, StageDetect, func(context.Context) error {
		detection = s.detector.Detect(merged.Events)
		for _, a := range detection.Raw {
			metrics.AnomaliesDetected.WithLabelValues(string(a.Type()), string(a.GetSeverity())).Inc()
		}
		meta["raw_anomalies"] = len(detection.Raw)
		return nil
	})
	if err != nil {
		return err
	}

	var summary *core.Summary
	err = s.stage(ctx, result.AnalysisID, StageSummarize, func(context.Context) error {
		summary = timeline.Summarize(merged.Events, detection.Raw)
		return nil
	})
	if err != nil {
		return err
	}

	// The cap applies after the full chronological sort; the summary and
	// detectors above saw every event.
	events := merged.Events
	if len(events) > plan.maxEvents {
		events = events[:plan.maxEvents]
	}
	meta["returned_events"] = len(events)
	meta["truncated"] = len(merged.Events) > plan.maxEvents
	meta["max_events"] = plan.maxEvents

	result.Events = events
	result.Anomalies = core.AnomalyList(detection.Correlated)
	result.CorrelationMatrix = merged.Matrix
	result.Summary = summary
	return nil
}

// stage runs fn as one named pipeline stage. Errors and panics come back as
// *core.StageError.
func (s *AnalysisService) stage(ctx context.Context, analysisID, name string, fn func(context.Context) error) (err error) {
	ctx, span := s.tracer.StartStage(ctx, analysisID, name)
	start := time.Now()

	defer func() {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}()

	err = func() (stageErr error) {
		defer goroutine.RecoverToError(name, s.logger, &stageErr)
		return fn(ctx)
	}()
	if err != nil {
		return core.NewStageError(name, err)
	}
	return nil
}

// finalize makes the result terminal, hashes it, closes the custody trail
// and stores it.
func (s *AnalysisService) finalize(ctx context.Context, result *core.AnalysisResult, plan *analysisPlan, investigator string, runErr error) {
	end := s.opts.Now().UTC()
	result.EndTime = &end
	result.Metadata["sources"] = len(plan.sources)
	result.Metadata["session_id"] = s.ledger.SessionID()

	if runErr == nil {
		result.Status = core.AnalysisStatusCompleted
	} else {
		s.markFailed(result, runErr)
	}

	hash, err := core.ComputeIntegrityHash(result)
	if err != nil && result.Status == core.AnalysisStatusCompleted {
		// Unserializable event details: keep the failure, drop the payload
		runErr = core.NewStageError(StageFinalize, err)
		s.markFailed(result, runErr)
		hash, err = core.ComputeIntegrityHash(result)
	}
	if err != nil {
		s.logger.Errorw("Failed to compute integrity hash",
			"analysis_id", result.AnalysisID,
			"error", err)
	}
	result.IntegrityHash = hash

	s.appendTerminal(ctx, result, investigator, runErr)

	metrics.AnalysesTotal.WithLabelValues(string(result.Status)).Inc()
	s.cache.Add(result.Clone())
	if s.results != nil {
		if err := s.results.SaveResult(ctx, result); err != nil {
			s.logger.Errorw("Failed to persist analysis result",
				"analysis_id", result.AnalysisID,
				"error", err)
		}
	}

	s.logger.Infow("Analysis finished",
		"analysis_id", result.AnalysisID,
		"status", result.Status,
		"events", len(result.Events),
		"anomalies", len(result.Anomalies),
		"duration", end.Sub(result.StartTime))
}

// markFailed turns result into an error result that records the failed stage
func (s *AnalysisService) markFailed(result *core.AnalysisResult, runErr error) {
	stage := StageFinalize
	var serr *core.StageError
	if errors.As(runErr, &serr) {
		stage = serr.Stage
	}

	result.Status = core.AnalysisStatusError
	result.Events = make([]*core.TimelineEvent, 0)
	result.Anomalies = core.AnomalyList{}
	result.CorrelationMatrix = map[string]int{}
	result.Summary = nil
	result.Metadata["error"] = map[string]interface{}{
		"stage":   stage,
		"message": util.SanitizeMessage(runErr.Error(), 0),
	}

	s.logger.Errorw("Analysis failed",
		"analysis_id", result.AnalysisID,
		"stage", stage,
		"error", util.SanitizeError(runErr))
}

func (s *AnalysisService) appendTerminal(ctx context.Context, result *core.AnalysisResult, investigator string, runErr error) {
	action := core.CustodyActionCompleted
	details := map[string]interface{}{
		"analysis_id":    result.AnalysisID,
		"status":         string(result.Status),
		"integrity_hash": result.IntegrityHash,
	}
	if runErr == nil {
		details["event_count"] = len(result.Events)
		details["anomaly_count"] = len(result.Anomalies)
		if digest, err := core.EventsDigest(result.Events); err == nil {
			details["events_digest"] = digest
		}
	} else {
		action = core.CustodyActionFailed
		if failure, ok := result.Failure(); ok {
			details["stage"] = failure.Stage
			details["error"] = failure.Message
		}
	}

	evidenceIDs := result.EvidenceIDs
	if len(evidenceIDs) == 0 {
		// Nothing was admitted; the failure still lands on the trail
		evidenceIDs = []string{ledger.SentinelEvidenceID}
	}
	for _, evidenceID := range evidenceIDs {
		if _, err := s.ledger.AppendCustody(ctx, action, evidenceID, investigator, details); err != nil {
			s.logger.Warnw("Custody entry not persisted",
				"analysis_id", result.AnalysisID,
				"action", action,
				"error", err)
		}
	}
}

// GetResult returns a finished analysis from the cache or the result store.
// Every call returns a private copy; the cached result is never handed out.
func (s *AnalysisService) GetResult(ctx context.Context, analysisID string) (*core.AnalysisResult, error) {
	if result, ok := s.cache.Get(analysisID); ok {
		return result.Clone(), nil
	}
	if s.results == nil {
		return nil, ErrResultNotFound
	}

	result, err := s.results.GetResult(ctx, analysisID)
	if errors.Is(err, storage.ErrAnalysisNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", analysisID, err)
	}
	s.cache.Add(result.Clone())
	return result, nil
}
