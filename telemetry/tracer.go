// Package telemetry wraps OpenTelemetry tracing for the analysis pipeline.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for every custodian span
const InstrumentationName = "custodian"

// Tracer starts the spans of an analysis and its stages
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from provider, or from the global provider when nil
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(InstrumentationName)}
}

// StartAnalysis starts the root span of one analysis
func (t *Tracer) StartAnalysis(ctx context.Context, analysisID string, sources int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "analysis", trace.WithAttributes(
		attribute.String("analysis.id", analysisID),
		attribute.Int("analysis.sources", sources),
	))
}

// StartStage starts a child span for one pipeline stage
func (t *Tracer) StartStage(ctx context.Context, analysisID, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("analysis.%s", stage), trace.WithAttributes(
		attribute.String("analysis.id", analysisID),
		attribute.String("analysis.stage", stage),
	))
}

// SetAttributes converts a loosely typed map into span attributes
func SetAttributes(span trace.Span, attrs map[string]interface{}) {
	span.SetAttributes(convertAttributes(attrs)...)
}

// EndSpan records err (if any) on the span and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func convertAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			result = append(result, attribute.String(k, val))
		case int:
			result = append(result, attribute.Int(k, val))
		case int64:
			result = append(result, attribute.Int64(k, val))
		case float64:
			result = append(result, attribute.Float64(k, val))
		case bool:
			result = append(result, attribute.Bool(k, val))
		case []string:
			result = append(result, attribute.StringSlice(k, val))
		default:
			result = append(result, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return result
}
