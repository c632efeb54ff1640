// Package observability provides tracing and degradation reporting helpers
// for the gate services.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatguard/internal/ratelimit/models"
)

const tracerName = "chatguard/ratelimit"

const (
	AttrGate       = "chatguard.gate"
	AttrIdentifier = "chatguard.identifier"
	AttrOutcome    = "chatguard.outcome"
	AttrDegraded   = "chatguard.degraded"
)

// StartDecision opens a span around one gate decision. The span is a no-op
// unless the process installs a tracer provider.
func StartDecision(ctx context.Context, gate models.Gate, identifier string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gate."+string(gate),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrGate, string(gate)),
			attribute.String(AttrIdentifier, identifier),
		),
	)
}

// EndDecision records the outcome on span and ends it.
func EndDecision(span trace.Span, outcome string, degraded bool, err error) {
	span.SetAttributes(
		attribute.String(AttrOutcome, outcome),
		attribute.Bool(AttrDegraded, degraded),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
