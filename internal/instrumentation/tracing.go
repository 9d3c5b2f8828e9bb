package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used by every span this module starts.
const TracerName = "github.com/giantswarm/kubecontexts"

// Span attribute keys.
const (
	// SpanAttrContext is the kubeconfig context name.
	SpanAttrContext = "kubecontexts.context"

	// SpanAttrContextType is the classified context type.
	SpanAttrContextType = "kubecontexts.context_type"

	// SpanAttrOperation is the engine operation (health_probe, access_review, ...).
	SpanAttrOperation = "kubecontexts.operation"

	// SpanAttrResourceKind is the resource kind of an informer or access review.
	SpanAttrResourceKind = "k8s.resource_kind"

	// SpanAttrVerb is the verb of an access review.
	SpanAttrVerb = "k8s.verb"

	// SpanAttrNamespace is the Kubernetes namespace.
	SpanAttrNamespace = "k8s.namespace"

	// SpanAttrAllowed is the outcome of an access review.
	SpanAttrAllowed = "k8s.allowed"
)

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartContextSpan starts a client span for an operation against one context's
// API server. The span is named "kubecontexts.<operation>".
func StartContextSpan(ctx context.Context, operation, contextName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrOperation, operation),
		attribute.String(SpanAttrContext, contextName),
		attribute.String(SpanAttrContextType, ClassifyContextName(contextName)),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "kubecontexts."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
