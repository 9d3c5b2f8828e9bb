package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod      = "method"
	attrPath        = "path"
	attrStatus      = "status"
	attrResult      = "result"
	attrContext     = "context"
	attrContextType = "context_type"
	attrKind        = "resource_kind"
	attrVerb        = "verb"
	attrEvent       = "event"
	attrChannel     = "channel"
	attrReason      = "reason"
)

var durationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics provides methods for recording observability metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Health prober metrics
	healthProbesTotal   metric.Int64Counter
	healthProbeDuration metric.Float64Histogram

	// Permission prober metrics
	accessReviewsTotal metric.Int64Counter

	// Informer metrics
	informersActive  metric.Int64UpDownCounter
	informerErrors   metric.Int64Counter
	informerRestarts metric.Int64Counter

	// Context lifecycle metrics
	contextsActive metric.Int64UpDownCounter
	contextEvents  metric.Int64Counter

	// Dispatcher metrics
	notificationsTotal metric.Int64Counter

	// Client cache metrics
	clientCacheHits      metric.Int64Counter
	clientCacheMisses    metric.Int64Counter
	clientCacheEvictions metric.Int64Counter
	clientCacheEntries   metric.Int64UpDownCounter

	// detailedLabels adds the raw context name to per-context metrics
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.healthProbesTotal, err = meter.Int64Counter(
		"kubecontexts_health_probes_total",
		metric.WithDescription("Total number of cluster readiness probes"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_health_probes_total counter: %w", err)
	}

	m.healthProbeDuration, err = meter.Float64Histogram(
		"kubecontexts_health_probe_duration_seconds",
		metric.WithDescription("Cluster readiness probe duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_health_probe_duration_seconds histogram: %w", err)
	}

	m.accessReviewsTotal, err = meter.Int64Counter(
		"kubecontexts_access_reviews_total",
		metric.WithDescription("Total number of SelfSubjectAccessReview calls"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_access_reviews_total counter: %w", err)
	}

	m.informersActive, err = meter.Int64UpDownCounter(
		"kubecontexts_informers_active",
		metric.WithDescription("Number of running resource informers"),
		metric.WithUnit("{informer}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_informers_active gauge: %w", err)
	}

	m.informerErrors, err = meter.Int64Counter(
		"kubecontexts_informer_errors_total",
		metric.WithDescription("Total number of informer watch failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_informer_errors_total counter: %w", err)
	}

	m.informerRestarts, err = meter.Int64Counter(
		"kubecontexts_informer_restarts_total",
		metric.WithDescription("Total number of informer restarts after a failure"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_informer_restarts_total counter: %w", err)
	}

	m.contextsActive, err = meter.Int64UpDownCounter(
		"kubecontexts_contexts",
		metric.WithDescription("Number of contexts currently managed"),
		metric.WithUnit("{context}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_contexts gauge: %w", err)
	}

	m.contextEvents, err = meter.Int64Counter(
		"kubecontexts_context_events_total",
		metric.WithDescription("Total number of context add/update/delete events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_context_events_total counter: %w", err)
	}

	m.notificationsTotal, err = meter.Int64Counter(
		"kubecontexts_notifications_total",
		metric.WithDescription("Total number of change notifications delivered to subscribers"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_notifications_total counter: %w", err)
	}

	m.clientCacheHits, err = meter.Int64Counter(
		"kubecontexts_client_cache_hits_total",
		metric.WithDescription("Total number of client cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_client_cache_hits_total counter: %w", err)
	}

	m.clientCacheMisses, err = meter.Int64Counter(
		"kubecontexts_client_cache_misses_total",
		metric.WithDescription("Total number of client cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_client_cache_misses_total counter: %w", err)
	}

	m.clientCacheEvictions, err = meter.Int64Counter(
		"kubecontexts_client_cache_evictions_total",
		metric.WithDescription("Total number of client cache evictions"),
		metric.WithUnit("{eviction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_client_cache_evictions_total counter: %w", err)
	}

	m.clientCacheEntries, err = meter.Int64UpDownCounter(
		"kubecontexts_client_cache_entries",
		metric.WithDescription("Number of cached client sets"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubecontexts_client_cache_entries gauge: %w", err)
	}

	return m, nil
}

// contextAttrs returns the context labels for a per-context metric.
func (m *Metrics) contextAttrs(contextName string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(attrContextType, ClassifyContextName(contextName)),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrContext, contextName))
	}
	return attrs
}

// RecordHTTPRequest records an HTTP request with its method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordHealthProbe records the outcome of one readiness probe.
func (m *Metrics) RecordHealthProbe(ctx context.Context, contextName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := append(m.contextAttrs(contextName), attribute.String(attrResult, result))
	m.healthProbesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.healthProbeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAccessReview records one SelfSubjectAccessReview call.
func (m *Metrics) RecordAccessReview(ctx context.Context, contextName, kind, verb, result string) {
	if m == nil {
		return
	}
	attrs := append(m.contextAttrs(contextName),
		attribute.String(attrKind, kind),
		attribute.String(attrVerb, verb),
		attribute.String(attrResult, result),
	)
	m.accessReviewsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInformerStarted increments the running informer gauge.
func (m *Metrics) RecordInformerStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.informersActive.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordInformerStopped decrements the running informer gauge.
func (m *Metrics) RecordInformerStopped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.informersActive.Add(ctx, -1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordInformerError records a watch failure reported by an informer.
func (m *Metrics) RecordInformerError(ctx context.Context, contextName, kind string) {
	if m == nil {
		return
	}
	attrs := append(m.contextAttrs(contextName), attribute.String(attrKind, kind))
	m.informerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInformerRestart records a scheduled informer restart.
func (m *Metrics) RecordInformerRestart(ctx context.Context, contextName, kind string) {
	if m == nil {
		return
	}
	attrs := append(m.contextAttrs(contextName), attribute.String(attrKind, kind))
	m.informerRestarts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordContextEvent records a differ event and keeps the context gauge in step.
func (m *Metrics) RecordContextEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.contextEvents.Add(ctx, 1, metric.WithAttributes(attribute.String(attrEvent, event)))
	switch event {
	case "add":
		m.contextsActive.Add(ctx, 1)
	case "delete":
		m.contextsActive.Add(ctx, -1)
	}
}

// RecordNotification records one change notification for a dispatcher channel.
func (m *Metrics) RecordNotification(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.notificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrChannel, channel)))
}

// RecordCacheHit records a client cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context, contextName string) {
	if m == nil {
		return
	}
	m.clientCacheHits.Add(ctx, 1, metric.WithAttributes(m.contextAttrs(contextName)...))
}

// RecordCacheMiss records a client cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context, contextName string) {
	if m == nil {
		return
	}
	m.clientCacheMisses.Add(ctx, 1, metric.WithAttributes(m.contextAttrs(contextName)...))
}

// RecordCacheEviction records a client cache eviction and its reason.
func (m *Metrics) RecordCacheEviction(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.clientCacheEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// RecordCacheSize adjusts the cached client gauge by delta.
func (m *Metrics) RecordCacheSize(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.clientCacheEntries.Add(ctx, delta)
}
