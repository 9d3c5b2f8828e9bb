// Package instrumentation provides OpenTelemetry metrics and tracing for the
// kubecontexts engine.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Engine Metrics:
//   - kubecontexts_contexts: Gauge of contexts currently managed
//   - kubecontexts_context_events_total: Counter of differ events by type
//   - kubecontexts_health_probes_total: Counter of readiness probes by result
//   - kubecontexts_health_probe_duration_seconds: Histogram of probe durations
//   - kubecontexts_access_reviews_total: Counter of access reviews by kind, verb and result
//   - kubecontexts_informers_active: Gauge of running informers by kind
//   - kubecontexts_informer_errors_total: Counter of informer watch failures
//   - kubecontexts_informer_restarts_total: Counter of informer restarts
//   - kubecontexts_notifications_total: Counter of change notifications by channel
//
// Client Cache Metrics:
//   - kubecontexts_client_cache_hits_total, _misses_total, _evictions_total
//   - kubecontexts_client_cache_entries: Gauge of cached client sets
//
// # Cardinality Considerations
//
// Per-context metrics carry a context_type label computed by
// ClassifyContextName. The raw context name is only added when
// Config.DetailedLabels is set.
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - METRICS_DETAILED_LABELS: Add context names to metrics (default: false)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: kubecontexts)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordHealthProbe(ctx, "kind-dev", instrumentation.ResultReachable, time.Since(start))
package instrumentation
