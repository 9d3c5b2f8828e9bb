package instrumentation

import (
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func clearInstrumentationEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OTEL_SERVICE_NAME",
		"INSTRUMENTATION_ENABLED",
		"METRICS_EXPORTER",
		"TRACING_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_TRACES_SAMPLER_ARG",
		"METRICS_DETAILED_LABELS",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearInstrumentationEnv(t)

	config := DefaultConfig()

	if config.ServiceName != "kubecontexts" {
		t.Errorf("expected ServiceName to be 'kubecontexts', got %s", config.ServiceName)
	}

	if config.Enabled {
		t.Error("expected Enabled to be false by default for zero overhead")
	}

	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected MetricsExporter to be 'prometheus', got %s", config.MetricsExporter)
	}

	if config.TracingExporter != ExporterNone {
		t.Errorf("expected TracingExporter to be 'none', got %s", config.TracingExporter)
	}

	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected TraceSamplingRate to be 0.1, got %f", config.TraceSamplingRate)
	}

	if config.DetailedLabels {
		t.Error("expected DetailedLabels to be false by default")
	}
}

func TestDefaultConfigWithEnv(t *testing.T) {
	clearInstrumentationEnv(t)
	t.Setenv("OTEL_SERVICE_NAME", "test-service")
	t.Setenv("INSTRUMENTATION_ENABLED", "true")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("TRACING_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_DETAILED_LABELS", "true")

	config := DefaultConfig()

	if config.ServiceName != "test-service" {
		t.Errorf("expected ServiceName to be 'test-service', got %s", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected Enabled to be true")
	}
	if config.MetricsExporter != "stdout" {
		t.Errorf("expected MetricsExporter to be 'stdout', got %s", config.MetricsExporter)
	}
	if config.TracingExporter != "otlp" {
		t.Errorf("expected TracingExporter to be 'otlp', got %s", config.TracingExporter)
	}
	if config.OTLPEndpoint != "http://localhost:4318" {
		t.Errorf("expected OTLPEndpoint to be 'http://localhost:4318', got %s", config.OTLPEndpoint)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("expected TraceSamplingRate to be 0.5, got %f", config.TraceSamplingRate)
	}
	if !config.DetailedLabels {
		t.Error("expected DetailedLabels to be true")
	}
}

func TestDefaultConfigInvalidEnvFallsBack(t *testing.T) {
	clearInstrumentationEnv(t)
	t.Setenv("INSTRUMENTATION_ENABLED", "maybe")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "lots")

	config := DefaultConfig()

	if config.Enabled {
		t.Error("expected unparseable INSTRUMENTATION_ENABLED to fall back to false")
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected unparseable sampling rate to fall back to 0.1, got %f", config.TraceSamplingRate)
	}
}

func TestConfigValidate(t *testing.T) {
	clearInstrumentationEnv(t)

	config := DefaultConfig()
	config.Enabled = true
	if err := config.Validate(); err != nil {
		t.Errorf("expected Validate to return nil for default config, got %v", err)
	}

	config.TraceSamplingRate = 1.5
	if err := config.Validate(); err == nil {
		t.Error("expected error for sampling rate > 1.0")
	}

	config.TraceSamplingRate = -0.1
	if err := config.Validate(); err == nil {
		t.Error("expected error for negative sampling rate")
	}

	config.TraceSamplingRate = 0.5

	config.MetricsExporter = "invalid"
	if err := config.Validate(); err == nil {
		t.Error("expected error for invalid metrics exporter")
	}

	// A reader override makes the exporter name irrelevant.
	config.Reader = sdkmetric.NewManualReader()
	if err := config.Validate(); err != nil {
		t.Errorf("expected reader override to pass validation, got %v", err)
	}

	config.TracingExporter = "jaeger"
	if err := config.Validate(); err == nil {
		t.Error("expected error for invalid tracing exporter")
	}

	// Disabled instrumentation is never rejected.
	config.Enabled = false
	if err := config.Validate(); err != nil {
		t.Errorf("expected disabled config to pass validation, got %v", err)
	}
}
