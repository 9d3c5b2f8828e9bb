package instrumentation

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Provider owns the meter and tracer providers for one process.
// When instrumentation is disabled every recorder is backed by a no-op meter.
type Provider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	metrics        *Metrics
}

// NewProvider creates a Provider from config.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "kubecontexts"
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{config: config}

	if !config.Enabled {
		p.meter = noop.NewMeterProvider().Meter(TracerName)
	} else {
		res := resource.NewSchemaless(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
		)

		reader, err := newMetricReader(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		p.meter = p.meterProvider.Meter(TracerName)

		tp, err := newTracerProvider(ctx, config, res)
		if err != nil {
			_ = p.meterProvider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create tracing exporter: %w", err)
		}
		if tp != nil {
			p.tracerProvider = tp
			otel.SetTracerProvider(tp)
		}
	}

	metrics, err := NewMetrics(p.meter, config.DetailedLabels)
	if err != nil {
		return nil, err
	}
	p.metrics = metrics

	return p, nil
}

func newMetricReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	if config.Reader != nil {
		return config.Reader, nil
	}

	switch config.MetricsExporter {
	case ExporterOTLP:
		var opts []otlpmetrichttp.Option
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(config.OTLPEndpoint))
		}
		if config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(DefaultMetricInterval)), nil
	case ExporterStdout:
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(DefaultMetricInterval)), nil
	default:
		var opts []otelprom.Option
		if config.PrometheusRegistry != nil {
			opts = append(opts, otelprom.WithRegisterer(config.PrometheusRegistry))
		}
		return otelprom.New(opts...)
	}
}

func newTracerProvider(ctx context.Context, config Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch config.TracingExporter {
	case ExporterOTLP:
		var opts []otlptracehttp.Option
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
		}
		if config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.TraceSamplingRate))),
	), nil
}

// Enabled reports whether metrics and traces are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.config.Enabled
}

// Exporters returns the configured metrics and tracing exporter names.
func (p *Provider) Exporters() (metrics, tracing string) {
	if p == nil {
		return "", ""
	}
	return p.config.MetricsExporter, p.config.TracingExporter
}

// Metrics returns the metric recorders. It is never nil for a non-nil Provider.
func (p *Provider) Metrics() *Metrics {
	if p == nil {
		return nil
	}
	return p.metrics
}

// Meter returns the underlying meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Gatherer returns the Prometheus gatherer the exporter registered with.
func (p *Provider) Gatherer() prometheus.Gatherer {
	if p.config.PrometheusRegistry != nil {
		return p.config.PrometheusRegistry
	}
	return prometheus.DefaultGatherer
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
