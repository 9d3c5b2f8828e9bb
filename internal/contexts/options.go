package contexts

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/permissions"
	"github.com/giantswarm/kubecontexts/internal/resources"
)

// Options tunes the Manager's scheduling.
type Options struct {
	// HealthCheckInterval is the pause between two probes of one context.
	//
	// Default: 30 seconds.
	HealthCheckInterval time.Duration

	// HealthCheckTimeout bounds a single readiness probe.
	//
	// Default: health.DefaultProbeTimeout.
	HealthCheckTimeout time.Duration

	// InformerRestartBackoff paces restarts of a failed informer. Once its
	// steps are used up the kind stays stopped until the context becomes
	// reachable again.
	InformerRestartBackoff wait.Backoff

	// MaxConcurrentResources bounds concurrent permission chains per context.
	//
	// Default: permissions.DefaultMaxConcurrentResources.
	MaxConcurrentResources int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  health.DefaultProbeTimeout,
		InformerRestartBackoff: wait.Backoff{
			Duration: time.Second,
			Factor:   2,
			Jitter:   0.1,
			Steps:    6,
			Cap:      2 * time.Minute,
		},
		MaxConcurrentResources: permissions.DefaultMaxConcurrentResources,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if o.HealthCheckTimeout <= 0 {
		o.HealthCheckTimeout = defaults.HealthCheckTimeout
	}
	if o.InformerRestartBackoff.Duration <= 0 {
		o.InformerRestartBackoff = defaults.InformerRestartBackoff
	}
	if o.MaxConcurrentResources <= 0 {
		o.MaxConcurrentResources = defaults.MaxConcurrentResources
	}
	return o
}

// ProberConstructor builds the readiness prober of a context.
type ProberConstructor func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (health.ReadinessProber, error)

// ReviewerConstructor builds the access reviewer of a context.
type ReviewerConstructor func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (permissions.AccessReviewer, error)

// CacheProber returns a ProberConstructor backed by cache.
func CacheProber(cache *clients.Cache) ProberConstructor {
	return func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (health.ReadinessProber, error) {
		c, err := cache.GetOrCreate(ctx, desc)
		if err != nil {
			return nil, err
		}
		prober, err := health.NewRESTReadinessProber(desc.Name, c.REST)
		if err != nil {
			return nil, err
		}
		return prober, nil
	}
}

// CacheReviewer returns a ReviewerConstructor backed by cache.
func CacheReviewer(cache *clients.Cache) ReviewerConstructor {
	return func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (permissions.AccessReviewer, error) {
		c, err := cache.GetOrCreate(ctx, desc)
		if err != nil {
			return nil, err
		}
		return permissions.NewSelfSubjectAccessReviewer(c.Kubernetes), nil
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithOptions sets the scheduling options.
func WithOptions(o Options) Option {
	return func(m *Manager) {
		m.options = o
	}
}

// WithSink sets the receiver of state changes.
func WithSink(sink StateSink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithProberConstructor replaces the readiness prober constructor.
func WithProberConstructor(fn ProberConstructor) Option {
	return func(m *Manager) {
		m.newProber = fn
	}
}

// WithReviewerConstructor replaces the access reviewer constructor.
func WithReviewerConstructor(fn ReviewerConstructor) Option {
	return func(m *Manager) {
		m.newReviewer = fn
	}
}

// WithClientCache makes the default constructors use cache. The Manager drops
// a context's entry when the context goes away but does not close the cache.
func WithClientCache(cache *clients.Cache) Option {
	return func(m *Manager) {
		m.clients = cache
	}
}

// WithInformerRegistry sets the informer index.
func WithInformerRegistry(registry *resources.InformerRegistry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}
