package clients

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/logging"
)

// Clients is the set of clients for one context.
type Clients struct {
	Kubernetes kubernetes.Interface
	Dynamic    dynamic.Interface
	REST       *rest.Config
}

// Factory builds the clients of a context.
type Factory func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (*Clients, error)

// NewFactory returns a Factory that builds clients from the descriptor's
// REST config with cc applied.
func NewFactory(cc ClientConfig) Factory {
	return func(_ context.Context, desc *kubeconfig.ContextDescriptor) (*Clients, error) {
		config, err := desc.RESTConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build REST config for context %q: %w", desc.Name, err)
		}
		cc.Apply(config)

		clientset, err := kubernetes.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client for context %q: %w", desc.Name, err)
		}
		dynamicClient, err := dynamic.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create dynamic client for context %q: %w", desc.Name, err)
		}
		return &Clients{Kubernetes: clientset, Dynamic: dynamicClient, REST: config}, nil
	}
}

// MetricsRecorder receives cache metrics.
type MetricsRecorder interface {
	RecordCacheHit(ctx context.Context, contextName string)
	RecordCacheMiss(ctx context.Context, contextName string)
	RecordCacheEviction(ctx context.Context, reason string)
	RecordCacheSize(ctx context.Context, delta int64)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordCacheHit(context.Context, string)      {}
func (noopMetricsRecorder) RecordCacheMiss(context.Context, string)     {}
func (noopMetricsRecorder) RecordCacheEviction(context.Context, string) {}
func (noopMetricsRecorder) RecordCacheSize(context.Context, int64)      {}

type entry struct {
	clients    *Clients
	descriptor *kubeconfig.ContextDescriptor
	createdAt  time.Time
	expiry     time.Time

	// lastAccessedNanos allows touching under a read lock.
	lastAccessedNanos atomic.Int64
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiry)
}

func (e *entry) touch(now time.Time) {
	e.lastAccessedNanos.Store(now.UnixNano())
}

func (e *entry) lastAccessed() time.Time {
	return time.Unix(0, e.lastAccessedNanos.Load())
}

// Cache holds one Clients value per context.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	config  CacheConfig
	factory Factory
	logger  *slog.Logger
	metrics MetricsRecorder

	createGroup singleflight.Group

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool

	now func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheConfig sets the cache configuration.
func WithCacheConfig(config CacheConfig) CacheOption {
	return func(c *Cache) {
		c.config = config
	}
}

// WithFactory replaces the client factory.
func WithFactory(f Factory) CacheOption {
	return func(c *Cache) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithCacheLogger sets the logger for the cache.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheMetrics sets the metrics recorder for the cache.
func WithCacheMetrics(metrics MetricsRecorder) CacheOption {
	return func(c *Cache) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func withCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a Cache and starts its cleanup goroutine.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		config:  DefaultCacheConfig(),
		factory: NewFactory(DefaultClientConfig()),
		logger:  slog.Default(),
		metrics: noopMetricsRecorder{},
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	defaults := DefaultCacheConfig()
	if c.config.TTL <= 0 {
		c.config.TTL = defaults.TTL
	}
	if c.config.MaxEntries <= 0 {
		c.config.MaxEntries = defaults.MaxEntries
	}
	if c.config.CleanupInterval <= 0 {
		c.config.CleanupInterval = defaults.CleanupInterval
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	c.logger.Debug("client cache initialized",
		"ttl", c.config.TTL,
		"max_entries", c.config.MaxEntries)

	return c
}

// Get returns the cached clients for desc if a fresh entry built from an
// equal descriptor exists.
func (c *Cache) Get(ctx context.Context, desc *kubeconfig.ContextDescriptor) (*Clients, bool) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false
	}

	e, ok := c.entries[desc.Name]
	if !ok || e.isExpired(now) || !e.descriptor.Equal(desc) {
		c.metrics.RecordCacheMiss(ctx, desc.Name)
		return nil, false
	}

	e.touch(now)
	c.metrics.RecordCacheHit(ctx, desc.Name)
	return e.clients, true
}

// GetOrCreate returns the cached clients for desc, building them on a miss.
// Concurrent callers for the same context share one build.
func (c *Cache) GetOrCreate(ctx context.Context, desc *kubeconfig.ContextDescriptor) (*Clients, error) {
	if clients, ok := c.Get(ctx, desc); ok {
		return clients, nil
	}

	result, err, _ := c.createGroup.Do(desc.Name, func() (any, error) {
		if clients, ok := c.Get(ctx, desc); ok {
			return clients, nil
		}
		clients, err := c.factory(ctx, desc)
		if err != nil {
			return nil, err
		}
		c.set(ctx, desc, clients)
		return clients, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Clients), nil
}

// Kubernetes returns the typed client of desc.
func (c *Cache) Kubernetes(ctx context.Context, desc *kubeconfig.ContextDescriptor) (kubernetes.Interface, error) {
	clients, err := c.GetOrCreate(ctx, desc)
	if err != nil {
		return nil, err
	}
	return clients.Kubernetes, nil
}

// DynamicClient returns the dynamic client of desc.
func (c *Cache) DynamicClient(ctx context.Context, desc *kubeconfig.ContextDescriptor) (dynamic.Interface, error) {
	clients, err := c.GetOrCreate(ctx, desc)
	if err != nil {
		return nil, err
	}
	return clients.Dynamic, nil
}

func (c *Cache) set(ctx context.Context, desc *kubeconfig.ContextDescriptor, clients *Clients) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if _, replacing := c.entries[desc.Name]; !replacing {
		c.evictIfNeededLocked(ctx)
		c.metrics.RecordCacheSize(ctx, 1)
	}

	e := &entry{
		clients:    clients,
		descriptor: desc,
		createdAt:  now,
		expiry:     now.Add(c.config.TTL),
	}
	e.touch(now)
	c.entries[desc.Name] = e

	c.logger.Debug("cached clients", logging.Context(desc.Name), logging.Host(desc.Server))
}

// Delete drops the entry of contextName.
func (c *Cache) Delete(ctx context.Context, contextName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, ok := c.entries[contextName]; ok {
		delete(c.entries, contextName)
		c.metrics.RecordCacheEviction(ctx, "manual")
		c.metrics.RecordCacheSize(ctx, -1)
		c.logger.Debug("deleted cached clients", logging.Context(contextName))
	}
}

// Size returns the number of cached contexts.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine and drops every entry. Later calls are no-ops.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	if n := len(c.entries); n > 0 {
		c.metrics.RecordCacheSize(context.Background(), -int64(n))
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	return nil
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	now := c.now()
	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	expired := 0
	for name, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, name)
			expired++
			c.metrics.RecordCacheEviction(ctx, "expired")
		}
	}
	if expired > 0 {
		c.metrics.RecordCacheSize(ctx, -int64(expired))
		c.logger.Debug("cleaned up expired client cache entries",
			"expired_count", expired,
			"remaining", len(c.entries))
	}
}

// evictIfNeededLocked evicts the least recently used entry at capacity.
// Must be called with c.mu held.
func (c *Cache) evictIfNeededLocked(ctx context.Context) {
	if len(c.entries) < c.config.MaxEntries {
		return
	}

	var oldestName string
	var oldestTime time.Time
	for name, e := range c.entries {
		if last := e.lastAccessed(); oldestName == "" || last.Before(oldestTime) {
			oldestName = name
			oldestTime = last
		}
	}

	if oldestName != "" {
		delete(c.entries, oldestName)
		c.metrics.RecordCacheEviction(ctx, "lru")
		c.metrics.RecordCacheSize(ctx, -1)
		c.logger.Debug("evicted LRU client cache entry", logging.Context(oldestName))
	}
}

// CacheStats reports the cache state.
type CacheStats struct {
	Size        int
	MaxEntries  int
	TTL         time.Duration
	OldestEntry time.Duration
	NewestEntry time.Duration
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Size:       len(c.entries),
		MaxEntries: c.config.MaxEntries,
		TTL:        c.config.TTL,
	}

	now := c.now()
	var oldest, newest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
		if newest.IsZero() || e.createdAt.After(newest) {
			newest = e.createdAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntry = now.Sub(oldest)
		stats.NewestEntry = now.Sub(newest)
	}
	return stats
}
