package contexts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/permissions"
	"github.com/giantswarm/kubecontexts/internal/resources"
)

// Manager owns the health checker, permission checker and informers of
// every known context.
type Manager struct {
	factories *resources.FactoryRegistry
	registry  *resources.InformerRegistry
	differ    *kubeconfig.Differ
	sink      StateSink

	clients     *clients.Cache
	ownsClients bool
	newProber   ProberConstructor
	newReviewer ReviewerConstructor

	options Options
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// updateMu serializes Update and Close.
	updateMu sync.Mutex

	mu       sync.RWMutex
	contexts map[string]*contextState
	closed   bool

	wg sync.WaitGroup
}

// NewManager creates a Manager for the kinds in factories. Without
// WithProberConstructor or WithReviewerConstructor the Manager builds its
// clients through a client cache, its own unless WithClientCache is given.
func NewManager(factories *resources.FactoryRegistry, opts ...Option) *Manager {
	if factories == nil {
		factories = resources.NewFactoryRegistry()
	}
	m := &Manager{
		factories: factories,
		registry:  resources.NewInformerRegistry(),
		differ:    kubeconfig.NewDiffer(),
		sink:      discardSink{},
		options:   DefaultOptions(),
		logger:    slog.Default(),
		contexts:  make(map[string]*contextState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.options = m.options.withDefaults()

	if m.newProber == nil || m.newReviewer == nil {
		if m.clients == nil {
			cacheOpts := []clients.CacheOption{clients.WithCacheLogger(m.logger)}
			if m.metrics != nil {
				cacheOpts = append(cacheOpts, clients.WithCacheMetrics(m.metrics))
			}
			m.clients = clients.NewCache(cacheOpts...)
			m.ownsClients = true
		}
		if m.newProber == nil {
			m.newProber = CacheProber(m.clients)
		}
		if m.newReviewer == nil {
			m.newReviewer = CacheReviewer(m.clients)
		}
	}

	m.baseCtx, m.cancelBase = context.WithCancel(context.Background())
	m.differ.OnEvent(m.handleEvent)
	return m
}

// Update diffs cfg against the known contexts and applies the resulting
// events. The events are returned in emission order.
func (m *Manager) Update(ctx context.Context, cfg kubeconfig.RawConfig) ([]kubeconfig.ContextEvent, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	_, span := instrumentation.StartSpan(ctx, "kubecontexts.context_update")
	defer span.End()

	evs := m.differ.Update(cfg)
	span.SetAttributes(attribute.Int("kubecontexts.context_events", len(evs)))
	instrumentation.SetSpanSuccess(span)
	return evs, nil
}

func (m *Manager) handleEvent(ev kubeconfig.ContextEvent) {
	m.metrics.RecordContextEvent(context.Background(), ev.Type.String())
	m.logger.Info("context changed", slog.String("event", ev.Type.String()), logging.Context(ev.Name))

	switch ev.Type {
	case kubeconfig.ContextAdded:
		m.addContext(ev.Descriptor)
	case kubeconfig.ContextUpdated:
		m.removeContext(ev.Name)
		m.addContext(ev.Descriptor)
	case kubeconfig.ContextDeleted:
		m.removeContext(ev.Name)
	}
}

func (m *Manager) addContext(desc *kubeconfig.ContextDescriptor) {
	cs := newContextState(m.baseCtx, desc)
	logger := logging.WithContext(m.logger, desc.Name)

	prober, proberErr := m.newProber(cs.ctx, desc)
	if proberErr != nil {
		logger.Warn("cannot build readiness prober", logging.SanitizedErr(proberErr))
		prober = health.ProberFunc(func(context.Context) error {
			return proberErr
		})
	}
	reviewer, reviewerErr := m.newReviewer(cs.ctx, desc)
	if reviewerErr != nil {
		logger.Warn("cannot build access reviewer", logging.SanitizedErr(reviewerErr))
		reviewer = permissions.ReviewerFunc(func(context.Context, permissions.Request, string) (permissions.Decision, error) {
			return permissions.Decision{}, reviewerErr
		})
	}

	reviewer = observeWildcard(reviewer, &cs.wildcardDenied)

	cs.health = health.NewChecker(desc.Name, prober,
		health.WithLogger(m.logger),
		health.WithMetrics(m.metrics),
		health.WithDefaultTimeout(m.options.HealthCheckTimeout),
	)
	cs.permissions = permissions.NewChecker(desc.Name, desc.EffectiveNamespace(), reviewer,
		permissions.WithLogger(m.logger),
		permissions.WithMetrics(m.metrics),
		permissions.WithMaxConcurrentResources(m.options.MaxConcurrentResources),
	)

	cs.health.OnStateChange(func(s health.State) {
		cs.publish(func() { m.sink.SetHealth(s) })
	})
	cs.health.OnReachable(func(health.State) {
		cs.becameReachable.Store(true)
	})
	cs.permissions.OnResult(func(p permissions.ResourcePermission) {
		cs.publish(func() { m.sink.SetPermission(p) })
	})

	m.mu.Lock()
	m.contexts[desc.Name] = cs
	m.registry.SetInformers(desc.Name, nil)
	m.mu.Unlock()

	cs.publish(func() { m.sink.SetHealth(cs.health.State()) })
	logger.Info("context added",
		logging.Host(desc.Server),
		logging.UserHash(desc.User),
		logging.Namespace(desc.EffectiveNamespace()))

	m.wg.Add(1)
	go m.run(cs)
}

// removeContext disposes the health checker, then the permission checker,
// then the informers and finally the sink entries of name.
func (m *Manager) removeContext(name string) {
	m.mu.Lock()
	cs, ok := m.contexts[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.contexts, name)
	cs.health.Dispose()
	cs.permissions.Dispose()
	cs.cancel()
	informers := m.registry.DeleteContext(name)
	m.mu.Unlock()

	for _, off := range cs.markRemoved() {
		off()
	}
	for _, inf := range informers {
		inf.Stop()
		m.metrics.RecordInformerStopped(context.Background(), inf.Kind())
	}
	m.sink.DeleteContext(name)

	if m.clients != nil {
		m.clients.Delete(context.Background(), name)
	}
	m.logger.Debug("context disposed", logging.Context(name), slog.Int("informers", len(informers)))
}

// run probes cs until its context is cancelled. Probes of one context never
// overlap.
func (m *Manager) run(cs *contextState) {
	defer m.wg.Done()
	defer close(cs.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-timer.C:
		case <-cs.refresh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		m.probe(cs)
		timer.Reset(m.options.HealthCheckInterval)
	}
}

func (m *Manager) probe(cs *contextState) {
	if err := cs.health.Start(cs.ctx, health.StartOptions{Timeout: m.options.HealthCheckTimeout}); err != nil {
		return
	}
	if cs.ctx.Err() != nil {
		return
	}

	switch {
	case cs.becameReachable.Swap(false):
		m.activate(cs)
	case cs.health.Phase() == health.PhaseUnreachable:
		m.deactivate(cs)
	}
}

// activate evaluates permissions and starts an informer for every watchable
// kind the user may watch. Kinds without a permission chain are always
// started.
func (m *Manager) activate(cs *contextState) {
	if err := cs.permissions.Check(cs.ctx, m.permissionRequests(cs)); err != nil {
		return
	}
	cs.setActive(true)

	for _, f := range m.factories.WithInformers() {
		if _, declared := f.Permissions(); declared {
			permitted, settled := cs.permissions.Permitted(f.Kind())
			if !settled || !permitted {
				continue
			}
		}
		_ = m.startInformer(cs, f)
	}

	m.logger.Info("context activated",
		logging.Context(cs.name),
		slog.Int("informers", len(m.registry.Informers(cs.name))))
}

// permissionRequests returns the chains to evaluate for cs. Once the
// cluster-wide wildcard review has been denied for a context, chains that
// start with it are sliced so later checks go straight to the kind itself.
func (m *Manager) permissionRequests(cs *contextState) []permissions.ResourceRequests {
	factories := m.factories.WithPermissions()
	skipWildcard := cs.wildcardDenied.Load()
	out := make([]permissions.ResourceRequests, 0, len(factories))
	for _, f := range factories {
		if skipWildcard && leadsWithWildcard(f) {
			f = f.Slice()
		}
		out = append(out, f.PermissionRequests())
	}
	return out
}

func leadsWithWildcard(f *resources.Factory) bool {
	caps, ok := f.Permissions()
	return ok && len(caps.Requests) > 1 && isWildcard(caps.Requests[0])
}

func isWildcard(req permissions.Request) bool {
	return req.Group == "*" && req.Resource == "*"
}

// observeWildcard records a definite denial of the wildcard review in denied.
func observeWildcard(r permissions.AccessReviewer, denied *atomic.Bool) permissions.AccessReviewer {
	return permissions.ReviewerFunc(func(ctx context.Context, req permissions.Request, namespace string) (permissions.Decision, error) {
		d, err := r.Review(ctx, req, namespace)
		if err == nil && !d.Allowed && d.EvaluationError == "" && isWildcard(req) {
			denied.Store(true)
		}
		return d, err
	})
}

func (m *Manager) deactivate(cs *contextState) {
	if !cs.setActive(false) {
		return
	}
	informers := m.registry.Informers(cs.name)
	for _, inf := range informers {
		m.dropInformer(cs, inf.Kind(), inf)
	}
	m.logger.Info("context deactivated", logging.Context(cs.name), slog.Int("informers", len(informers)))
}

// startInformer builds, registers and starts the informer of f. It is a
// no-op when one is already registered or the context is gone.
func (m *Manager) startInformer(cs *contextState, f *resources.Factory) error {
	kind := f.Kind()
	if m.registry.HasInformer(cs.name, kind) {
		return nil
	}

	ctx, span := instrumentation.StartContextSpan(cs.ctx, "informer_start", cs.name,
		attribute.String(instrumentation.SpanAttrResourceKind, kind))
	defer span.End()

	inf, err := f.NewInformer(ctx, cs.desc)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		m.logger.Warn("cannot create informer",
			logging.Context(cs.name), logging.ResourceKind(kind), logging.SanitizedErr(err))
		return err
	}

	m.mu.Lock()
	if m.contexts[cs.name] != cs || m.registry.HasInformer(cs.name, kind) {
		m.mu.Unlock()
		inf.Stop()
		return nil
	}
	m.registry.SetResourceInformer(cs.name, kind, inf)
	m.mu.Unlock()
	m.metrics.RecordInformerStarted(context.Background(), kind)

	cs.track(kind, inf.Subscribe(func(ev resources.InformerEvent) {
		m.handleInformerEvent(cs, f, inf, ev)
	}))

	if err := inf.Start(cs.ctx); err != nil {
		if cs.ctx.Err() != nil {
			return nil
		}
		instrumentation.SetSpanError(span, err)
		m.logger.Warn("cannot start informer",
			logging.Context(cs.name), logging.ResourceKind(kind), logging.SanitizedErr(err))
		m.dropInformer(cs, kind, inf)
		return err
	}

	instrumentation.SetSpanSuccess(span)
	m.logger.Debug("informer started", logging.Context(cs.name), logging.ResourceKind(kind))
	return nil
}

// dropInformer stops inf and removes it from the registry if it is still the
// registered informer of kind. It reports whether it did.
func (m *Manager) dropInformer(cs *contextState, kind string, inf resources.Informer) bool {
	m.mu.Lock()
	current, ok := m.registry.GetInformer(cs.name, kind)
	if !ok || current != inf {
		m.mu.Unlock()
		return false
	}
	m.registry.RemoveResourceInformer(cs.name, kind)
	m.mu.Unlock()

	cs.untrack(kind)
	inf.Stop()
	m.metrics.RecordInformerStopped(context.Background(), kind)
	cs.publish(func() { m.sink.DeleteResourceCount(cs.name, kind) })
	return true
}

func (m *Manager) handleInformerEvent(cs *contextState, f *resources.Factory, inf resources.Informer, ev resources.InformerEvent) {
	kind := f.Kind()

	switch ev.Type {
	case resources.EventSynced, resources.EventAdded, resources.EventDeleted:
		if ev.Type == resources.EventSynced {
			cs.resetBackoff(kind)
		}
		if inf.HasSynced() {
			cs.publish(func() { m.sink.SetResourceCount(cs.name, kind, inf.Count()) })
		}
	case resources.EventConnected:
		m.logger.Debug("informer connected", logging.Context(cs.name), logging.ResourceKind(kind))
	case resources.EventError:
		m.metrics.RecordInformerError(context.Background(), cs.name, kind)
		m.logger.Warn("informer failed",
			logging.Context(cs.name), logging.ResourceKind(kind), logging.SanitizedErr(ev.Err))
		if !m.dropInformer(cs, kind, inf) {
			return
		}

		m.mu.RLock()
		closed := m.closed
		if !closed {
			m.wg.Add(1)
		}
		m.mu.RUnlock()
		if !closed {
			go m.restartInformer(cs, f)
		}
	}
}

// restartInformer starts a replacement for a failed informer with backoff
// while the context is live, reachable and active.
func (m *Manager) restartInformer(cs *contextState, f *resources.Factory) {
	defer m.wg.Done()
	kind := f.Kind()

	for {
		delay, ok := cs.nextBackoff(kind, m.options.InformerRestartBackoff)
		if !ok {
			m.logger.Warn("giving up restarting informer", logging.Context(cs.name), logging.ResourceKind(kind))
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-cs.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !cs.isActive() || !cs.health.State().Reachable {
			return
		}
		if err := m.startInformer(cs, f); err == nil {
			m.metrics.RecordInformerRestart(context.Background(), cs.name, kind)
			m.logger.Info("informer restarted", logging.Context(cs.name), logging.ResourceKind(kind))
			return
		}
	}
}

// Refresh triggers an immediate probe of name. A probe already pending is
// not queued twice.
func (m *Manager) Refresh(name string) error {
	m.mu.RLock()
	cs, ok := m.contexts[name]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	select {
	case cs.refresh <- struct{}{}:
	default:
	}
	return nil
}

// HasContext reports whether name is a known context.
func (m *Manager) HasContext(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.contexts[name]
	return ok
}

// ContextsNames returns the known context names in ascending order.
func (m *Manager) ContextsNames() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// HealthState returns the current health of name.
func (m *Manager) HealthState(name string) (health.State, bool) {
	cs, ok := m.lookup(name)
	if !ok {
		return health.State{}, false
	}
	return cs.health.State(), true
}

// Permissions returns the settled permission results of name.
func (m *Manager) Permissions(name string) ([]permissions.ResourcePermission, bool) {
	cs, ok := m.lookup(name)
	if !ok {
		return nil, false
	}
	return cs.permissions.Snapshot(), true
}

// Registry returns the informer index.
func (m *Manager) Registry() *resources.InformerRegistry {
	return m.registry
}

func (m *Manager) lookup(name string) (*contextState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.contexts[name]
	return cs, ok
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close disposes every context and waits for background work to finish.
// It is safe to call more than once.
func (m *Manager) Close() error {
	m.updateMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.updateMu.Unlock()
		return nil
	}
	m.closed = true
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	m.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		m.removeContext(name)
		m.metrics.RecordContextEvent(context.Background(), kubeconfig.ContextDeleted.String())
	}
	m.updateMu.Unlock()

	m.cancelBase()
	m.wg.Wait()

	if m.ownsClients {
		return m.clients.Close()
	}
	return nil
}
