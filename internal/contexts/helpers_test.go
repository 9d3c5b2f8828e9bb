package contexts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/giantswarm/kubecontexts/internal/events"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/permissions"
	"github.com/giantswarm/kubecontexts/internal/resources"
)

var errUnreachable = errors.New("connection refused")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDescriptor(name, server string) *kubeconfig.ContextDescriptor {
	cluster := clientcmdapi.NewCluster()
	cluster.Server = server
	authInfo := clientcmdapi.NewAuthInfo()
	authInfo.Token = "token-" + name
	return kubeconfig.NewDescriptor(name, cluster, authInfo, "")
}

func contextsOf(descs ...*kubeconfig.ContextDescriptor) kubeconfig.DescriptorList {
	return kubeconfig.DescriptorList(descs)
}

// reachability scripts the readiness probe outcome per context.
type reachability struct {
	mu          sync.Mutex
	unreachable map[string]bool
}

func newReachability() *reachability {
	return &reachability{unreachable: make(map[string]bool)}
}

func (r *reachability) set(name string, reachable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unreachable[name] = !reachable
}

func (r *reachability) constructor() ProberConstructor {
	return func(_ context.Context, desc *kubeconfig.ContextDescriptor) (health.ReadinessProber, error) {
		name := desc.Name
		return health.ProberFunc(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.unreachable[name] {
				return errUnreachable
			}
			return nil
		}), nil
	}
}

// denyKinds returns a reviewer constructor allowing everything but kinds.
func denyKinds(kinds ...string) ReviewerConstructor {
	denied := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		denied[k] = true
	}
	return func(context.Context, *kubeconfig.ContextDescriptor) (permissions.AccessReviewer, error) {
		return permissions.ReviewerFunc(func(_ context.Context, req permissions.Request, _ string) (permissions.Decision, error) {
			if req.Resource == "*" || denied[req.Resource] {
				return permissions.Decision{Denied: true, Reason: "forbidden " + req.Resource}, nil
			}
			return permissions.Decision{Allowed: true}, nil
		}), nil
	}
}

// fakeInformer is a scripted Informer.
type fakeInformer struct {
	contextName string
	kind        string
	objects     int
	failOnStart bool

	events events.Emitter[resources.InformerEvent]

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeInformer) ContextName() string {
	return f.contextName
}

func (f *fakeInformer) Kind() string {
	return f.kind
}

func (f *fakeInformer) Start(context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return resources.ErrInformerStopped
	}
	f.started = true
	f.mu.Unlock()

	if f.failOnStart {
		go f.fail(errors.New("list failed"))
		return nil
	}
	go f.emit(resources.InformerEvent{Type: resources.EventSynced})
	return nil
}

func (f *fakeInformer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeInformer) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeInformer) Subscribe(fn func(resources.InformerEvent)) func() {
	return f.events.On(fn)
}

func (f *fakeInformer) List() []*unstructured.Unstructured {
	return nil
}

func (f *fakeInformer) Get(string, string) (*unstructured.Unstructured, bool) {
	return nil, false
}

func (f *fakeInformer) Count() int {
	return f.objects
}

func (f *fakeInformer) HasSynced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.stopped
}

// fail mimics a watch failure: an Error event followed by Stop.
func (f *fakeInformer) fail(err error) {
	f.emit(resources.InformerEvent{Type: resources.EventError, Err: err})
	f.Stop()
}

func (f *fakeInformer) emit(ev resources.InformerEvent) {
	ev.ContextName = f.contextName
	ev.Kind = f.kind
	f.events.Emit(ev)
}

// informerTracker remembers every informer built by its constructors.
type informerTracker struct {
	mu    sync.Mutex
	built map[string][]*fakeInformer
}

func newInformerTracker() *informerTracker {
	return &informerTracker{built: make(map[string][]*fakeInformer)}
}

func (t *informerTracker) constructor(kind string, objects int) resources.InformerConstructor {
	return func(_ context.Context, desc *kubeconfig.ContextDescriptor) (resources.Informer, error) {
		inf := &fakeInformer{contextName: desc.Name, kind: kind, objects: objects}
		t.mu.Lock()
		defer t.mu.Unlock()
		key := desc.Name + "/" + kind
		t.built[key] = append(t.built[key], inf)
		return inf, nil
	}
}

// failingConstructor builds informers whose watch fails right after Start.
func (t *informerTracker) failingConstructor(kind string) resources.InformerConstructor {
	build := t.constructor(kind, 0)
	return func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (resources.Informer, error) {
		inf, err := build(ctx, desc)
		if err != nil {
			return nil, err
		}
		inf.(*fakeInformer).failOnStart = true
		return inf, nil
	}
}

func (t *informerTracker) all(contextName, kind string) []*fakeInformer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeInformer(nil), t.built[contextName+"/"+kind]...)
}

func (t *informerTracker) latest(contextName, kind string) *fakeInformer {
	built := t.all(contextName, kind)
	if len(built) == 0 {
		return nil
	}
	return built[len(built)-1]
}

// newTestFactories registers pods and services (watched, permission checked),
// secrets (permission only) and leases (watched, no permission chain).
func newTestFactories(tracker *informerTracker) *resources.FactoryRegistry {
	registry := resources.NewFactoryRegistry()
	for _, k := range []struct {
		kind    string
		group   string
		objects int
	}{
		{"pods", "", 3},
		{"services", "", 2},
	} {
		gvr := schema.GroupVersionResource{Group: k.group, Version: "v1", Resource: k.kind}
		registry.MustRegister(resources.NewFactory(k.kind,
			resources.WithPermissions(true, resources.WatchChain(gvr)...),
			resources.WithWatch(resources.WatchCapability{
				GVR:        gvr,
				Namespaced: true,
				New:        tracker.constructor(k.kind, k.objects),
			}),
		))
	}
	secrets := schema.GroupVersionResource{Version: "v1", Resource: "secrets"}
	registry.MustRegister(resources.NewFactory("secrets",
		resources.WithPermissions(true, resources.WatchChain(secrets)...)))
	registry.MustRegister(resources.NewFactory("leases",
		resources.WithWatch(resources.WatchCapability{
			GVR:        schema.GroupVersionResource{Group: "coordination.k8s.io", Version: "v1", Resource: "leases"},
			Namespaced: true,
			New:        tracker.constructor("leases", 1),
		})))
	return registry
}

// recordingSink keeps the latest state it was given.
type recordingSink struct {
	mu          sync.Mutex
	healths     map[string]health.State
	permissions map[string]map[string]permissions.ResourcePermission
	counts      map[string]map[string]int
	deleted     []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		healths:     make(map[string]health.State),
		permissions: make(map[string]map[string]permissions.ResourcePermission),
		counts:      make(map[string]map[string]int),
	}
}

func (s *recordingSink) SetHealth(state health.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healths[state.ContextName] = state
}

func (s *recordingSink) SetPermission(p permissions.ResourcePermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permissions[p.ContextName] == nil {
		s.permissions[p.ContextName] = make(map[string]permissions.ResourcePermission)
	}
	s.permissions[p.ContextName][p.ResourceName] = p
}

func (s *recordingSink) SetResourceCount(contextName, kind string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[contextName] == nil {
		s.counts[contextName] = make(map[string]int)
	}
	s.counts[contextName][kind] = count
}

func (s *recordingSink) DeleteResourceCount(contextName, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts[contextName], kind)
}

func (s *recordingSink) DeleteContext(contextName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.healths, contextName)
	delete(s.permissions, contextName)
	delete(s.counts, contextName)
	s.deleted = append(s.deleted, contextName)
}

func (s *recordingSink) health(name string) (health.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.healths[name]
	return st, ok
}

func (s *recordingSink) permission(contextName, resource string) (permissions.ResourcePermission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[contextName][resource]
	return p, ok
}

func (s *recordingSink) count(contextName, kind string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[contextName][kind]
	return c, ok
}

func (s *recordingSink) hasContext(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, h := s.healths[name]
	_, p := s.permissions[name]
	_, c := s.counts[name]
	return h || p || c
}

func testOptions() Options {
	return Options{
		HealthCheckInterval: time.Hour,
		HealthCheckTimeout:  time.Second,
		InformerRestartBackoff: wait.Backoff{
			Duration: 5 * time.Millisecond,
			Factor:   1,
			Steps:    3,
		},
	}
}

type testEnv struct {
	manager      *Manager
	sink         *recordingSink
	reachability *reachability
	tracker      *informerTracker
}

func newTestEnv(t *testing.T, reviewer ReviewerConstructor) *testEnv {
	t.Helper()
	env := &testEnv{
		sink:         newRecordingSink(),
		reachability: newReachability(),
		tracker:      newInformerTracker(),
	}
	env.manager = NewManager(newTestFactories(env.tracker),
		WithOptions(testOptions()),
		WithSink(env.sink),
		WithProberConstructor(env.reachability.constructor()),
		WithReviewerConstructor(reviewer),
		WithLogger(newTestLogger()),
	)
	t.Cleanup(func() {
		_ = env.manager.Close()
	})
	return env
}
