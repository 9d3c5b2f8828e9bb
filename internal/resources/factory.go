package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

var (
	// ErrEmptyKind is returned when registering a factory without a kind.
	ErrEmptyKind = errors.New("resource kind is required")

	// ErrDuplicateKind is returned when a kind is registered twice.
	ErrDuplicateKind = errors.New("resource kind already registered")
)

// InformerConstructor builds an unstarted Informer for one context.
type InformerConstructor func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (Informer, error)

// PermissionsCapability is the permission chain a kind requires.
type PermissionsCapability struct {
	// Requests are ordered most specific first.
	Requests []permissions.Request

	// Namespaced scopes reviews to the context namespace.
	Namespaced bool
}

// WatchCapability describes how to watch a kind.
type WatchCapability struct {
	GVR        schema.GroupVersionResource
	Namespaced bool
	New        InformerConstructor
}

// Factory is the immutable declaration of one resource kind.
type Factory struct {
	kind        string
	permissions *PermissionsCapability
	watch       *WatchCapability
}

// FactoryOption attaches a capability to a Factory under construction.
type FactoryOption func(*Factory)

// WithPermissions attaches a permission chain.
func WithPermissions(namespaced bool, requests ...permissions.Request) FactoryOption {
	return func(f *Factory) {
		f.permissions = &PermissionsCapability{
			Requests:   append([]permissions.Request(nil), requests...),
			Namespaced: namespaced,
		}
	}
}

// WithWatch attaches a watch capability.
func WithWatch(w WatchCapability) FactoryOption {
	return func(f *Factory) {
		f.watch = &w
	}
}

// NewFactory builds a Factory for kind.
func NewFactory(kind string, opts ...FactoryOption) *Factory {
	f := &Factory{kind: kind}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns the resource kind, e.g. "pods".
func (f *Factory) Kind() string {
	return f.kind
}

// Permissions returns a copy of the permission capability.
func (f *Factory) Permissions() (PermissionsCapability, bool) {
	if f.permissions == nil {
		return PermissionsCapability{}, false
	}
	return PermissionsCapability{
		Requests:   append([]permissions.Request(nil), f.permissions.Requests...),
		Namespaced: f.permissions.Namespaced,
	}, true
}

// Watch returns the watch capability.
func (f *Factory) Watch() (WatchCapability, bool) {
	if f.watch == nil {
		return WatchCapability{}, false
	}
	return *f.watch, true
}

// PermissionRequests returns the chain in the form the permission checker
// consumes. Kinds without a permission capability yield an empty chain.
func (f *Factory) PermissionRequests() permissions.ResourceRequests {
	rr := permissions.ResourceRequests{Resource: f.kind}
	if f.permissions != nil {
		rr.Requests = append([]permissions.Request(nil), f.permissions.Requests...)
		rr.Namespaced = f.permissions.Namespaced
	}
	return rr
}

// Slice returns a new Factory whose permission chain lacks its most specific
// request. The receiver is not modified.
func (f *Factory) Slice() *Factory {
	out := &Factory{kind: f.kind, watch: f.watch}
	if f.permissions != nil {
		sliced := f.PermissionRequests().Slice()
		out.permissions = &PermissionsCapability{
			Requests:   sliced.Requests,
			Namespaced: sliced.Namespaced,
		}
	}
	return out
}

// NewInformer builds an Informer for desc. It fails for kinds without a
// watch capability.
func (f *Factory) NewInformer(ctx context.Context, desc *kubeconfig.ContextDescriptor) (Informer, error) {
	if f.watch == nil || f.watch.New == nil {
		return nil, fmt.Errorf("resource kind %q cannot be watched", f.kind)
	}
	return f.watch.New(ctx, desc)
}

// FactoryRegistry holds the factories of a process in registration order.
type FactoryRegistry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]*Factory
}

// NewFactoryRegistry returns an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]*Factory)}
}

// Register adds f. Kinds must be unique and non-empty.
func (r *FactoryRegistry) Register(f *Factory) error {
	if f == nil || f.kind == "" {
		return ErrEmptyKind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[f.kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, f.kind)
	}
	r.factories[f.kind] = f
	r.order = append(r.order, f.kind)
	return nil
}

// MustRegister is Register that panics on error.
func (r *FactoryRegistry) MustRegister(factories ...*Factory) {
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

// Get returns the factory for kind.
func (r *FactoryRegistry) Get(kind string) (*Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// All returns every factory in registration order.
func (r *FactoryRegistry) All() []*Factory {
	return r.filter(func(*Factory) bool { return true })
}

// WithPermissions returns the factories that declare a permission chain.
func (r *FactoryRegistry) WithPermissions() []*Factory {
	return r.filter(func(f *Factory) bool { return f.permissions != nil })
}

// WithInformers returns the factories that can be watched.
func (r *FactoryRegistry) WithInformers() []*Factory {
	return r.filter(func(f *Factory) bool { return f.watch != nil })
}

// Kinds returns the registered kinds in registration order.
func (r *FactoryRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// PermissionRequests returns the chains of every factory with a permission
// capability, in registration order.
func (r *FactoryRegistry) PermissionRequests() []permissions.ResourceRequests {
	factories := r.WithPermissions()
	out := make([]permissions.ResourceRequests, 0, len(factories))
	for _, f := range factories {
		out = append(out, f.PermissionRequests())
	}
	return out
}

func (r *FactoryRegistry) filter(keep func(*Factory) bool) []*Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Factory, 0, len(r.order))
	for _, kind := range r.order {
		if f := r.factories[kind]; keep(f) {
			out = append(out, f)
		}
	}
	return out
}
