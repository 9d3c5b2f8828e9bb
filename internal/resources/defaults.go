package resources

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

// DynamicClientSource hands out a dynamic client per context.
type DynamicClientSource interface {
	DynamicClient(ctx context.Context, desc *kubeconfig.ContextDescriptor) (dynamic.Interface, error)
}

type builtinKind struct {
	kind       string
	gvr        schema.GroupVersionResource
	namespaced bool
	watch      bool
}

var builtinKinds = []builtinKind{
	{"pods", schema.GroupVersionResource{Version: "v1", Resource: "pods"}, true, true},
	{"deployments", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}, true, true},
	{"services", schema.GroupVersionResource{Version: "v1", Resource: "services"}, true, true},
	{"nodes", schema.GroupVersionResource{Version: "v1", Resource: "nodes"}, false, true},
	{"configmaps", schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}, true, true},
	{"secrets", schema.GroupVersionResource{Version: "v1", Resource: "secrets"}, true, false},
	{"persistentvolumeclaims", schema.GroupVersionResource{Version: "v1", Resource: "persistentvolumeclaims"}, true, true},
	{"ingresses", schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"}, true, true},
	{"cronjobs", schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "cronjobs"}, true, true},
	{"jobs", schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "jobs"}, true, true},
	{"events", schema.GroupVersionResource{Version: "v1", Resource: "events"}, true, true},
}

// WatchChain returns the permission chain used by the built-in kinds: a
// wildcard watch first, then a watch on the kind itself.
func WatchChain(gvr schema.GroupVersionResource) []permissions.Request {
	return []permissions.Request{
		{Group: "*", Resource: "*", Verb: "watch"},
		{Group: gvr.Group, Resource: gvr.Resource, Verb: "watch"},
	}
}

// DynamicInformerConstructor returns an InformerConstructor that watches gvr
// with a client from source. Namespaced kinds are watched in the context
// namespace.
func DynamicInformerConstructor(kind string, gvr schema.GroupVersionResource, namespaced bool, source DynamicClientSource, opts ...DynamicInformerOption) InformerConstructor {
	return func(ctx context.Context, desc *kubeconfig.ContextDescriptor) (Informer, error) {
		client, err := source.DynamicClient(ctx, desc)
		if err != nil {
			return nil, err
		}
		namespace := ""
		if namespaced {
			namespace = desc.EffectiveNamespace()
		}
		return NewDynamicInformer(desc.Name, kind, client, gvr, namespace, opts...), nil
	}
}

// DefaultFactories returns a registry with the built-in kinds. Secrets are
// declared for permission checks only.
func DefaultFactories(source DynamicClientSource, opts ...DynamicInformerOption) *FactoryRegistry {
	registry := NewFactoryRegistry()
	for _, b := range builtinKinds {
		factoryOpts := []FactoryOption{WithPermissions(b.namespaced, WatchChain(b.gvr)...)}
		if b.watch {
			factoryOpts = append(factoryOpts, WithWatch(WatchCapability{
				GVR:        b.gvr,
				Namespaced: b.namespaced,
				New:        DynamicInformerConstructor(b.kind, b.gvr, b.namespaced, source, opts...),
			}))
		}
		registry.MustRegister(NewFactory(b.kind, factoryOpts...))
	}
	return registry
}
