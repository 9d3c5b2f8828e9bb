package resources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"

	"github.com/giantswarm/kubecontexts/internal/events"
	"github.com/giantswarm/kubecontexts/internal/logging"
)

// DynamicInformer watches one resource kind through a dynamic client.
type DynamicInformer struct {
	contextName string
	kind        string
	gvr         schema.GroupVersionResource
	logger      *slog.Logger

	informer cache.SharedIndexInformer
	events   events.Emitter[InformerEvent]

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// DynamicInformerOption configures a DynamicInformer.
type DynamicInformerOption func(*DynamicInformer)

// WithInformerLogger sets the logger.
func WithInformerLogger(logger *slog.Logger) DynamicInformerOption {
	return func(d *DynamicInformer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDynamicInformer returns an unstarted informer over gvr. An empty
// namespace watches all namespaces.
func NewDynamicInformer(contextName, kind string, client dynamic.Interface, gvr schema.GroupVersionResource, namespace string, opts ...DynamicInformerOption) *DynamicInformer {
	d := &DynamicInformer{
		contextName: contextName,
		kind:        kind,
		gvr:         gvr,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.Context(contextName), logging.ResourceKind(kind))

	d.informer = dynamicinformer.NewFilteredDynamicInformer(
		client, gvr, namespace, 0, cache.Indexers{cache.NamespaceIndex: cache.MetaNamespaceIndexFunc}, nil,
	).Informer()
	return d
}

// ContextName returns the context the informer watches.
func (d *DynamicInformer) ContextName() string {
	return d.contextName
}

// Kind returns the watched resource kind.
func (d *DynamicInformer) Kind() string {
	return d.kind
}

// Subscribe registers fn for every event.
func (d *DynamicInformer) Subscribe(fn func(InformerEvent)) func() {
	return d.events.On(fn)
}

// Start launches the informer in the background.
func (d *DynamicInformer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrInformerStopped
	}
	if d.started {
		return ErrInformerStarted
	}

	if err := d.informer.SetWatchErrorHandler(d.handleWatchError); err != nil {
		return err
	}
	if _, err := d.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			d.emitObject(EventAdded, obj, nil)
		},
		UpdateFunc: func(oldObj, newObj any) {
			d.emitObject(EventUpdated, newObj, oldObj)
		},
		DeleteFunc: func(obj any) {
			if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			d.emitObject(EventDeleted, obj, nil)
		},
	}); err != nil {
		return err
	}
	d.started = true

	go d.informer.Run(d.stopCh)
	go d.waitForSync()
	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.stopCh:
		}
	}()
	return nil
}

func (d *DynamicInformer) waitForSync() {
	if !cache.WaitForCacheSync(d.stopCh, d.informer.HasSynced) {
		return
	}
	d.logger.Debug("informer synced", slog.Int("count", d.Count()))
	d.emit(InformerEvent{Type: EventConnected})
	d.emit(InformerEvent{Type: EventSynced})
}

// handleWatchError stops the informer on anything but a routine watch
// expiry or closed connection. Reconnecting is left to the owner.
func (d *DynamicInformer) handleWatchError(_ *cache.Reflector, err error) {
	if isTransientWatchError(err) {
		d.logger.Debug("watch closed, relisting", logging.Err(err))
		return
	}
	select {
	case <-d.stopCh:
		return
	default:
	}
	d.logger.Warn("watch failed", logging.SanitizedErr(err))
	d.emit(InformerEvent{Type: EventError, Err: err})
	d.Stop()
}

func isTransientWatchError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		apierrors.IsResourceExpired(err) ||
		apierrors.IsGone(err)
}

func (d *DynamicInformer) emitObject(t EventType, obj, old any) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return
	}
	ev := InformerEvent{Type: t, Object: u}
	if o, ok := old.(*unstructured.Unstructured); ok {
		ev.OldObject = o
	}
	d.emit(ev)
}

func (d *DynamicInformer) emit(ev InformerEvent) {
	ev.ContextName = d.contextName
	ev.Kind = d.kind
	d.events.Emit(ev)
}

// Stop stops the informer. It is safe to call more than once.
func (d *DynamicInformer) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stopCh)
	})
}

// Stopped reports whether Stop has been called.
func (d *DynamicInformer) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// List returns the cached objects.
func (d *DynamicInformer) List() []*unstructured.Unstructured {
	items := d.informer.GetStore().List()
	out := make([]*unstructured.Unstructured, 0, len(items))
	for _, item := range items {
		if u, ok := item.(*unstructured.Unstructured); ok {
			out = append(out, u)
		}
	}
	return out
}

// Get returns a cached object. Use an empty namespace for cluster-scoped kinds.
func (d *DynamicInformer) Get(namespace, name string) (*unstructured.Unstructured, bool) {
	key := name
	if namespace != "" {
		key = namespace + "/" + name
	}
	item, exists, err := d.informer.GetStore().GetByKey(key)
	if err != nil || !exists {
		return nil, false
	}
	u, ok := item.(*unstructured.Unstructured)
	return u, ok
}

// Count returns the number of cached objects.
func (d *DynamicInformer) Count() int {
	return len(d.informer.GetStore().ListKeys())
}

// HasSynced reports whether the initial list has been delivered.
func (d *DynamicInformer) HasSynced() bool {
	return d.informer.HasSynced()
}

