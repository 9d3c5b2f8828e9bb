package dispatcher

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/kubecontexts/internal/events"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

// DefaultDebounce is the window in which changes to one view are coalesced
// into a single notification.
const DefaultDebounce = 100 * time.Millisecond

// Channel names a notification stream.
type Channel string

const (
	ChannelHealths        Channel = "kubernetes-contexts-healths"
	ChannelPermissions    Channel = "kubernetes-contexts-permissions"
	ChannelResourcesCount Channel = "kubernetes-resources-count"
)

// Channels lists every channel in notification order.
func Channels() []Channel {
	return []Channel{ChannelHealths, ChannelPermissions, ChannelResourcesCount}
}

// ResourceCount is the number of cached objects of one kind in one context.
type ResourceCount struct {
	ContextName  string `json:"contextName"`
	ResourceKind string `json:"resourceKind"`
	Count        int    `json:"count"`
}

// MetricsRecorder receives a call per notification sent.
type MetricsRecorder interface {
	RecordNotification(ctx context.Context, channel string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDebounce sets the coalescing window. Zero or negative values notify
// only on Flush.
func WithDebounce(d time.Duration) Option {
	return func(s *Dispatcher) {
		s.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Dispatcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(s *Dispatcher) {
		s.metrics = metrics
	}
}

// Dispatcher aggregates per-context state and notifies subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	healths     map[string]health.State
	permissions map[string]map[string]permissions.ResourcePermission
	counts      map[string]map[string]int

	dirtyMu sync.Mutex
	dirty   map[Channel]bool
	timer   *time.Timer
	closed  bool

	notify        events.Emitter[Channel]
	subscribersMu sync.Mutex
	subscribers   map[string]func()

	debounce time.Duration
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		healths:     make(map[string]health.State),
		permissions: make(map[string]map[string]permissions.ResourcePermission),
		counts:      make(map[string]map[string]int),
		dirty:       make(map[Channel]bool),
		subscribers: make(map[string]func()),
		debounce:    DefaultDebounce,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetHealth records the health of a context.
func (d *Dispatcher) SetHealth(state health.State) {
	d.mu.Lock()
	prev, ok := d.healths[state.ContextName]
	d.healths[state.ContextName] = state
	d.mu.Unlock()

	if !ok || prev != state {
		d.markDirty(ChannelHealths)
	}
}

// SetPermission records the permission outcome of one resource in a context.
func (d *Dispatcher) SetPermission(p permissions.ResourcePermission) {
	d.mu.Lock()
	byResource, ok := d.permissions[p.ContextName]
	if !ok {
		byResource = make(map[string]permissions.ResourcePermission)
		d.permissions[p.ContextName] = byResource
	}
	prev, existed := byResource[p.ResourceName]
	byResource[p.ResourceName] = p
	d.mu.Unlock()

	if !existed || prev != p {
		d.markDirty(ChannelPermissions)
	}
}

// SetResourceCount records the number of cached objects of kind in a context.
func (d *Dispatcher) SetResourceCount(contextName, kind string, count int) {
	d.mu.Lock()
	byKind, ok := d.counts[contextName]
	if !ok {
		byKind = make(map[string]int)
		d.counts[contextName] = byKind
	}
	prev, existed := byKind[kind]
	byKind[kind] = count
	d.mu.Unlock()

	if !existed || prev != count {
		d.markDirty(ChannelResourcesCount)
	}
}

// DeleteResourceCount drops the count of kind in a context.
func (d *Dispatcher) DeleteResourceCount(contextName, kind string) {
	d.mu.Lock()
	byKind, ok := d.counts[contextName]
	_, existed := byKind[kind]
	if existed {
		delete(byKind, kind)
		if len(byKind) == 0 {
			delete(d.counts, contextName)
		}
	}
	d.mu.Unlock()

	if ok && existed {
		d.markDirty(ChannelResourcesCount)
	}
}

// DeleteContext removes every entry of a context from all views.
func (d *Dispatcher) DeleteContext(contextName string) {
	d.mu.Lock()
	_, hadHealth := d.healths[contextName]
	_, hadPermissions := d.permissions[contextName]
	_, hadCounts := d.counts[contextName]
	delete(d.healths, contextName)
	delete(d.permissions, contextName)
	delete(d.counts, contextName)
	d.mu.Unlock()

	if hadHealth {
		d.markDirty(ChannelHealths)
	}
	if hadPermissions {
		d.markDirty(ChannelPermissions)
	}
	if hadCounts {
		d.markDirty(ChannelResourcesCount)
	}
}

// GetContextsHealths returns the health of every context, sorted by name.
func (d *Dispatcher) GetContextsHealths() []health.State {
	d.mu.RLock()
	out := make([]health.State, 0, len(d.healths))
	for _, s := range d.healths {
		out = append(out, s)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b health.State) int {
		return cmp.Compare(a.ContextName, b.ContextName)
	})
	return out
}

// GetContextsPermissions returns every permission entry, sorted by context
// and resource name.
func (d *Dispatcher) GetContextsPermissions() []permissions.ResourcePermission {
	d.mu.RLock()
	var out []permissions.ResourcePermission
	for _, byResource := range d.permissions {
		for _, p := range byResource {
			out = append(out, p)
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b permissions.ResourcePermission) int {
		return cmp.Or(
			cmp.Compare(a.ContextName, b.ContextName),
			cmp.Compare(a.ResourceName, b.ResourceName),
		)
	})
	if out == nil {
		out = []permissions.ResourcePermission{}
	}
	return out
}

// GetResourcesCount returns every resource count, sorted by context and kind.
func (d *Dispatcher) GetResourcesCount() []ResourceCount {
	d.mu.RLock()
	var out []ResourceCount
	for contextName, byKind := range d.counts {
		for kind, count := range byKind {
			out = append(out, ResourceCount{ContextName: contextName, ResourceKind: kind, Count: count})
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b ResourceCount) int {
		return cmp.Or(
			cmp.Compare(a.ContextName, b.ContextName),
			cmp.Compare(a.ResourceKind, b.ResourceKind),
		)
	})
	if out == nil {
		out = []ResourceCount{}
	}
	return out
}

// Subscribe registers fn for notifications. The returned id identifies the
// subscription in logs; cancel removes it and is safe to call more than once.
func (d *Dispatcher) Subscribe(fn func(Channel)) (id string, cancel func()) {
	id = uuid.NewString()
	off := d.notify.On(fn)

	d.subscribersMu.Lock()
	d.subscribers[id] = off
	d.subscribersMu.Unlock()

	d.logger.Debug("subscriber added", "subscriber_id", id)

	var once sync.Once
	return id, func() {
		once.Do(func() {
			off()
			d.subscribersMu.Lock()
			delete(d.subscribers, id)
			d.subscribersMu.Unlock()
			d.logger.Debug("subscriber removed", "subscriber_id", id)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()
	return len(d.subscribers)
}

func (d *Dispatcher) markDirty(ch Channel) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()

	if d.closed {
		return
	}
	d.dirty[ch] = true
	if d.timer == nil && d.debounce > 0 {
		d.timer = time.AfterFunc(d.debounce, d.Flush)
	}
}

// Flush sends the pending notifications now, one per dirty channel.
func (d *Dispatcher) Flush() {
	d.dirtyMu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := make([]Channel, 0, len(d.dirty))
	for _, ch := range Channels() {
		if d.dirty[ch] {
			pending = append(pending, ch)
		}
	}
	clear(d.dirty)
	d.dirtyMu.Unlock()

	for _, ch := range pending {
		if d.metrics != nil {
			d.metrics.RecordNotification(context.Background(), string(ch))
		}
		d.logger.Debug("notifying subscribers", logging.Channel(string(ch)))
		d.notify.Emit(ch)
	}
}

// Close sends pending notifications and drops every subscriber. Changes
// recorded afterwards update the views without notifying.
func (d *Dispatcher) Close() {
	d.Flush()

	d.dirtyMu.Lock()
	d.closed = true
	d.dirtyMu.Unlock()

	d.notify.Clear()
	d.subscribersMu.Lock()
	clear(d.subscribers)
	d.subscribersMu.Unlock()
}
