package resources

import (
	"fmt"
	"sort"
	"sync"
)

// InformerRegistry indexes informers by context name and resource kind.
// It does not own the informers it holds.
type InformerRegistry struct {
	mu        sync.RWMutex
	informers map[string]map[string]Informer
}

// NewInformerRegistry returns an empty registry.
func NewInformerRegistry() *InformerRegistry {
	return &InformerRegistry{informers: make(map[string]map[string]Informer)}
}

// SetInformers replaces the informer set of contextName, registering the
// context if needed. A nil map registers the context with no informers.
func (r *InformerRegistry) SetInformers(contextName string, informers map[string]Informer) {
	set := make(map[string]Informer, len(informers))
	for kind, inf := range informers {
		set[kind] = inf
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.informers[contextName] = set
}

// SetResourceInformer adds or replaces one informer of a registered context.
// It panics when contextName is unknown.
func (r *InformerRegistry) SetResourceInformer(contextName, kind string, informer Informer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.informers[contextName]
	if !ok {
		panic(fmt.Sprintf("resources: SetResourceInformer for unknown context %q", contextName))
	}
	set[kind] = informer
}

// RemoveResourceInformer drops one informer and returns it.
func (r *InformerRegistry) RemoveResourceInformer(contextName, kind string) (Informer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inf, ok := r.informers[contextName][kind]
	if ok {
		delete(r.informers[contextName], kind)
	}
	return inf, ok
}

// HasContext reports whether contextName is registered.
func (r *InformerRegistry) HasContext(contextName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.informers[contextName]
	return ok
}

// HasInformer reports whether an informer is indexed for the pair.
func (r *InformerRegistry) HasInformer(contextName, kind string) bool {
	_, ok := r.GetInformer(contextName, kind)
	return ok
}

// GetInformer returns the informer indexed for the pair.
func (r *InformerRegistry) GetInformer(contextName, kind string) (Informer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inf, ok := r.informers[contextName][kind]
	return inf, ok
}

// Informers returns the informers of contextName sorted by kind.
func (r *InformerRegistry) Informers(contextName string) []Informer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedByKind(r.informers[contextName])
}

// DeleteContext unregisters contextName and returns the informers it held.
func (r *InformerRegistry) DeleteContext(contextName string) []Informer {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := sortedByKind(r.informers[contextName])
	delete(r.informers, contextName)
	return removed
}

func sortedByKind(set map[string]Informer) []Informer {
	kinds := make([]string, 0, len(set))
	for kind := range set {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	out := make([]Informer, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, set[kind])
	}
	return out
}

// ContextsNames returns the registered context names in ascending order.
func (r *InformerRegistry) ContextsNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.informers))
	for name := range r.informers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
