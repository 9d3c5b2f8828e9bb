package kubeconfig

import (
	"fmt"
	"sync"

	"github.com/giantswarm/kubecontexts/internal/events"
)

// EventType tags a ContextEvent.
type EventType int

const (
	// ContextAdded is emitted for a context that was not known before.
	ContextAdded EventType = iota + 1
	// ContextUpdated is emitted for a known context whose descriptor changed.
	ContextUpdated
	// ContextDeleted is emitted for a known context missing from the snapshot.
	ContextDeleted
)

func (t EventType) String() string {
	switch t {
	case ContextAdded:
		return "add"
	case ContextUpdated:
		return "update"
	case ContextDeleted:
		return "delete"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ContextEvent describes one change to the set of known contexts.
//
// For ContextAdded and ContextUpdated, Descriptor is the new descriptor. For
// ContextDeleted it is the last descriptor seen for that name.
type ContextEvent struct {
	Type       EventType
	Name       string
	Descriptor *ContextDescriptor
}

// Differ computes add/update/delete events between successive RawConfig
// snapshots.
//
// Events of one Update call are emitted synchronously: adds and updates in
// input order, then deletes in the order the deleted names were first seen.
type Differ struct {
	// updateMu serializes Update so event batches never interleave.
	updateMu sync.Mutex

	mu    sync.RWMutex
	order []string
	known map[string]*ContextDescriptor

	events events.Emitter[ContextEvent]
}

// NewDiffer returns a Differ that knows no contexts.
func NewDiffer() *Differ {
	return &Differ{
		known: make(map[string]*ContextDescriptor),
	}
}

// OnEvent subscribes fn to context events and returns its unsubscribe func.
func (d *Differ) OnEvent(fn func(ContextEvent)) func() {
	return d.events.On(fn)
}

// Update diffs cfg against the contexts seen so far, replaces the internal
// snapshot and emits the resulting events. The emitted events are returned.
//
// Update panics if a known name has no descriptor; that state can only be
// reached through a bug in the Differ itself.
func (d *Differ) Update(cfg RawConfig) []ContextEvent {
	d.updateMu.Lock()
	defer d.updateMu.Unlock()

	var incoming []*ContextDescriptor
	if cfg != nil {
		incoming = cfg.Contexts()
	}

	d.mu.Lock()
	next := make(map[string]*ContextDescriptor, len(incoming))
	nextOrder := make([]string, 0, len(incoming))
	var out []ContextEvent

	// Survivors keep their position; new names are appended in input order.
	var added []string
	for _, desc := range incoming {
		if desc == nil {
			continue
		}
		if _, dup := next[desc.Name]; dup {
			continue
		}
		next[desc.Name] = desc

		prev, ok := d.known[desc.Name]
		switch {
		case !ok:
			out = append(out, ContextEvent{Type: ContextAdded, Name: desc.Name, Descriptor: desc})
			added = append(added, desc.Name)
		case !prev.Equal(desc):
			out = append(out, ContextEvent{Type: ContextUpdated, Name: desc.Name, Descriptor: desc})
		}
	}

	for _, name := range d.order {
		if _, still := next[name]; still {
			nextOrder = append(nextOrder, name)
			continue
		}
		prev, ok := d.known[name]
		if !ok || prev == nil {
			d.mu.Unlock()
			panic(fmt.Sprintf("kubeconfig: known context %q has no descriptor", name))
		}
		out = append(out, ContextEvent{Type: ContextDeleted, Name: name, Descriptor: prev})
	}
	nextOrder = append(nextOrder, added...)

	d.known = next
	d.order = nextOrder
	d.mu.Unlock()

	for _, ev := range out {
		d.events.Emit(ev)
	}
	return out
}

// Contexts returns the known context names in the order they were first seen.
func (d *Differ) Contexts() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Descriptor returns the last descriptor seen for name.
func (d *Differ) Descriptor(name string) (*ContextDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	desc, ok := d.known[name]
	return desc, ok
}
