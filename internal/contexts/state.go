package contexts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

// contextState is everything the Manager owns for one context.
type contextState struct {
	name        string
	desc        *kubeconfig.ContextDescriptor
	health      *health.Checker
	permissions *permissions.Checker

	ctx     context.Context
	cancel  context.CancelFunc
	refresh chan struct{}
	done    chan struct{}

	becameReachable atomic.Bool
	wildcardDenied  atomic.Bool

	// mu guards the fields below. Sink writes happen under mu so that
	// nothing reaches the sink once the context is removed.
	mu          sync.Mutex
	removed     bool
	active      bool
	unsubscribe map[string]func()
	backoffs    map[string]*wait.Backoff
}

func newContextState(parent context.Context, desc *kubeconfig.ContextDescriptor) *contextState {
	ctx, cancel := context.WithCancel(parent)
	return &contextState{
		name:        desc.Name,
		desc:        desc,
		ctx:         ctx,
		cancel:      cancel,
		refresh:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		unsubscribe: make(map[string]func()),
		backoffs:    make(map[string]*wait.Backoff),
	}
}

// publish runs fn unless the context has been removed.
func (cs *contextState) publish(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.removed {
		fn()
	}
}

// markRemoved stops publishing and returns the informer unsubscribe funcs.
func (cs *contextState) markRemoved() []func() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.removed = true
	offs := make([]func(), 0, len(cs.unsubscribe))
	for _, off := range cs.unsubscribe {
		offs = append(offs, off)
	}
	cs.unsubscribe = nil
	return offs
}

func (cs *contextState) track(kind string, off func()) {
	cs.mu.Lock()
	if cs.removed {
		cs.mu.Unlock()
		off()
		return
	}
	prev := cs.unsubscribe[kind]
	cs.unsubscribe[kind] = off
	cs.mu.Unlock()

	if prev != nil {
		prev()
	}
}

func (cs *contextState) untrack(kind string) {
	cs.mu.Lock()
	off := cs.unsubscribe[kind]
	delete(cs.unsubscribe, kind)
	cs.mu.Unlock()

	if off != nil {
		off()
	}
}

// setActive records whether informers should run and returns the previous value.
func (cs *contextState) setActive(active bool) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	prev := cs.active
	cs.active = active
	if active {
		clear(cs.backoffs)
	}
	return prev
}

func (cs *contextState) isActive() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.active
}

// nextBackoff returns the delay before the next restart of kind, or false
// once the steps of template are used up.
func (cs *contextState) nextBackoff(kind string, template wait.Backoff) (time.Duration, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	b, ok := cs.backoffs[kind]
	if !ok {
		b = &template
		cs.backoffs[kind] = b
	}
	if b.Steps <= 0 {
		return 0, false
	}
	return b.Step(), true
}

func (cs *contextState) resetBackoff(kind string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.backoffs, kind)
}
