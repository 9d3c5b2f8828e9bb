package health

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stateRecorder collects emitted states.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// blockingProber blocks until its context is done and reports ctx.Err().
type blockingProber struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingProber() *blockingProber {
	return &blockingProber{started: make(chan struct{})}
}

func (p *blockingProber) ProbeReady(ctx context.Context) error {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}
