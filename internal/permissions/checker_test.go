package permissions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	watchAll  = Request{Group: "*", Resource: "*", Verb: "watch"}
	watchPods = Request{Resource: "pods", Verb: "watch"}
	watchDeps = Request{Group: "apps", Resource: "deployments", Verb: "watch"}
)

// scriptedReviewer answers from a fixed table keyed by request and records calls.
type scriptedReviewer struct {
	mu        sync.Mutex
	answers   map[Request]Decision
	errs      map[Request]error
	calls     []Request
	namespace []string
}

func (r *scriptedReviewer) Review(_ context.Context, req Request, namespace string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	r.namespace = append(r.namespace, namespace)
	if err := r.errs[req]; err != nil {
		return Decision{}, err
	}
	return r.answers[req], nil
}

func (r *scriptedReviewer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestChecker(reviewer AccessReviewer, opts ...CheckerOption) *Checker {
	opts = append([]CheckerOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewChecker("dev", "team-a", reviewer, opts...)
}

func TestChecker_FallbackToSpecificRequest(t *testing.T) {
	reviewer := &scriptedReviewer{answers: map[Request]Decision{
		watchAll:  {Denied: true, Reason: "cluster-wide watch denied"},
		watchPods: {Allowed: true},
	}}
	c := newTestChecker(reviewer)

	var results []ResourcePermission
	c.OnResult(func(p ResourcePermission) { results = append(results, p) })

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchAll, watchPods}},
	}))

	require.Len(t, results, 1)
	assert.Equal(t, ResourcePermission{ContextName: "dev", ResourceName: "pods", Permitted: true}, results[0])
	assert.Equal(t, []Request{watchAll, watchPods}, reviewer.calls)
}

func TestChecker_AllDeniedKeepsLastReason(t *testing.T) {
	reviewer := &scriptedReviewer{answers: map[Request]Decision{
		watchAll:  {Reason: "first"},
		watchPods: {Reason: "second"},
	}}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchAll, watchPods}},
	}))

	assert.Equal(t, []ResourcePermission{
		{ContextName: "dev", ResourceName: "pods", Permitted: false, Reason: "second"},
	}, c.Snapshot())
}

func TestChecker_FirstGrantShortCircuits(t *testing.T) {
	reviewer := &scriptedReviewer{answers: map[Request]Decision{
		watchAll: {Allowed: true},
	}}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchAll, watchPods}},
	}))

	assert.Equal(t, 1, reviewer.callCount())
	permitted, known := c.Permitted("pods")
	assert.True(t, known)
	assert.True(t, permitted)
}

func TestChecker_ReviewErrorCountsAsDenial(t *testing.T) {
	reviewer := &scriptedReviewer{
		answers: map[Request]Decision{watchPods: {Reason: "denied"}},
		errs:    map[Request]error{watchAll: errors.New("boom")},
	}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchAll, watchPods}},
		{Resource: "everything", Requests: []Request{watchAll}},
	}))

	snapshot := c.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "everything", snapshot[0].ResourceName)
	assert.False(t, snapshot[0].Permitted)
	assert.Contains(t, snapshot[0].Reason, "boom")
	assert.Equal(t, "denied", snapshot[1].Reason)
}

func TestChecker_InvalidAndEmptyChains(t *testing.T) {
	reviewer := &scriptedReviewer{}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{{Resource: "pods", Verb: "observe"}}},
		{Resource: "services"},
	}))

	assert.Zero(t, reviewer.callCount())
	for _, p := range c.Snapshot() {
		assert.False(t, p.Permitted)
		assert.NotEmpty(t, p.Reason)
	}
}

func TestChecker_NamespacedChainsUseContextNamespace(t *testing.T) {
	reviewer := &scriptedReviewer{}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchPods}, Namespaced: true},
	}))
	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "nodes", Requests: []Request{{Resource: "nodes", Verb: "watch"}}},
	}))

	assert.Equal(t, []string{"team-a", ""}, reviewer.namespace)
}

func TestChecker_KindsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	reviewer := ReviewerFunc(func(ctx context.Context, req Request, _ string) (Decision, error) {
		started.Done()
		select {
		case <-release:
			return Decision{Allowed: true}, nil
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	})
	c := newTestChecker(reviewer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Both reviews must be in flight at the same time for either to finish.
	require.NoError(t, c.Check(ctx, []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchPods}},
		{Resource: "deployments", Requests: []Request{watchDeps}},
	}))
	assert.Len(t, c.Snapshot(), 2)
}

func TestChecker_CancelProducesNoResult(t *testing.T) {
	started := make(chan struct{})
	reviewer := ReviewerFunc(func(ctx context.Context, _ Request, _ string) (Decision, error) {
		close(started)
		<-ctx.Done()
		return Decision{}, ctx.Err()
	})
	c := newTestChecker(reviewer)

	var results int
	c.OnResult(func(ResourcePermission) { results++ })

	go func() {
		<-started
		c.Cancel()
	}()

	err := c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchAll, watchPods}},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, results)
	assert.Empty(t, c.Snapshot())
}

func TestChecker_Dispose(t *testing.T) {
	reviewer := &scriptedReviewer{answers: map[Request]Decision{watchPods: {Allowed: true}}}
	c := newTestChecker(reviewer)

	require.NoError(t, c.Check(context.Background(), []ResourceRequests{
		{Resource: "pods", Requests: []Request{watchPods}},
	}))
	require.Len(t, c.Snapshot(), 1)

	c.Dispose()
	c.Dispose()

	assert.True(t, c.Disposed())
	assert.Empty(t, c.Snapshot())
	assert.ErrorIs(t, c.Check(context.Background(), nil), ErrCheckerDisposed)
}
