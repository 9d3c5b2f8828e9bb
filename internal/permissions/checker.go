package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/kubecontexts/internal/events"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/logging"
)

// DefaultMaxConcurrentResources bounds the number of chains evaluated at once.
const DefaultMaxConcurrentResources = 8

// ResourcePermission is the settled permission of one resource kind in one context.
type ResourcePermission struct {
	ContextName  string `json:"contextName"`
	ResourceName string `json:"resourceName"`
	Permitted    bool   `json:"permitted"`
	Reason       string `json:"reason,omitempty"`
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) CheckerOption {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithMaxConcurrentResources bounds how many chains run concurrently.
func WithMaxConcurrentResources(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// Checker evaluates permission chains for one context.
type Checker struct {
	contextName   string
	namespace     string
	reviewer      AccessReviewer
	maxConcurrent int
	logger        *slog.Logger
	metrics       *instrumentation.Metrics

	mu       sync.Mutex
	results  map[string]ResourcePermission
	cancels  map[uint64]context.CancelFunc
	nextID   uint64
	disposed bool

	resultEvents events.Emitter[ResourcePermission]
}

// NewChecker returns a Checker for contextName. Namespaced chains are
// reviewed in namespace.
func NewChecker(contextName, namespace string, reviewer AccessReviewer, opts ...CheckerOption) *Checker {
	c := &Checker{
		contextName:   contextName,
		namespace:     namespace,
		reviewer:      reviewer,
		maxConcurrent: DefaultMaxConcurrentResources,
		logger:        slog.Default(),
		results:       make(map[string]ResourcePermission),
		cancels:       make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithContext(c.logger, contextName)
	return c
}

// OnResult registers fn for every settled resource kind.
func (c *Checker) OnResult(fn func(ResourcePermission)) func() {
	return c.resultEvents.On(fn)
}

// Check evaluates every chain in resources and blocks until all of them have
// settled or ctx is cancelled. Kinds whose evaluation was cancelled produce
// no result. The returned error is non-nil only for a disposed checker or a
// cancelled ctx.
func (c *Checker) Check(ctx context.Context, resources []ResourceRequests) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrCheckerDisposed
	}
	opCtx, cancel := context.WithCancel(ctx)
	id := c.nextID
	c.nextID++
	c.cancels[id] = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
		cancel()
	}()

	g := new(errgroup.Group)
	g.SetLimit(c.maxConcurrent)
	for _, rr := range resources {
		g.Go(func() error {
			perm, ok := c.evaluate(opCtx, rr)
			if ok {
				c.settle(perm)
			}
			return nil
		})
	}
	_ = g.Wait()

	return opCtx.Err()
}

// evaluate walks one chain. It returns false when the walk was cancelled.
func (c *Checker) evaluate(ctx context.Context, rr ResourceRequests) (ResourcePermission, bool) {
	perm := ResourcePermission{
		ContextName:  c.contextName,
		ResourceName: rr.Resource,
	}
	if len(rr.Requests) == 0 {
		perm.Reason = "no permission requests declared"
		return perm, true
	}

	namespace := ""
	if rr.Namespaced {
		namespace = c.namespace
	}

	for _, req := range rr.Requests {
		if ctx.Err() != nil {
			return perm, false
		}
		if err := ValidateRequest(req); err != nil {
			perm.Reason = err.Error()
			continue
		}

		decision, err := c.review(ctx, rr.Resource, req, namespace)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return perm, false
			}
			perm.Reason = err.Error()
			continue
		}
		if decision.Allowed {
			perm.Permitted = true
			perm.Reason = ""
			return perm, true
		}
		perm.Reason = denialReason(req, decision)
	}
	return perm, true
}

func (c *Checker) review(ctx context.Context, kind string, req Request, namespace string) (Decision, error) {
	ctx, span := instrumentation.StartContextSpan(ctx, "access_review", c.contextName,
		attribute.String(instrumentation.SpanAttrResourceKind, kind),
		attribute.String(instrumentation.SpanAttrVerb, req.Verb),
	)
	defer span.End()

	decision, err := c.reviewer.Review(ctx, req, namespace)
	switch {
	case err != nil:
		instrumentation.SetSpanError(span, err)
		if !errors.Is(err, context.Canceled) {
			c.metrics.RecordAccessReview(ctx, c.contextName, kind, req.Verb, instrumentation.ResultError)
			c.logger.Debug("access review failed",
				logging.ResourceKind(kind), logging.Verb(req.Verb), logging.SanitizedErr(err))
		}
	case decision.Allowed:
		span.SetAttributes(attribute.Bool(instrumentation.SpanAttrAllowed, true))
		instrumentation.SetSpanSuccess(span)
		c.metrics.RecordAccessReview(ctx, c.contextName, kind, req.Verb, instrumentation.ResultAllowed)
	default:
		span.SetAttributes(attribute.Bool(instrumentation.SpanAttrAllowed, false))
		instrumentation.SetSpanSuccess(span)
		c.metrics.RecordAccessReview(ctx, c.contextName, kind, req.Verb, instrumentation.ResultDenied)
	}
	return decision, err
}

func denialReason(req Request, d Decision) string {
	switch {
	case d.Reason != "" && d.EvaluationError != "":
		return fmt.Sprintf("%s (%s)", d.Reason, d.EvaluationError)
	case d.Reason != "":
		return d.Reason
	case d.EvaluationError != "":
		return d.EvaluationError
	default:
		return fmt.Sprintf("%s is not allowed", req)
	}
}

func (c *Checker) settle(perm ResourcePermission) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.results[perm.ResourceName] = perm
	c.mu.Unlock()

	if !perm.Permitted {
		c.logger.Debug("resource not permitted", logging.ResourceKind(perm.ResourceName), slog.String("reason", perm.Reason))
	}
	c.resultEvents.Emit(perm)
}

// Snapshot returns every settled result sorted by resource name.
func (c *Checker) Snapshot() []ResourcePermission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ResourcePermission, 0, len(c.results))
	for _, p := range c.results {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceName < out[j].ResourceName })
	return out
}

// Permitted reports the settled result for resource. The second value is
// false when resource has not been evaluated.
func (c *Checker) Permitted(resource string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.results[resource]
	return p.Permitted, ok
}

// Cancel aborts every outstanding Check. Results already settled are kept.
func (c *Checker) Cancel() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Dispose cancels outstanding checks, drops results and subscriptions.
// It is safe to call more than once.
func (c *Checker) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.results = make(map[string]ResourcePermission)
	c.mu.Unlock()

	c.Cancel()
	c.resultEvents.Clear()
}

// Disposed reports whether Dispose has been called.
func (c *Checker) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
