package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/kubecontexts/internal/events"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/logging"
)

// DefaultProbeTimeout bounds a probe when StartOptions carries no timeout.
const DefaultProbeTimeout = 10 * time.Second

// Phase is the lifecycle phase of a Checker.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseReachable
	PhaseUnreachable
	PhaseDisposed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseReachable:
		return "reachable"
	case PhaseUnreachable:
		return "unreachable"
	case PhaseDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// State is the health of one context as seen by consumers.
type State struct {
	ContextName string `json:"contextName"`
	Checking    bool   `json:"checking"`
	Reachable   bool   `json:"reachable"`
}

// StartOptions configures a single probe.
type StartOptions struct {
	// Timeout bounds the probe. Zero uses the checker's default.
	Timeout time.Duration
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

// WithDefaultTimeout sets the timeout used when StartOptions.Timeout is zero.
func WithDefaultTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// Checker tracks the reachability of a single context.
type Checker struct {
	contextName    string
	prober         ReadinessProber
	logger         *slog.Logger
	metrics        *instrumentation.Metrics
	defaultTimeout time.Duration

	mu       sync.Mutex
	phase    Phase
	settled  Phase
	state    State
	lastErr  error
	inFlight bool
	cancel   context.CancelFunc

	stateChanges events.Emitter[State]
	reachable    events.Emitter[State]
}

// NewChecker returns an idle Checker for contextName.
func NewChecker(contextName string, prober ReadinessProber, opts ...CheckerOption) *Checker {
	c := &Checker{
		contextName:    contextName,
		prober:         prober,
		logger:         slog.Default(),
		defaultTimeout: DefaultProbeTimeout,
		phase:          PhaseIdle,
		settled:        PhaseIdle,
		state:          State{ContextName: contextName},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithContext(c.logger, contextName)
	return c
}

// ContextName returns the context this checker probes.
func (c *Checker) ContextName() string {
	return c.contextName
}

// OnStateChange registers fn for every state transition.
func (c *Checker) OnStateChange(fn func(State)) func() {
	return c.stateChanges.On(fn)
}

// OnReachable registers fn for transitions into Reachable only.
func (c *Checker) OnReachable(fn func(State)) func() {
	return c.reachable.On(fn)
}

// State returns the current state.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase returns the current lifecycle phase.
func (c *Checker) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LastError returns the error of the most recent failed probe, or nil.
func (c *Checker) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Disposed reports whether Dispose has been called.
func (c *Checker) Disposed() bool {
	return c.Phase() == PhaseDisposed
}

// Start runs one readiness probe and blocks until it settles or is cancelled.
// Probe failures are reported through the state, never as the returned error.
func (c *Checker) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	if c.phase == PhaseDisposed {
		c.mu.Unlock()
		return ErrCheckerDisposed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrCheckInProgress
	}
	probeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.inFlight = true
	c.phase = PhaseChecking
	c.state.Checking = true
	checking := c.state
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	c.stateChanges.Emit(checking)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	probeCtx, cancelTimeout := context.WithTimeout(probeCtx, timeout)
	defer cancelTimeout()

	probeCtx, span := instrumentation.StartContextSpan(probeCtx, "health_probe", c.contextName)
	defer span.End()

	started := time.Now()
	err := c.prober.ProbeReady(probeCtx)
	elapsed := time.Since(started)

	c.mu.Lock()
	cancelled := err != nil && (errors.Is(err, context.Canceled) || errors.Is(probeCtx.Err(), context.Canceled))
	if c.phase == PhaseDisposed || cancelled {
		c.mu.Unlock()
		c.metrics.RecordHealthProbe(ctx, c.contextName, instrumentation.ResultCancelled, elapsed)
		instrumentation.AddSpanEvent(span, "cancelled")
		c.logger.Debug("readiness probe cancelled", logging.Duration(elapsed))
		return nil
	}

	previous := c.settled
	if err == nil {
		c.phase, c.settled = PhaseReachable, PhaseReachable
		c.state.Reachable = true
		c.lastErr = nil
	} else {
		c.phase, c.settled = PhaseUnreachable, PhaseUnreachable
		c.state.Reachable = false
		c.lastErr = err
	}
	c.state.Checking = false
	settled := c.state
	c.mu.Unlock()

	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordHealthProbe(ctx, c.contextName, instrumentation.ResultUnreachable, elapsed)
		if previous != PhaseUnreachable {
			c.logger.Info("context unreachable", logging.SanitizedErr(err), logging.Duration(elapsed))
		}
	} else {
		instrumentation.SetSpanSuccess(span)
		c.metrics.RecordHealthProbe(ctx, c.contextName, instrumentation.ResultReachable, elapsed)
	}

	c.stateChanges.Emit(settled)
	if settled.Reachable && previous != PhaseReachable {
		c.logger.Info("context reachable", logging.Duration(elapsed))
		c.reachable.Emit(settled)
	}
	return nil
}

// Dispose aborts any in-flight probe and drops all subscriptions.
// It is safe to call more than once.
func (c *Checker) Dispose() {
	c.mu.Lock()
	if c.phase == PhaseDisposed {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseDisposed
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.stateChanges.Clear()
	c.reachable.Clear()
}
