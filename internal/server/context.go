package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/giantswarm/kubecontexts/internal/dispatcher"
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

// Engine is the part of the context manager the HTTP surface drives.
type Engine interface {
	// ContextsNames returns the known context names in ascending order.
	ContextsNames() []string

	// Refresh triggers an immediate health probe of the named context.
	Refresh(name string) error
}

// StateView is the read side of the state dispatcher.
type StateView interface {
	GetContextsHealths() []health.State
	GetContextsPermissions() []permissions.ResourcePermission
	GetResourcesCount() []dispatcher.ResourceCount

	// Watch returns a channel that receives the name of every channel
	// that changed until ctx is done.
	Watch(ctx context.Context) <-chan dispatcher.Channel
}

// ServerContext holds the dependencies of the HTTP API and manages their
// shared lifecycle.
type ServerContext struct {
	engine   Engine
	view     StateView
	logger   *slog.Logger
	config   *Config
	provider *instrumentation.Provider

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a ServerContext. WithEngine and WithStateView are
// required.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:    serverCtx,
		cancel: cancel,
		config: NewDefaultConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}

	return sc, nil
}

// Context returns the server context. It is cancelled on Shutdown, which
// also ends every open event stream.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// Engine returns the context manager.
func (sc *ServerContext) Engine() Engine {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.engine
}

// StateView returns the dispatcher view.
func (sc *ServerContext) StateView() StateView {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.view
}

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.logger
}

// Config returns the server configuration.
func (sc *ServerContext) Config() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// InstrumentationProvider returns the instrumentation provider, possibly nil.
func (sc *ServerContext) InstrumentationProvider() *instrumentation.Provider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.provider
}

// Shutdown cancels the server context. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.logger.Info("Shutting down server context")
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.shutdown = true
	return nil
}

// IsShutdown returns true if the server context has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

func (sc *ServerContext) validate() error {
	if sc.engine == nil {
		return ErrMissingEngine
	}
	if sc.view == nil {
		return ErrMissingStateView
	}
	if sc.logger == nil {
		return ErrMissingLogger
	}
	if sc.config == nil {
		return ErrMissingConfig
	}
	return nil
}

// Config holds the server configuration.
type Config struct {
	// Server settings
	ServerName string `json:"serverName"`
	Version    string `json:"version"`

	// KubeconfigPaths lists the watched kubeconfig files.
	KubeconfigPaths []string `json:"kubeconfigPaths"`

	// AllowedOrigins lists the CORS origins allowed to call the API.
	AllowedOrigins []string `json:"allowedOrigins"`

	// EnableHSTS sends the HSTS header on plain HTTP, for servers behind a
	// TLS terminating proxy.
	EnableHSTS bool `json:"enableHSTS"`

	// MaxRequestBytes limits request bodies. Zero disables the limit.
	MaxRequestBytes int64 `json:"maxRequestBytes"`
}

// NewDefaultConfig creates a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ServerName:      "kubecontexts",
		Version:         "dev",
		MaxRequestBytes: DefaultMaxRequestBytes,
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	if c.KubeconfigPaths != nil {
		clone.KubeconfigPaths = append([]string(nil), c.KubeconfigPaths...)
	}
	if c.AllowedOrigins != nil {
		clone.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	}
	return &clone
}
