package server

import (
	"errors"
	"log/slog"

	"github.com/giantswarm/kubecontexts/internal/instrumentation"
)

// Option is a functional option for configuring ServerContext.
type Option func(*ServerContext) error

// WithEngine sets the context manager.
func WithEngine(engine Engine) Option {
	return func(sc *ServerContext) error {
		if engine == nil {
			return ErrMissingEngine
		}
		sc.engine = engine
		return nil
	}
}

// WithStateView sets the dispatcher the API reads from.
func WithStateView(view StateView) Option {
	return func(sc *ServerContext) error {
		if view == nil {
			return ErrMissingStateView
		}
		sc.view = view
		return nil
	}
}

// WithLogger sets the logger for the ServerContext.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		if logger == nil {
			return ErrMissingLogger
		}
		sc.logger = logger
		return nil
	}
}

// WithConfig sets the configuration for the ServerContext.
func WithConfig(config *Config) Option {
	return func(sc *ServerContext) error {
		if config == nil {
			return ErrMissingConfig
		}
		sc.config = config.Clone()
		return nil
	}
}

// WithServerName sets the server name in the configuration.
func WithServerName(name string) Option {
	return func(sc *ServerContext) error {
		if sc.config == nil {
			sc.config = NewDefaultConfig()
		}
		sc.config.ServerName = name
		return nil
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(version string) Option {
	return func(sc *ServerContext) error {
		if sc.config == nil {
			sc.config = NewDefaultConfig()
		}
		sc.config.Version = version
		return nil
	}
}

// WithInstrumentationProvider sets the instrumentation provider. A nil
// provider disables HTTP metrics.
func WithInstrumentationProvider(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) error {
		sc.provider = provider
		return nil
	}
}

// Error definitions for ServerContext validation and operations.
var (
	ErrMissingEngine    = errors.New("context manager is required")
	ErrMissingStateView = errors.New("state view is required")
	ErrMissingLogger    = errors.New("logger is required")
	ErrMissingConfig    = errors.New("configuration is required")
	ErrServerShutdown   = errors.New("server context has been shutdown")
)
