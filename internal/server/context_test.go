package server

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/dispatcher"
)

// fakeEngine records refreshes and knows a fixed set of names.
type fakeEngine struct {
	mu        sync.Mutex
	names     []string
	closed    bool
	refreshed []string
}

func (e *fakeEngine) ContextsNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

func (e *fakeEngine) Refresh(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return contexts.ErrManagerClosed
	}
	for _, n := range e.names {
		if n == name {
			e.refreshed = append(e.refreshed, name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", contexts.ErrContextNotFound, name)
}

func (e *fakeEngine) Refreshed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.refreshed...)
}

func newTestServerContext(t *testing.T, names ...string) (*ServerContext, *fakeEngine, *dispatcher.Dispatcher) {
	t.Helper()
	engine := &fakeEngine{names: names}
	disp := dispatcher.New(dispatcher.WithDebounce(0))
	t.Cleanup(disp.Close)

	sc, err := NewServerContext(context.Background(),
		WithEngine(engine),
		WithStateView(disp),
		WithVersion("1.2.3"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc, engine, disp
}

func TestNewServerContext_RequiresDependencies(t *testing.T) {
	disp := dispatcher.New()
	defer disp.Close()

	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{
			name:    "missing engine",
			opts:    []Option{WithStateView(disp)},
			wantErr: ErrMissingEngine,
		},
		{
			name:    "missing state view",
			opts:    []Option{WithEngine(&fakeEngine{})},
			wantErr: ErrMissingStateView,
		},
		{
			name:    "nil logger",
			opts:    []Option{WithEngine(&fakeEngine{}), WithStateView(disp), WithLogger(nil)},
			wantErr: ErrMissingLogger,
		},
		{
			name:    "nil config",
			opts:    []Option{WithEngine(&fakeEngine{}), WithStateView(disp), WithConfig(nil)},
			wantErr: ErrMissingConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := NewServerContext(context.Background(), tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, sc)
		})
	}
}

func TestNewServerContext_Defaults(t *testing.T) {
	sc, _, _ := newTestServerContext(t)

	cfg := sc.Config()
	assert.Equal(t, "kubecontexts", cfg.ServerName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, DefaultMaxRequestBytes, cfg.MaxRequestBytes)
	assert.NotNil(t, sc.Logger())
	assert.Nil(t, sc.InstrumentationProvider())
}

func TestServerContext_Shutdown(t *testing.T) {
	sc, _, _ := newTestServerContext(t)

	assert.False(t, sc.IsShutdown())
	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	assert.ErrorIs(t, sc.Context().Err(), context.Canceled)

	// idempotent
	require.NoError(t, sc.Shutdown())
}

func TestWithConfig_Clones(t *testing.T) {
	cfg := &Config{
		ServerName:     "custom",
		AllowedOrigins: []string{"https://a.example.com"},
	}
	sc, err := NewServerContext(context.Background(),
		WithEngine(&fakeEngine{}),
		WithStateView(dispatcher.New()),
		WithConfig(cfg),
		WithServerName("renamed"),
	)
	require.NoError(t, err)

	cfg.AllowedOrigins[0] = "https://mutated.example.com"
	assert.Equal(t, "renamed", sc.Config().ServerName)
	assert.Equal(t, []string{"https://a.example.com"}, sc.Config().AllowedOrigins)
	assert.Equal(t, "custom", cfg.ServerName)
}

func TestConfig_CloneNil(t *testing.T) {
	var cfg *Config
	assert.Nil(t, cfg.Clone())
}
