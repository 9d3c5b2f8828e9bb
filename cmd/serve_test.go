package cmd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/dispatcher"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
)

func TestServeCmdProperties(t *testing.T) {
	cmd := newServeCmd()

	assert.Equal(t, "serve", cmd.Use)
	assert.Equal(t, "Start the kubecontexts server", cmd.Short)
	assert.True(t, strings.Contains(cmd.Long, "/api/v1/events"))
	assert.True(t, strings.Contains(cmd.Long, "KUBECONTEXTS_HTTP_ADDR"))
}

func TestServeCmdFlagDefaults(t *testing.T) {
	cmd := newServeCmd()

	tests := []struct {
		flagName string
		expected string
	}{
		{"kubeconfig", ""},
		{"http-addr", ":8080"},
		{"allowed-origins", ""},
		{"enable-hsts", "false"},
		{"max-request-bytes", "1048576"},
		{"metrics-enabled", "true"},
		{"metrics-addr", ":9090"},
		{"health-check-interval", "30s"},
		{"health-check-timeout", "10s"},
		{"max-concurrent-resources", "8"},
		{"notify-debounce", "100ms"},
		{"watch-debounce", "250ms"},
		{"qps-limit", "20"},
		{"burst-limit", "40"},
		{"request-timeout", "30s"},
		{"cache-ttl", "30m0s"},
		{"cache-max-entries", "256"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tt.flagName)
			if assert.NotNil(t, flag, "flag %s should exist", tt.flagName) {
				assert.Equal(t, tt.expected, flag.DefValue)
			}
		})
	}
}

func TestStatusCmdFlagDefaults(t *testing.T) {
	cmd := newStatusCmd()

	tests := []struct {
		flagName string
		expected string
	}{
		{"kubeconfig", ""},
		{"context", ""},
		{"timeout", "10s"},
		{"fail-on-unreachable", "false"},
		{"no-color", "false"},
		{"concurrency", "4"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tt.flagName)
			if assert.NotNil(t, flag, "flag %s should exist", tt.flagName) {
				assert.Equal(t, tt.expected, flag.DefValue)
			}
		})
	}
}

func TestRunServe_ReturnsWhenListenFails(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = occupied.Close() }()

	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("apiVersion: v1\nkind: Config\n"), 0o600))

	options := contexts.DefaultOptions()
	defaults := clients.DefaultClientConfig()
	config := ServeConfig{
		Kubeconfig:             path,
		HTTPAddr:               occupied.Addr().String(),
		HealthCheckInterval:    options.HealthCheckInterval,
		HealthCheckTimeout:     options.HealthCheckTimeout,
		MaxConcurrentResources: options.MaxConcurrentResources,
		NotifyDebounce:         dispatcher.DefaultDebounce,
		WatchDebounce:          kubeconfig.DefaultWatchDebounce,
		QPSLimit:               defaults.QPS,
		BurstLimit:             defaults.Burst,
		RequestTimeout:         defaults.RequestTimeout,
		CacheTTL:               time.Minute,
	}
	require.NoError(t, config.Validate())

	done := make(chan error, 1)
	go func() {
		done <- runServe(context.Background(), config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP server stopped with error")
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after the listener failed")
	}
}
