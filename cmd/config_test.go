package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServeCmd returns a serve command that carries the root's
// persistent flags, as it does when executed through the root.
func newTestServeCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := newServeCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().Bool("debug", false, "")
	cmd.Flags().String("log-format", "text", "")
	return cmd
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg, err := loadServeConfig(newTestServeCmd(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.NotifyDebounce)
	assert.Equal(t, float32(20), cfg.QPSLimit)
	assert.Equal(t, 40, cfg.BurstLimit)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadServeConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kubecontexts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http-addr: ":7070"
metrics-addr: ":7071"
health-check-interval: 1m
burst-limit: 10
`), 0o600))

	t.Run("config file", func(t *testing.T) {
		cmd := newTestServeCmd(t)
		require.NoError(t, cmd.Flags().Set("config", path))

		cfg, err := loadServeConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.HTTPAddr)
		assert.Equal(t, ":7071", cfg.MetricsAddr)
		assert.Equal(t, time.Minute, cfg.HealthCheckInterval)
		assert.Equal(t, 10, cfg.BurstLimit)
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		t.Setenv("KUBECONTEXTS_HTTP_ADDR", ":6060")
		t.Setenv("KUBECONTEXTS_HEALTH_CHECK_INTERVAL", "45s")
		cmd := newTestServeCmd(t)
		require.NoError(t, cmd.Flags().Set("config", path))

		cfg, err := loadServeConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, ":6060", cfg.HTTPAddr)
		assert.Equal(t, 45*time.Second, cfg.HealthCheckInterval)
		assert.Equal(t, 10, cfg.BurstLimit)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("KUBECONTEXTS_HTTP_ADDR", ":6060")
		cmd := newTestServeCmd(t)
		require.NoError(t, cmd.Flags().Set("config", path))
		require.NoError(t, cmd.Flags().Set("http-addr", ":5050"))

		cfg, err := loadServeConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, ":5050", cfg.HTTPAddr)
	})
}

func TestLoadServeConfig_MissingConfigFile(t *testing.T) {
	cmd := newTestServeCmd(t)
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))

	_, err := loadServeConfig(cmd)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestServeConfig_Validate(t *testing.T) {
	valid := func() ServeConfig {
		return ServeConfig{
			HTTPAddr:               ":8080",
			MetricsEnabled:         true,
			MetricsAddr:            ":9090",
			HealthCheckInterval:    time.Second,
			HealthCheckTimeout:     time.Second,
			MaxConcurrentResources: 1,
			LogFormat:              "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ServeConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*ServeConfig) {},
		},
		{
			name:    "empty http addr",
			mutate:  func(c *ServeConfig) { c.HTTPAddr = "" },
			wantErr: "--http-addr must not be empty",
		},
		{
			name:    "metrics on the api port",
			mutate:  func(c *ServeConfig) { c.MetricsAddr = ":8080" },
			wantErr: "must differ",
		},
		{
			name: "metrics disabled on the api port",
			mutate: func(c *ServeConfig) {
				c.MetricsEnabled = false
				c.MetricsAddr = ":8080"
			},
		},
		{
			name:    "zero interval",
			mutate:  func(c *ServeConfig) { c.HealthCheckInterval = 0 },
			wantErr: "--health-check-interval must be positive",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *ServeConfig) { c.MaxConcurrentResources = 0 },
			wantErr: "--max-concurrent-resources must be at least 1",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *ServeConfig) { c.LogFormat = "xml" },
			wantErr: "--log-format",
		},
		{
			name:    "invalid origin",
			mutate:  func(c *ServeConfig) { c.AllowedOrigins = "not a url" },
			wantErr: "--allowed-origins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestServeConfig_Derived(t *testing.T) {
	cfg := ServeConfig{
		QPSLimit:               5,
		BurstLimit:             7,
		RequestTimeout:         time.Second,
		CacheTTL:               time.Minute,
		CacheMaxEntries:        3,
		HealthCheckInterval:    2 * time.Second,
		HealthCheckTimeout:     time.Second,
		MaxConcurrentResources: 2,
	}

	cc := cfg.ClientConfig()
	assert.Equal(t, float32(5), cc.QPS)
	assert.Equal(t, 7, cc.Burst)
	assert.Equal(t, time.Second, cc.RequestTimeout)

	cache := cfg.CacheConfig()
	assert.Equal(t, time.Minute, cache.TTL)
	assert.Equal(t, 3, cache.MaxEntries)

	opts := cfg.ManagerOptions()
	assert.Equal(t, 2*time.Second, opts.HealthCheckInterval)
	assert.Equal(t, time.Second, opts.HealthCheckTimeout)
	assert.Equal(t, 2, opts.MaxConcurrentResources)
	assert.Positive(t, opts.InformerRestartBackoff.Steps)
}

func TestLoadStatusConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadStatusConfig(newStatusCmd())
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, 4, cfg.Concurrency)
		assert.False(t, cfg.FailOnUnreachable)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("KUBECONTEXTS_FAIL_ON_UNREACHABLE", "true")
		t.Setenv("KUBECONTEXTS_CONTEXT", "prod")
		cfg, err := loadStatusConfig(newStatusCmd())
		require.NoError(t, err)
		assert.True(t, cfg.FailOnUnreachable)
		assert.Equal(t, "prod", cfg.Context)
	})

	t.Run("invalid concurrency", func(t *testing.T) {
		cmd := newStatusCmd()
		require.NoError(t, cmd.Flags().Set("concurrency", "0"))
		_, err := loadStatusConfig(cmd)
		assert.ErrorContains(t, err, "--concurrency")
	})
}
