package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/server/middleware"
)

// envPrefix prefixes every environment variable read by the CLI; the flag
// --http-addr maps to KUBECONTEXTS_HTTP_ADDR.
const envPrefix = "KUBECONTEXTS"

// newViper merges the config file, KUBECONTEXTS_* environment variables and
// the command's flags, in increasing order of precedence.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// ServeConfig holds all configuration for the serve command.
type ServeConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`

	// HTTP API settings
	HTTPAddr        string `mapstructure:"http-addr"`
	AllowedOrigins  string `mapstructure:"allowed-origins"`
	EnableHSTS      bool   `mapstructure:"enable-hsts"`
	MaxRequestBytes int64  `mapstructure:"max-request-bytes"`

	// Metrics server settings
	MetricsEnabled bool   `mapstructure:"metrics-enabled"`
	MetricsAddr    string `mapstructure:"metrics-addr"`

	// Engine settings
	HealthCheckInterval    time.Duration `mapstructure:"health-check-interval"`
	HealthCheckTimeout     time.Duration `mapstructure:"health-check-timeout"`
	MaxConcurrentResources int           `mapstructure:"max-concurrent-resources"`
	NotifyDebounce         time.Duration `mapstructure:"notify-debounce"`
	WatchDebounce          time.Duration `mapstructure:"watch-debounce"`

	// Kubernetes client settings
	QPSLimit       float32       `mapstructure:"qps-limit"`
	BurstLimit     int           `mapstructure:"burst-limit"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// Client cache settings
	CacheTTL        time.Duration `mapstructure:"cache-ttl"`
	CacheMaxEntries int           `mapstructure:"cache-max-entries"`

	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log-format"`
}

// loadServeConfig resolves the serve configuration for cmd.
func loadServeConfig(cmd *cobra.Command) (ServeConfig, error) {
	var cfg ServeConfig
	v, err := newViper(cmd)
	if err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot run with.
func (c ServeConfig) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("--http-addr must not be empty"))
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		errs = append(errs, errors.New("--metrics-addr must not be empty when metrics are enabled"))
	}
	if c.MetricsEnabled && c.MetricsAddr == c.HTTPAddr {
		errs = append(errs, fmt.Errorf("--metrics-addr and --http-addr must differ, both are %q", c.HTTPAddr))
	}
	if c.HealthCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("--health-check-interval must be positive, got %s", c.HealthCheckInterval))
	}
	if c.HealthCheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--health-check-timeout must be positive, got %s", c.HealthCheckTimeout))
	}
	if c.MaxConcurrentResources < 1 {
		errs = append(errs, fmt.Errorf("--max-concurrent-resources must be at least 1, got %d", c.MaxConcurrentResources))
	}
	if c.QPSLimit < 0 || c.BurstLimit < 0 {
		errs = append(errs, errors.New("--qps-limit and --burst-limit must not be negative"))
	}
	if c.CacheMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("--cache-max-entries must not be negative, got %d", c.CacheMaxEntries))
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("--log-format must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.LogFormat))
	}
	if _, err := middleware.ValidateAllowedOrigins(c.AllowedOrigins); err != nil {
		errs = append(errs, fmt.Errorf("--allowed-origins: %w", err))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the Kubernetes client settings.
func (c ServeConfig) ClientConfig() clients.ClientConfig {
	cc := clients.DefaultClientConfig()
	cc.QPS = c.QPSLimit
	cc.Burst = c.BurstLimit
	cc.RequestTimeout = c.RequestTimeout
	return cc
}

// CacheConfig returns the client cache settings.
func (c ServeConfig) CacheConfig() clients.CacheConfig {
	cc := clients.DefaultCacheConfig()
	if c.CacheTTL > 0 {
		cc.TTL = c.CacheTTL
	}
	cc.MaxEntries = c.CacheMaxEntries
	return cc
}

// ManagerOptions returns the context manager scheduling options.
func (c ServeConfig) ManagerOptions() contexts.Options {
	o := contexts.DefaultOptions()
	o.HealthCheckInterval = c.HealthCheckInterval
	o.HealthCheckTimeout = c.HealthCheckTimeout
	o.MaxConcurrentResources = c.MaxConcurrentResources
	return o
}

// StatusConfig holds all configuration for the status command.
type StatusConfig struct {
	Kubeconfig        string        `mapstructure:"kubeconfig"`
	Context           string        `mapstructure:"context"`
	Timeout           time.Duration `mapstructure:"timeout"`
	FailOnUnreachable bool          `mapstructure:"fail-on-unreachable"`
	NoColor           bool          `mapstructure:"no-color"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// loadStatusConfig resolves the status configuration for cmd.
func loadStatusConfig(cmd *cobra.Command) (StatusConfig, error) {
	var cfg StatusConfig
	v, err := newViper(cmd)
	if err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("--timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Concurrency < 1 {
		return cfg, fmt.Errorf("--concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	return cfg, nil
}
