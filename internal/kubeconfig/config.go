package kubeconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/giantswarm/kubecontexts/internal/logging"
)

// RawConfig enumerates the named contexts of a configuration snapshot.
// Implementations must return descriptors in a deterministic order.
type RawConfig interface {
	Contexts() []*ContextDescriptor
}

// DescriptorList is a RawConfig backed by an explicit list of descriptors.
type DescriptorList []*ContextDescriptor

// Contexts returns the list as is.
func (l DescriptorList) Contexts() []*ContextDescriptor {
	return l
}

// Config is a RawConfig backed by a parsed kubeconfig.
type Config struct {
	raw    *clientcmdapi.Config
	logger *slog.Logger
}

var _ RawConfig = (*Config)(nil)

// NewConfig wraps an already parsed kubeconfig.
func NewConfig(raw *clientcmdapi.Config, logger *slog.Logger) *Config {
	if raw == nil {
		raw = clientcmdapi.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Config{raw: raw, logger: logger}
}

// LoadFromBytes parses kubeconfig YAML.
func LoadFromBytes(data []byte, logger *slog.Logger) (*Config, error) {
	raw, err := clientcmd.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}
	return NewConfig(raw, logger), nil
}

// Load reads and merges kubeconfig files using the standard client-go loading
// rules. An explicit path takes precedence over $KUBECONFIG and
// ~/.kube/config.
func Load(explicitPath string, logger *slog.Logger) (*Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if explicitPath != "" {
		loadingRules.ExplicitPath = expandHome(explicitPath)
	}

	cc := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	raw, err := cc.RawConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	return NewConfig(&raw, logger), nil
}

// Paths returns the files Load reads for the given explicit path, in loading
// precedence order.
func Paths(explicitPath string) []string {
	if explicitPath != "" {
		return []string{expandHome(explicitPath)}
	}
	return clientcmd.NewDefaultClientConfigLoadingRules().GetLoadingPrecedence()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Contexts returns one descriptor per resolvable context, ordered by name.
// Contexts that refer to a missing cluster or user are skipped.
func (c *Config) Contexts() []*ContextDescriptor {
	names := make([]string, 0, len(c.raw.Contexts))
	for name := range c.raw.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*ContextDescriptor, 0, len(names))
	for _, name := range names {
		d, err := descriptorFor(c.raw, name)
		if err != nil {
			c.logger.Warn("skipping invalid kubeconfig context",
				logging.Context(name),
				logging.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out
}

// CurrentContext returns the kubeconfig's current-context.
func (c *Config) CurrentContext() string {
	return c.raw.CurrentContext
}
