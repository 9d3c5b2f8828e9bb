package clients

import (
	"time"

	"k8s.io/client-go/rest"
)

// ClientConfig holds the client-side limits applied to every rest.Config the
// cache builds.
type ClientConfig struct {
	// RequestTimeout bounds individual API requests. Watches are not affected.
	//
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// QPS is the client-side rate limit per context.
	//
	// Default: 20.
	QPS float32

	// Burst is the maximum burst above QPS.
	//
	// Default: 40.
	Burst int

	// UserAgent identifies this process to API servers.
	UserAgent string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 30 * time.Second,
		QPS:            20,
		Burst:          40,
		UserAgent:      "kubecontexts",
	}
}

// Apply writes cc into config. Zero values leave config unchanged.
func (cc ClientConfig) Apply(config *rest.Config) {
	if config == nil {
		return
	}
	if cc.RequestTimeout > 0 {
		config.Timeout = cc.RequestTimeout
	}
	if cc.QPS > 0 {
		config.QPS = cc.QPS
	}
	if cc.Burst > 0 {
		config.Burst = cc.Burst
	}
	if cc.UserAgent != "" {
		config.UserAgent = cc.UserAgent
	}
}

// CacheConfig holds configuration options for the Cache.
type CacheConfig struct {
	// TTL is the time-to-live for cached clients. Expired entries are rebuilt
	// on next use; clients already handed out keep working.
	//
	// Default: 30 minutes.
	TTL time.Duration

	// MaxEntries is the maximum number of contexts held. The least recently
	// used entry is evicted when it is exceeded.
	//
	// Default: 256.
	MaxEntries int

	// CleanupInterval is how often expired entries are dropped.
	//
	// Default: 1 minute.
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             30 * time.Minute,
		MaxEntries:      256,
		CleanupInterval: time.Minute,
	}
}
