package health

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"

	"github.com/giantswarm/kubecontexts/internal/logging"
)

// ReadinessProber performs a single reachability probe.
type ReadinessProber interface {
	ProbeReady(ctx context.Context) error
}

// ProberFunc adapts a function to ReadinessProber.
type ProberFunc func(ctx context.Context) error

// ProbeReady calls f.
func (f ProberFunc) ProbeReady(ctx context.Context) error {
	return f(ctx)
}

// readinessPaths are tried in order. /healthz is only used when the server
// does not serve /readyz.
var readinessPaths = []string{"/readyz", "/healthz"}

// RESTReadinessProber probes an API server's readiness endpoint.
type RESTReadinessProber struct {
	contextName string
	host        string
	client      rest.Interface
}

// NewRESTReadinessProber builds a prober for the API server in config.
// The probe deadline comes from the context passed to ProbeReady.
func NewRESTReadinessProber(contextName string, config *rest.Config) (*RESTReadinessProber, error) {
	if config == nil {
		return nil, &ConnectionError{
			ContextName: contextName,
			Host:        "<nil config>",
			Reason:      "config is nil",
		}
	}

	configCopy := rest.CopyConfig(config)
	configCopy.APIPath = "/api"
	configCopy.GroupVersion = &schema.GroupVersion{Version: "v1"}
	configCopy.NegotiatedSerializer = scheme.Codecs.WithoutConversion()

	client, err := rest.RESTClientFor(configCopy)
	if err != nil {
		return nil, wrapProbeError(contextName, config.Host, "failed to create REST client", err)
	}

	return &RESTReadinessProber{
		contextName: contextName,
		host:        config.Host,
		client:      client,
	}, nil
}

// ProbeReady issues GET /readyz and falls back to /healthz on 404.
func (p *RESTReadinessProber) ProbeReady(ctx context.Context) error {
	var err error
	for _, path := range readinessPaths {
		err = p.client.Get().AbsPath(path).Do(ctx).Error()
		if err == nil {
			return nil
		}
		if !apierrors.IsNotFound(err) {
			break
		}
	}
	return wrapProbeError(p.contextName, p.host, "readiness check failed", err)
}

// wrapProbeError classifies err into one of the typed probe errors.
// Cancellation is wrapped in a ConnectionError so errors.Is(err, context.Canceled)
// still holds for the caller.
func wrapProbeError(contextName, host, reason string, err error) error {
	host = logging.SanitizeHost(host)

	if err == nil {
		return &ConnectionError{ContextName: contextName, Host: host, Reason: reason}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProbeTimeoutError{ContextName: contextName, Host: host, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &ConnectionError{ContextName: contextName, Host: host, Reason: "request cancelled", Err: err}
	}

	if isTLSError(err) {
		return &TLSError{ContextName: contextName, Host: host, Reason: extractTLSReason(err), Err: err}
	}

	if isTimeoutError(err) {
		return &ProbeTimeoutError{ContextName: contextName, Host: host, Err: err}
	}

	return &ConnectionError{ContextName: contextName, Host: host, Reason: reason, Err: err}
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}

	errStr := err.Error()
	for _, pattern := range []string{
		"tls:",
		"x509:",
		"certificate signed by",
		"certificate has expired",
		"certificate is not valid",
		"certificate is valid for",
		"handshake failure",
		"unknown authority",
		"bad certificate",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "timed out", "deadline exceeded"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func extractTLSReason(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "unknown authority"):
		return "certificate signed by unknown authority"
	case strings.Contains(errStr, "has expired"):
		return "certificate has expired"
	case strings.Contains(errStr, "not valid yet"):
		return "certificate is not yet valid"
	case strings.Contains(errStr, "doesn't match"), strings.Contains(errStr, "is valid for"):
		return "certificate hostname mismatch"
	case strings.Contains(errStr, "handshake failure"):
		return "TLS handshake failed"
	default:
		return "TLS error"
	}
}
