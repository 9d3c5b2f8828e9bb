package health

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for readiness probes and checker misuse.
var (
	// ErrUnreachable matches any probe failure that is not a timeout or TLS error.
	ErrUnreachable = errors.New("cluster unreachable")

	// ErrProbeTimeout matches probes that did not complete in time.
	ErrProbeTimeout = errors.New("readiness probe timed out")

	// ErrTLSHandshakeFailed matches certificate and handshake failures.
	ErrTLSHandshakeFailed = errors.New("TLS handshake failed")

	// ErrCheckerDisposed is returned by Start after Dispose.
	ErrCheckerDisposed = errors.New("health checker disposed")

	// ErrCheckInProgress is returned by Start while a previous probe is outstanding.
	ErrCheckInProgress = errors.New("health check already in progress")
)

// ConnectionError provides detailed context about a failed readiness probe.
type ConnectionError struct {
	ContextName string
	Host        string
	Reason      string
	Err         error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("readiness probe for context %q (%s) failed: %s: %v",
			e.ContextName, e.Host, e.Reason, e.Err)
	}
	return fmt.Sprintf("readiness probe for context %q (%s) failed: %s",
		e.ContextName, e.Host, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is allows ConnectionError to match ErrUnreachable.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrUnreachable
}

// UserFacingError returns a message without host details.
func (e *ConnectionError) UserFacingError() string {
	return "cluster is unreachable - check network connectivity and the server address in your kubeconfig"
}

// ProbeTimeoutError indicates the probe did not finish before its deadline.
type ProbeTimeoutError struct {
	ContextName string
	Host        string

	// Timeout is the configured deadline, zero when unknown.
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *ProbeTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("readiness probe for context %q (%s) timed out after %s",
			e.ContextName, e.Host, e.Timeout)
	}
	return fmt.Sprintf("readiness probe for context %q (%s) timed out", e.ContextName, e.Host)
}

// Unwrap returns the underlying error.
func (e *ProbeTimeoutError) Unwrap() error {
	return e.Err
}

// Is allows ProbeTimeoutError to match both ErrProbeTimeout and ErrUnreachable.
func (e *ProbeTimeoutError) Is(target error) bool {
	switch target {
	case ErrProbeTimeout, ErrUnreachable:
		return true
	default:
		return false
	}
}

// UserFacingError returns a message without host details.
func (e *ProbeTimeoutError) UserFacingError() string {
	return "cluster did not answer in time - it may be down or behind a VPN you are not connected to"
}

// TLSError indicates the TLS handshake with the API server failed.
type TLSError struct {
	ContextName string
	Host        string

	// Reason is a short classification such as "certificate has expired".
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *TLSError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("TLS handshake with context %q (%s) failed: %s: %v",
			e.ContextName, e.Host, e.Reason, e.Err)
	}
	return fmt.Sprintf("TLS handshake with context %q (%s) failed: %s",
		e.ContextName, e.Host, e.Reason)
}

// Unwrap returns the underlying error.
func (e *TLSError) Unwrap() error {
	return e.Err
}

// Is allows TLSError to match both ErrTLSHandshakeFailed and ErrUnreachable.
func (e *TLSError) Is(target error) bool {
	switch target {
	case ErrTLSHandshakeFailed, ErrUnreachable:
		return true
	default:
		return false
	}
}

// UserFacingError returns a message without host details.
func (e *TLSError) UserFacingError() string {
	switch {
	case strings.Contains(e.Reason, "expired"):
		return "cluster certificate has expired"
	case strings.Contains(e.Reason, "unknown authority"):
		return "cluster certificate is not trusted - check certificate-authority-data in your kubeconfig"
	default:
		return "secure connection to the cluster failed"
	}
}

// UserFacingError returns the user-facing text of err when it carries one,
// and err.Error() otherwise.
func UserFacingError(err error) string {
	if err == nil {
		return ""
	}
	var uf interface{ UserFacingError() string }
	if errors.As(err, &uf) {
		return uf.UserFacingError()
	}
	return err.Error()
}
