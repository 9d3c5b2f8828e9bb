// Package logging provides structured logging utilities for kubecontexts.
//
// This package centralizes logging patterns to ensure consistent, structured
// logging throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Consistent attribute naming (context, resource_kind, verb, channel)
//   - Host/URL sanitization so API server addresses do not leak into logs
//   - Hashing of kubeconfig user names
//   - Routing of client-go's klog output into the same slog handler
//
// # Usage Patterns
//
//	logger := logging.WithContext(slog.Default(), "dev")
//	logger.Info("context became reachable",
//	    logging.Host(desc.Server),
//	    logging.Duration(elapsed))
//
// Errors returned by API servers should be logged with SanitizedErr, which
// redacts IP addresses embedded in the message.
package logging
