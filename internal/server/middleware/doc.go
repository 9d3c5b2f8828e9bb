// Package middleware provides HTTP middleware for the kubecontexts API server.
// These middleware functions handle metrics, security headers, CORS and
// request size limits.
package middleware
