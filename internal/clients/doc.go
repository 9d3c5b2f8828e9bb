// Package clients caches Kubernetes clients per kubeconfig context.
//
// Entries are keyed by context name and remember the descriptor they were
// built from. A lookup with a descriptor that no longer matches rebuilds the
// entry, so credential or endpoint changes never reuse a stale client.
package clients
