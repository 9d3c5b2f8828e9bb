// Package contexts orchestrates the per-context machinery.
//
// A Manager turns kubeconfig diffs into one health checker, one permission
// checker and one set of informers per context. It probes every context on
// an interval, evaluates permissions whenever a context becomes reachable,
// starts informers for the kinds the user may watch and stops them again
// when the context becomes unreachable or disappears. Every observable
// change is forwarded to a StateSink.
//
// Contexts are independent: a slow or failing context never delays probes or
// informers of another one.
package contexts
