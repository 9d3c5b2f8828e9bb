// Package health implements the per-context reachability prober.
//
// A Checker owns exactly one context. Each call to Start performs a single
// readiness probe and moves the checker through
//
//	Idle -> Checking -> Reachable | Unreachable -> Checking -> ...
//
// until Dispose moves it to Disposed. A probe that is cancelled, either by
// Dispose or by the caller's context, never produces an Unreachable state.
// Scheduling repeated probes is left to the caller.
package health
