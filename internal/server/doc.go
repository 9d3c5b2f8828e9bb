// Package server exposes the multi-context state over HTTP.
//
// The ServerContext bundles the context manager, the dispatcher view, the
// logger and the instrumentation provider. Dependencies are injected with
// functional options:
//
//	sc, err := server.NewServerContext(ctx,
//		server.WithEngine(manager),
//		server.WithStateView(disp),
//		server.WithLogger(logger),
//		server.WithVersion(version),
//	)
//	if err != nil {
//		return err
//	}
//	defer sc.Shutdown()
//
// NewHandler builds the routes served by the API server:
//
//   - GET  /api/v1/contexts/healths
//   - GET  /api/v1/contexts/permissions
//   - GET  /api/v1/resources/count
//   - GET  /api/v1/events (server-sent events, one per changed channel)
//   - POST /api/v1/contexts/{name}/refresh
//   - GET  /healthz, /readyz, /healthz/detailed
//
// Metrics are served separately by MetricsServer so they can be bound to a
// different address.
package server
