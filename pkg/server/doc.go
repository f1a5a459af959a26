// Package server provides the decision point's HTTP admin API.
//
// # Routes
//
//   - GET  /health            liveness probe
//   - GET  /ready             readiness probe (policy cache and cache processor)
//   - GET  /version           build information
//   - GET  /metrics           Prometheus metrics, when enabled
//   - POST /v1/decisions      evaluate an authorization request
//   - POST /v1/spep/startup   send current policies to a starting enforcement point
//   - GET  /v1/failures       list undelivered cache clear requests
//   - DELETE /v1/failures     drop all recorded failures
//
// # Decisions
//
//	POST /v1/decisions
//	{"issuer": "https://spep.example.org/spep", "resource": "/docs/report.pdf",
//	 "action": "read", "attributes": {"uid": ["alice"]}}
//
//	200 OK
//	{"decision": "PERMIT", "trace": {"processed_policies": [...], "group_targets": [...],
//	 "message": "Rule ... authorized resource"}}
//
// # Middleware Chain
//
// Requests pass through, outermost first: OpenTelemetry instrumentation,
// panic recovery, request ID assignment and request logging. Options.APIAuth
// wraps only the /v1 routes, so probes and metrics stay reachable without
// credentials.
//
// With Options.TLS set the listener speaks TLS only.
//
// # Lifecycle
//
//	srv, err := server.New(server.Options{...})
//	go srv.Start(ctx)      // returns after ctx is cancelled and the server drained
//	srv.Shutdown(context.Background())
package server
