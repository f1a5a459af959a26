// Package health provides liveness and readiness endpoints.
//
// Liveness always succeeds while the process can serve HTTP. Readiness
// runs every registered check concurrently, each bounded by the check
// timeout, and reports 503 if any check fails.
//
// The daemon registers these checks:
//
//   - policy_cache: the cache holds policies for at least one descriptor
//   - cache_processor: the poll loop is running and has completed a rebuild
//   - failure_repository: the repository answers a size query
//
// Usage:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck(health.CheckPolicyCache, health.CacheCheck(policyCache))
//	checker.RegisterCheck(health.CheckProcessor, health.ProcessorCheck(proc))
//	checker.Register(mux, cfg.Telemetry.Health, version)
package health
