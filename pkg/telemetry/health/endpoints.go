package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"esoe-hq/pdp/pkg/config"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// LivenessHandler returns an HTTP handler for the liveness probe endpoint.
//
//	{"status": "ok", "timestamp": "2026-10-19T10:30:00Z"}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe endpoint.
// It answers 503 when any check fails.
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "policy_cache": {"status": "unhealthy", "message": "policy cache is empty", "duration_ms": 0.002},
//	        "cache_processor": {"status": "ok", "duration_ms": 0.001}
//	    },
//	    "timestamp": "2026-10-19T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler returns an HTTP handler reporting the build version.
func VersionHandler(version string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Register mounts the liveness, readiness and version endpoints on mux at
// the configured paths.
func (c *Checker) Register(mux *http.ServeMux, cfg config.HealthConfig, version string) {
	liveness := cfg.LivenessPath
	if liveness == "" {
		liveness = config.DefaultLivenessPath
	}
	readiness := cfg.ReadinessPath
	if readiness == "" {
		readiness = config.DefaultReadinessPath
	}

	mux.Handle(liveness, c.LivenessHandler())
	mux.Handle(readiness, c.ReadinessHandler())
	mux.Handle("/version", VersionHandler(version))
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
