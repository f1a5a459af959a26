package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/decision"
	dtrace "esoe-hq/pdp/pkg/policy/trace"
	"esoe-hq/pdp/pkg/processor"
	"esoe-hq/pdp/pkg/security/auth"
	"esoe-hq/pdp/pkg/telemetry/logging"
)

// maxBodyBytes bounds request bodies on the API routes.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecisionResponse is returned by POST /v1/decisions.
type DecisionResponse struct {
	Decision policy.Decision `json:"decision"`
	Trace    dtrace.Summary  `json:"trace"`
}

// StartupRequest is the body of POST /v1/spep/startup.
type StartupRequest struct {
	DescriptorID  string `json:"descriptor_id"`
	EndpointIndex int    `json:"endpoint_index"`
}

// StartupResponse is returned by POST /v1/spep/startup.
type StartupResponse struct {
	Result string `json:"result"`
}

// FailureEntry summarizes one recorded failure. The signed request itself
// is not returned.
type FailureEntry struct {
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
	Digest    string    `json:"digest"`
	Size      int       `json:"size"`
}

// FailuresResponse is returned by GET /v1/failures.
type FailuresResponse struct {
	Count    int            `json:"count"`
	Failures []FailureEntry `json:"failures"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decision.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Resource) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "resource is required")
		return
	}

	ctx := logging.WithIssuer(r.Context(), req.Issuer)
	dd := dtrace.New()
	result := s.opts.Decisions.Decide(ctx, req, dd)

	writeJSON(w, http.StatusOK, DecisionResponse{Decision: result, Trace: dd.Summary()})
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	var req StartupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DescriptorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "descriptor_id is required")
		return
	}

	ctx := logging.WithDescriptor(r.Context(), req.DescriptorID)
	result := s.opts.Startup.SpepStartingNotification(ctx, req.DescriptorID, req.EndpointIndex)

	status := http.StatusOK
	if result != processor.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, StartupResponse{Result: result.String()})
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	records, err := s.opts.Failures.List(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list failures", "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list failures")
		return
	}

	resp := FailuresResponse{Count: len(records), Failures: make([]FailureEntry, 0, len(records))}
	for _, rec := range records {
		resp.Failures = append(resp.Failures, FailureEntry{
			Endpoint:  rec.Endpoint,
			Timestamp: rec.Timestamp,
			Digest:    rec.Digest(),
			Size:      len(rec.Request),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearFailures(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Failures.ClearFailures(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to clear failures", "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to clear failures")
		return
	}
	caller := "anonymous"
	if c, ok := auth.CallerFromContext(r.Context()); ok {
		caller = c.Name
	}
	s.logger.InfoContext(r.Context(), "failure repository cleared", "caller", caller)
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads a bounded JSON body into v, writing a 400 or 413 on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Type: typ, Message: message}})
}
