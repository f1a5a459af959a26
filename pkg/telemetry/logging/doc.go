// Package logging builds the daemon's structured slog logger.
//
// # Overview
//
// New returns a *slog.Logger configured from config.LoggingConfig:
//   - JSON, text and console output formats
//   - Redaction of principal attributes, request payloads and key material
//   - Request scoped fields read from the context on every record
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stderr))
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithDescriptor(ctx, "https://spep.example.org/spep")
//	logger.InfoContext(ctx, "cache clear sent") // includes request_id and descriptor_id
//
// Spans started through OpenTelemetry add trace_id and span_id.
//
// # Redaction
//
// With RedactAttributes enabled the values of these keys are replaced:
//
//   - attributes, principal_attributes: the principal's SAML attributes
//   - request, signed_request, payload: raw cache clear envelopes
//   - keys containing password, secret, token or private_key
//
// String values are additionally matched against the built-in patterns
// (email, bearer_token, password) and any configured RedactPatterns.
package logging
