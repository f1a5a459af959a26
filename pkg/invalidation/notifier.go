package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Notification stages reported by NotificationError.
const (
	StageBuild     = "build"
	StageTransport = "transport"
	StageResponse  = "response"
	StageStatus    = "status"
)

// ErrStatusNotSuccess is wrapped when an enforcement point answers with a
// status other than StatusSuccess.
var ErrStatusNotSuccess = errors.New("invalidation: non-success status")

// NotificationError describes a failed delivery to one endpoint.
type NotificationError struct {
	Endpoint string
	Stage    string
	Err      error
}

// Error implements the error interface.
func (e *NotificationError) Error() string {
	return fmt.Sprintf("cache clear to %s failed at %s: %v", e.Endpoint, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Notifier builds, signs and delivers cache-clear requests.
type Notifier struct {
	builder   *Builder
	signer    *Signer
	keyring   *Keyring
	transport Transport
	logger    *slog.Logger
}

// NewNotifier wires the pieces of one exchange together.
func NewNotifier(builder *Builder, signer *Signer, keyring *Keyring, transport Transport, logger *slog.Logger) (*Notifier, error) {
	if builder == nil {
		return nil, fmt.Errorf("builder cannot be nil")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if keyring == nil {
		return nil, fmt.Errorf("keyring cannot be nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		builder:   builder,
		signer:    signer,
		keyring:   keyring,
		transport: transport,
		logger:    logger.With("component", "invalidation"),
	}, nil
}

// Notify sends a cache clear for descriptorID to endpoint. The signed
// request is returned whenever one was produced, including on delivery
// failure.
func (n *Notifier) Notify(ctx context.Context, descriptorID, endpoint, reason string) ([]byte, error) {
	req, err := n.builder.Build(descriptorID, endpoint, reason)
	if err != nil {
		return nil, &NotificationError{Endpoint: endpoint, Stage: StageBuild, Err: err}
	}
	signed, err := n.signer.Seal(req)
	if err != nil {
		return nil, &NotificationError{Endpoint: endpoint, Stage: StageBuild, Err: err}
	}

	n.logger.Info("sending cache clear request",
		"descriptor_id", descriptorID,
		"endpoint", endpoint,
		"request_id", req.ID,
		"group_targets", len(req.GroupTargets))

	return signed, n.exchange(ctx, endpoint, req.ID, signed)
}

// Deliver re-sends a previously signed request, as stored in a failure
// record, and verifies the response.
func (n *Notifier) Deliver(ctx context.Context, endpoint string, signed []byte) error {
	payload, _, err := Split(signed)
	if err != nil {
		return &NotificationError{Endpoint: endpoint, Stage: StageBuild, Err: err}
	}
	var req ClearCacheRequest
	if err := Unmarshal(payload, &req); err != nil {
		return &NotificationError{Endpoint: endpoint, Stage: StageBuild, Err: err}
	}
	return n.exchange(ctx, endpoint, req.ID, signed)
}

func (n *Notifier) exchange(ctx context.Context, endpoint, requestID string, signed []byte) error {
	raw, err := n.transport.Send(ctx, signed, endpoint)
	if err != nil {
		return &NotificationError{Endpoint: endpoint, Stage: StageTransport, Err: err}
	}

	resp, err := n.keyring.OpenResponse(raw)
	if err != nil {
		return &NotificationError{Endpoint: endpoint, Stage: StageResponse, Err: err}
	}
	if resp.InResponseTo != requestID {
		return &NotificationError{
			Endpoint: endpoint,
			Stage:    StageResponse,
			Err:      fmt.Errorf("response answers %q, want %q", resp.InResponseTo, requestID),
		}
	}
	if !resp.Succeeded() {
		return &NotificationError{
			Endpoint: endpoint,
			Stage:    StageStatus,
			Err:      fmt.Errorf("%w: %s %s", ErrStatusNotSuccess, resp.Status.Code, resp.Status.Message),
		}
	}

	n.logger.Debug("cache clear acknowledged", "endpoint", endpoint, "request_id", requestID)
	return nil
}
