package invalidation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ContentType is the media type of request and response envelopes.
const ContentType = "application/cbor"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// Transport delivers a signed request to an endpoint and returns the raw
// response envelope.
type Transport interface {
	Send(ctx context.Context, signedRequest []byte, url string) ([]byte, error)
}

// HTTPTransport posts envelopes over HTTP.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request timeout.
// Outgoing requests are traced through otelhttp; opts select the tracer
// provider and propagator, defaulting to the otel globals.
func NewHTTPTransport(timeout time.Duration, opts ...otelhttp.Option) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts = append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "cache_clear " + r.URL.Host
		}),
	}, opts...)
	return &HTTPTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}
}

// NewHTTPTransportWithClient uses client as is.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// Send implements Transport. Non-2xx answers are errors.
func (t *HTTPTransport) Send(ctx context.Context, signedRequest []byte, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(signedRequest))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}
