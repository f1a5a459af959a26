// Package speptest provides a fake enforcement point for tests that
// exercise cache-clear delivery end to end.
package speptest

import (
	"crypto/ed25519"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"esoe-hq/pdp/pkg/invalidation"
)

// Behavior controls how the server answers requests on one path.
type Behavior struct {
	// HTTPStatus, when non-zero and not 200, is returned without a body.
	HTTPStatus int

	// StatusCode is the protocol status returned. Empty means success.
	StatusCode string

	// Tamper corrupts the response signature.
	Tamper bool

	// WrongInResponseTo answers with a mismatching request ID.
	WrongInResponseTo bool

	// Delay is applied before answering.
	Delay time.Duration
}

// Server is an httptest server speaking the cache-clear protocol. Every
// path is treated as a separate endpoint.
type Server struct {
	server   *httptest.Server
	issuer   string
	signer   *invalidation.Signer
	pdpKey   ed25519.PublicKey
	mu       sync.Mutex
	behavior map[string]Behavior
	received map[string][]invalidation.ClearCacheRequest
	rejected int
}

// NewServer starts a fake enforcement point identified as issuer. When
// pdpKey is non-nil, requests not signed by it are rejected with HTTP 400.
func NewServer(issuer string, pdpKey ed25519.PublicKey) (*Server, error) {
	_, priv, err := invalidation.GenerateKey()
	if err != nil {
		return nil, err
	}
	signer, err := invalidation.NewSigner(issuer, priv)
	if err != nil {
		return nil, err
	}
	s := &Server{
		issuer:   issuer,
		signer:   signer,
		pdpKey:   pdpKey,
		behavior: make(map[string]Behavior),
		received: make(map[string][]invalidation.ClearCacheRequest),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s, nil
}

// URL returns the endpoint URL for path, e.g. URL("/a").
func (s *Server) URL(path string) string {
	return s.server.URL + path
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.Close()
}

// Issuer returns the entity ID the server signs responses as.
func (s *Server) Issuer() string { return s.issuer }

// PublicKey returns the server's response verification key.
func (s *Server) PublicKey() ed25519.PublicKey { return s.signer.PublicKey() }

// SetBehavior configures the answer for path.
func (s *Server) SetBehavior(path string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior[path] = b
}

// Received returns the decoded requests delivered to path.
func (s *Server) Received(path string) []invalidation.ClearCacheRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invalidation.ClearCacheRequest(nil), s.received[path]...)
}

// RequestCount returns the number of accepted requests across all paths.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, reqs := range s.received {
		n += len(reqs)
	}
	return n
}

// Rejected returns the number of requests refused for a bad signature or
// encoding.
func (s *Server) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req invalidation.ClearCacheRequest
	if s.pdpKey != nil {
		err = invalidation.Open(s.pdpKey, body, &req)
	} else {
		var payload []byte
		payload, _, err = invalidation.Split(body)
		if err == nil {
			err = invalidation.Unmarshal(payload, &req)
		}
	}
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.received[r.URL.Path] = append(s.received[r.URL.Path], req)
	b := s.behavior[r.URL.Path]
	s.mu.Unlock()

	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}
	if b.HTTPStatus != 0 && b.HTTPStatus != http.StatusOK {
		w.WriteHeader(b.HTTPStatus)
		return
	}

	resp := invalidation.ClearCacheResponse{
		ID:           "_resp-" + req.ID,
		InResponseTo: req.ID,
		Issuer:       s.issuer,
		IssueInstant: time.Now().UTC(),
		Status:       invalidation.Status{Code: invalidation.StatusSuccess},
	}
	if b.StatusCode != "" {
		resp.Status = invalidation.Status{Code: b.StatusCode, Message: "refused by test server"}
	}
	if b.WrongInResponseTo {
		resp.InResponseTo = "_other"
	}

	signed, err := s.signer.Seal(&resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if b.Tamper {
		signed[len(signed)-1] ^= 0xff
	}

	w.Header().Set("Content-Type", invalidation.ContentType)
	_, _ = w.Write(signed)
}
