package associations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PeerClient talks to remote datasites. Handshake delivers an association
// request; Ping checks reachability.
type PeerClient interface {
	Handshake(ctx context.Context, remoteURL, localName, localURL string) error
	Ping(ctx context.Context, remoteURL string) error
}

// HandshakeRequest is the wire form of an association request between
// datasites.
type HandshakeRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// HTTPPeerClient is the default PeerClient over plain HTTP.
type HTTPPeerClient struct {
	client *http.Client
}

// NewHTTPPeerClient creates a peer client with the given per-request timeout.
func NewHTTPPeerClient(timeout time.Duration) *HTTPPeerClient {
	return &HTTPPeerClient{client: &http.Client{Timeout: timeout}}
}

// Handshake POSTs the association request to the peer's receive endpoint.
func (c *HTTPPeerClient) Handshake(ctx context.Context, remoteURL, localName, localURL string) error {
	body, err := json.Marshal(HandshakeRequest{Name: localName, URL: localURL})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		remoteURL+"/api/federation/v1/associations/receive", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: peer returned %d", ErrPeerUnreachable, resp.StatusCode)
	}
	return nil
}

// Ping GETs the peer's health endpoint.
func (c *HTTPPeerClient) Ping(ctx context.Context, remoteURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: peer returned %d", ErrPeerUnreachable, resp.StatusCode)
	}
	return nil
}
