package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Transport sends election RPCs to a peer coordinator. The HTTP
// implementation is used in production; tests swap in an in-process fake.
type Transport interface {
	RequestVote(ctx context.Context, peerAddr string, req VoteRequest) (*VoteResponse, error)
	SendHeartbeat(ctx context.Context, peerAddr string, req HeartbeatRequest) (*HeartbeatResponse, error)
}

// HTTPTransport speaks the peer JSON endpoints exposed by every
// coordinator's API server.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport whose client timeout backstops the
// per-call context deadlines the manager sets.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) RequestVote(ctx context.Context, peerAddr string, req VoteRequest) (*VoteResponse, error) {
	var resp VoteResponse
	if err := t.post(ctx, peerAddr, "/v1/cluster/vote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) SendHeartbeat(ctx context.Context, peerAddr string, req HeartbeatRequest) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := t.post(ctx, peerAddr, "/v1/cluster/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, peerAddr, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := "http://" + peerAddr + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("peer %s unreachable: %w", peerAddr, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned status %d", peerAddr, httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", peerAddr, err)
	}
	return nil
}
