package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Forwarder delivers one sale feed document downstream and returns the
// response status code.
type Forwarder interface {
	Forward(ctx context.Context, body []byte) (int, error)
}

// Relay posts sale feed documents to the ingestion endpoint.
type Relay struct {
	url    string
	client *http.Client
}

// NewRelay creates a Relay posting to url, bounding each call by timeout.
func NewRelay(url string, timeout time.Duration) *Relay {
	return &Relay{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Forward posts body as-is. Any response, including non-2xx, is returned as
// a status code; only transport failures are errors.
func (r *Relay) Forward(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("relay: post %s: %w", r.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}
