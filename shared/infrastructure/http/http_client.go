package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody bounds what DoJSON will read from a response.
const maxBody = 4 << 20

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	// DoJSON sends body (when non-nil) as JSON and decodes a non-empty
	// response into result whatever the status. The status is always
	// returned when a response was received.
	DoJSON(ctx context.Context, method, url string, body, result any) (int, error)
}

// HTTPClientImpl is the standard HTTP client implementation
type HTTPClientImpl struct {
	client *http.Client
}

// NewHTTPClient creates a new HTTP client bounding every call by timeout.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &HTTPClientImpl{
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPClientImpl) DoJSON(ctx context.Context, method, url string, body, result any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode JSON failed: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body failed: %w", err)
	}
	if result == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return resp.StatusCode, fmt.Errorf("decode JSON failed (status %s): %w", resp.Status, err)
	}
	return resp.StatusCode, nil
}
