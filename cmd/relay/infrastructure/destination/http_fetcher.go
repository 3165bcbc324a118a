// Package destination contains the exit relay's adapters to the real
// destination.
package destination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxResponseSize caps what the exit reads from a destination so the
// wrapped reply still fits in one frame.
const MaxResponseSize = 8 << 20

var ErrResponseTooLarge = errors.New("destination response too large")

// HTTPFetcher performs the exit relay's HTTP requests.
type HTTPFetcher interface {
	// Fetch returns the flattened response headers and the body. Any non-2xx
	// status is still a successful fetch.
	Fetch(ctx context.Context, method, url string, body []byte) (map[string]string, []byte, error)
}

type httpFetcherImpl struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) HTTPFetcher {
	return &httpFetcherImpl{client: &http.Client{Timeout: timeout}}
}

// NormalizeMethod maps anything other than POST onto GET. The bool reports
// whether the method was rewritten.
func NormalizeMethod(m string) (string, bool) {
	switch strings.ToUpper(m) {
	case http.MethodPost:
		return http.MethodPost, false
	case http.MethodGet, "":
		return http.MethodGet, false
	default:
		return http.MethodGet, true
	}
}

func (f *httpFetcherImpl) Fetch(ctx context.Context, method, url string, body []byte) (map[string]string, []byte, error) {
	method, _ = NormalizeMethod(method)
	var rd io.Reader
	if method == http.MethodPost {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if len(b) > MaxResponseSize {
		return nil, nil, ErrResponseTooLarge
	}

	headers := make(map[string]string, len(resp.Header)+1)
	for k, vs := range resp.Header {
		headers[k] = strings.Join(vs, ", ")
	}
	headers["Status"] = resp.Status
	return headers, b, nil
}
