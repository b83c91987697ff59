// Package fetch is the HTTP transport behind manifest and segment downloads.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a single request when no timeout is configured.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes caps a response body when no limit is configured.
	DefaultMaxBytes int64 = 32 << 20
)

var (
	// ErrStatus is returned for any non-2xx response.
	ErrStatus = errors.New("unexpected response status")
	// ErrTooLarge is returned when a body exceeds the fetcher's byte limit.
	ErrTooLarge = errors.New("response body too large")
)

// HTTPFetcher downloads a locator with one GET request. It does not retry.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewHTTPFetcher returns a fetcher with the given per-request timeout and
// body size limit. A nil client uses http.DefaultClient; timeout <= 0 uses
// DefaultTimeout and maxBytes <= 0 uses DefaultMaxBytes.
func NewHTTPFetcher(client *http.Client, timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{client: client, timeout: timeout, maxBytes: maxBytes}
}

// Fetch returns the full response body for locator. Bodies longer than the
// fetcher's limit fail with ErrTooLarge.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: %w: %d", locator, ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", locator, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: %w: over %d bytes", locator, ErrTooLarge, f.maxBytes)
	}
	return body, nil
}
