// Package apiclient is the narrow interface the core uses to reach the
// content-delivery service. Authenticated session handling and token
// refresh are deliberately out of scope (spec.md §1); callers inject an
// *http.Client that already attaches auth headers via RoundTripper.
package apiclient

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// CDNBase is the CDN host serving content-system v1/v2 meta and chunks.
	CDNBase = "https://gog-cdn-fastly.gog.com"
	// ContentSystemBase serves builds listings, secure links, patches.
	ContentSystemBase = "https://content-system.gog.com"
)

// Client wraps an *http.Client with the timeout/retry policy spec.md §4.4
// and §5 require (10s GET timeout, 5 retries with 2s backoff for transient
// network failures — retry is implemented by callers of Get, such as the
// downloader pool; this type only enforces the per-request timeout).
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
}

// New builds a Client with the given timeout. When the timeout is positive,
// each request runs on a copy of the http.Client whose Timeout is replaced
// by it, so it takes precedence over any caller-configured Timeout.
func New(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, Timeout: timeout}
}

// Get performs a GET returning the raw response body and status code.
func (c *Client) Get(url string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := c.HTTP
	if c.Timeout > 0 {
		cl := *c.HTTP
		cl.Timeout = c.Timeout
		client = &cl
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// GetJSON fetches a URL expecting a plain JSON body.
func (c *Client) GetJSON(url string) ([]byte, error) {
	body, status, err := c.Get(url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", status, url)
	}
	return body, nil
}

// GetZlibJSON fetches a URL expecting a body that is either zlib-deflated
// JSON or raw JSON (spec.md §4.1); the caller inflates via
// manifest.DecodeZlibJSON, this method only fetches the bytes.
func (c *Client) GetZlibJSON(url string) ([]byte, error) {
	return c.GetJSON(url)
}

// GetRange performs a ranged GET (spec.md §4.4 step 2, Gen-1 byte ranges).
func (c *Client) GetRange(url string, offset, size int64) ([]byte, int, error) {
	to := offset + size - 1
	return c.Get(url, map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", offset, to),
	})
}

// ContentLength resolves a URL's total byte size via a 1-byte ranged GET,
// reading it back out of the Content-Range response header (spec.md §6,
// used to locate the Linux native installer's end-of-central-directory
// record relative to end of file).
func (c *Client) ContentLength(url string) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	client := c.HTTP
	if c.Timeout > 0 {
		cl := *c.HTTP
		cl.Timeout = c.Timeout
		client = &cl
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	contentRange := resp.Header.Get("Content-Range")
	if contentRange == "" {
		return 0, fmt.Errorf("content-range header missing for %s", url)
	}
	var total int64
	if _, err := fmt.Sscanf(contentRange, "bytes 0-0/%d", &total); err != nil {
		return 0, fmt.Errorf("parse content-range %q: %w", contentRange, err)
	}
	return total, nil
}
