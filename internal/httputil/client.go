// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/pdiddy/metascrape/pkg/types"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 16 << 20

// Response is the raw outcome of a GET: status code and body.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// StatusError reports a non-2xx status that survived all retries.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Getter is the network surface scrapers depend on.
type Getter interface {
	Get(ctx context.Context, url string, headers map[string]string, retryCount int, useCache bool, timeout time.Duration) (*Response, error)
}

// Client performs GET requests with retry, per-request timeout, an optional
// global rate limit and an in-memory response cache.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *lru.Cache[string, *Response]
	userAgent  string
	timeout    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client (tests pass the
// httptest server's client).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client from the HTTP settings. Zero values fall back
// to the package defaults.
func NewClient(cfg types.HTTPConfig, opts ...ClientOption) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}
	if cfg.ResponseCacheSize <= 0 {
		cfg.ResponseCacheSize = types.DefaultResponseCacheSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = types.DefaultUserAgent
	}

	cache, err := lru.New[string, *Response](cfg.ResponseCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{},
		cache:      cache,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get fetches url with the given headers. retryCount is the number of
// retries after the first attempt. When useCache is set a previously cached
// 2xx response for the same URL and headers is returned without a request.
// A zero timeout uses the client default; the timeout bounds all attempts.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, retryCount int, useCache bool, timeout time.Duration) (*Response, error) {
	key := cacheKey(url, headers)
	if useCache {
		if resp, ok := c.cache.Get(key); ok {
			return resp, nil
		}
	}

	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := DoWithRetry(ctx, c.httpClient, req, retryCount)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	out := &Response{URL: url, Status: resp.StatusCode, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if useCache {
		c.cache.Add(key, out)
	}
	return out, nil
}

func cacheKey(url string, headers map[string]string) string {
	if len(headers) == 0 {
		return url
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(strings.ToLower(k))
		b.WriteString(":")
		b.WriteString(headers[k])
	}
	return b.String()
}
