package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matzehuels/piprecipes/pkg/buildinfo"
	"github.com/matzehuels/piprecipes/pkg/cache"
	"github.com/matzehuels/piprecipes/pkg/httputil"
	"github.com/matzehuels/piprecipes/pkg/observability"
)

// userAgent identifies the tool to the package index.
var userAgent = buildinfo.UserAgent() + " (+https://github.com/matzehuels/piprecipes)"

// Client provides shared HTTP functionality for package index clients.
// It handles caching, retry logic, and common request headers.
//
// All methods are safe for concurrent use.
type Client struct {
	http      *http.Client
	cache     cache.Cache
	namespace string
	ttl       time.Duration
	headers   map[string]string
	retry     httputil.Policy
}

// NewClient creates a Client backed by the given cache. Keys are stored under
// namespace and expire after ttl (0 keeps them for the life of the cache).
// Headers are applied to all requests; pass nil if none are needed.
// A nil backend disables caching.
func NewClient(backend cache.Cache, namespace string, ttl time.Duration, headers map[string]string) *Client {
	if backend == nil {
		backend = cache.NewNullCache()
	}
	h := map[string]string{"User-Agent": userAgent}
	for k, v := range headers {
		h[k] = v
	}
	return &Client{
		http:      NewHTTPClient(),
		cache:     backend,
		namespace: namespace,
		ttl:       ttl,
		headers:   h,
		retry:     httputil.DefaultPolicy(),
	}
}

// SetRetryPolicy replaces the retry budget for transient failures.
func (c *Client) SetRetryPolicy(p httputil.Policy) {
	c.retry = p.WithDefaults()
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
// Transient failures inside fetch are retried under the client's policy.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	key = cache.Key(c.namespace, key)
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, key); ok && json.Unmarshal(data, v) == nil {
			observability.Cache().OnCacheHit(ctx, c.namespace)
			return nil
		}
		observability.Cache().OnCacheMiss(ctx, c.namespace)
	}
	if err := c.retry.Do(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
		observability.Cache().OnCacheSet(ctx, c.namespace, len(data))
	}
	return nil
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
// It does not retry; wrap it in [Client.Cached] or [Client.Retry].
func (c *Client) Get(ctx context.Context, url string, v any) error {
	body, err := c.doRequest(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Download fetches url into memory, reading at most limit bytes, and retries
// transient failures under the client's policy. A body larger than limit is
// an error.
func (c *Client) Download(ctx context.Context, url string, limit int64) ([]byte, error) {
	var data []byte
	err := c.retry.Do(ctx, func() error {
		body, err := c.doRequest(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(io.LimitReader(body, limit+1))
		if err != nil {
			return httputil.Retryable(fmt.Errorf("%w: read %s: %v", ErrNetwork, url, err))
		}
		if int64(len(data)) > limit {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, limit)
		}
		return nil
	})
	return data, err
}

// Retry runs fn under the client's retry policy.
func (c *Client) Retry(ctx context.Context, fn func() error) error {
	return c.retry.Do(ctx, fn)
}

func (c *Client) doRequest(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, req.Method, req.URL.Host, req.URL.Path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, req.URL.Host, req.URL.Path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httputil.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	hooks.OnResponse(ctx, req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return httputil.Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
