// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// maxErrorBodySize caps how much of an error response is kept for diagnostics.
const maxErrorBodySize = 4 * 1024

// RateLimits are outbound request budgets. Zero disables a budget.
type RateLimits struct {
	PerMinute int `koanf:"per_minute"`
	PerHour   int `koanf:"per_hour"`
}

// DefaultRateLimits matches the budgets the upstream APIs tolerate for a
// single integration token.
func DefaultRateLimits() RateLimits {
	return RateLimits{PerMinute: 30, PerHour: 500}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.StatusCode, e.Body)
}

// Is maps auth and throttling statuses onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// httpClient is the JSON transport shared by the HTTP adapters. Each call
// waits on the per-minute and per-hour limiters before it is sent.
type httpClient struct {
	source    string
	baseURL   string
	client    *http.Client
	headers   http.Header
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

func newHTTPClient(source, baseURL string, timeout time.Duration, limits RateLimits, headers http.Header) *httpClient {
	c := &httpClient{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeoutOr(timeout)},
		headers: headers,
	}
	if limits.PerMinute > 0 {
		c.perMinute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limits.PerMinute)), limits.PerMinute)
	}
	if limits.PerHour > 0 {
		c.perHour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(limits.PerHour)), limits.PerHour)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	for _, l := range []*rate.Limiter{c.perMinute, c.perHour} {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w: %w", c.source, ErrThrottled, err)
		}
	}
	return nil
}

// getJSON issues a GET and decodes the body into out. found is false on 404.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) (found bool, err error) {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// postJSON issues a POST with a JSON body and decodes the response into out.
func (c *httpClient) postJSON(ctx context.Context, path string, body, out any) (found bool, err error) {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("%s: encode request: %w", c.source, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return false, fmt.Errorf("%s: create request: %w", c.source, err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: request failed: %w", c.source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return false, &StatusError{
			Source:     c.source,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("%s: decode response: %w", c.source, err)
		}
	}
	return true, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
