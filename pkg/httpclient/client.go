// Copyright 2025 Vireo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient is a retrying HTTP client for LLM provider calls.
//
// Retries honor Retry-After and rate-limit reset headers when the server
// sends them, falling back to exponential backoff with jitter. Request
// bodies are replayed through GetBody.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// backoffKind classifies how a status code should be retried.
type backoffKind int

const (
	// noRetry fails immediately.
	noRetry backoffKind = iota

	// shortRetry retries a couple of times with small fixed delays;
	// used for transient server errors.
	shortRetry

	// rateLimitRetry waits out the server's advertised limit window.
	rateLimitRetry
)

// RateLimit is what a provider's rate-limit headers said about when to try
// again.
type RateLimit struct {
	// RetryAfter is an explicit wait; zero when absent.
	RetryAfter time.Duration

	// ResetAt is the Unix time the window reopens; zero when absent.
	ResetAt int64
}

// HeaderParser extracts rate-limit information from response headers.
type HeaderParser func(http.Header) RateLimit

// Client wraps http.Client with status-aware retries.
type Client struct {
	inner        *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(inner *http.Client) Option {
	return func(c *Client) { c.inner = inner }
}

// WithMaxRetries caps retry attempts per request.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithHeaderParser installs a provider-specific rate-limit header parser.
func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.headerParser = p }
}

// New creates a Client with sane LLM-call defaults.
func New(opts ...Option) *Client {
	c := &Client{
		inner:      &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func classify(statusCode int) backoffKind {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return rateLimitRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return shortRetry
	default:
		return noRetry
	}
}

// Do sends req, retrying retryable failures. On success the response body
// is the caller's to close; failed attempts are drained and closed here.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastStatus int

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to replay request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			// Transport errors (including context cancellation) are not
			// retried; the caller decides.
			return nil, err
		}
		if resp.StatusCode < 300 {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		kind := classify(resp.StatusCode)

		var limit RateLimit
		if c.headerParser != nil {
			limit = c.headerParser(resp.Header)
		}
		resp.Body.Close()

		if kind == noRetry {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		if attempt >= c.maxRetries {
			break
		}

		delay := c.delayFor(kind, attempt, limit)
		if delay <= 0 {
			break
		}
		slog.Debug("retrying request",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, &StatusError{
		StatusCode: lastStatus,
		Message:    fmt.Sprintf("retries exhausted after %d attempts", c.maxRetries+1),
	}
}

func (c *Client) delayFor(kind backoffKind, attempt int, limit RateLimit) time.Duration {
	switch kind {
	case rateLimitRetry:
		if limit.RetryAfter > 0 {
			return limit.RetryAfter
		}
		if limit.ResetAt > 0 {
			if wait := time.Until(time.Unix(limit.ResetAt, 0)); wait > 0 {
				return wait
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return backoff + time.Duration(float64(backoff)*0.1)

	case shortRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay

	default:
		return 0
	}
}
