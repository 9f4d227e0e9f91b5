// Package api is the remote gateway to the chathook proxy. The proxy exposes
// a single endpoint that routes to the upstream support platform based on an
// `endpoint` query parameter and wraps every response in a
// {"success":bool,"data":...,"error":"..."} envelope. This package handles
// transport, retries, and error translation only; payload shapes are left to
// internal/normalize.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chathook/chathook-cli/internal/debug"
)

const DefaultTimeout = 30 * time.Second

// Client talks to the chathook proxy.
//
// The client includes a circuit breaker that tracks server failures across
// requests. Circuit breaker state persists for the lifetime of the client;
// use ResetCircuitBreaker when reusing a client between logical sessions.
type Client struct {
	BaseURL            string
	ProxyToken         string
	AccountID          int
	HTTP               *http.Client
	UserAgent          string
	IdempotencyKey     string
	IdempotencyKeyFunc func() string
	RetryConfig        RetryConfig
	circuitBreaker     *circuitBreaker
}

// New creates a proxy client for the given account.
func New(baseURL, token string, accountID int) *Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12

	retryCfg := DefaultRetryConfig()
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		ProxyToken:  token,
		AccountID:   accountID,
		RetryConfig: retryCfg,
		HTTP: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		circuitBreaker: &circuitBreaker{
			threshold: retryCfg.CircuitBreakerThreshold,
			resetTime: retryCfg.CircuitBreakerResetTime,
		},
	}
}

// ResetCircuitBreaker clears circuit breaker state, resetting failure counts
// and closing the circuit.
func (c *Client) ResetCircuitBreaker() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.reset()
	}
}

// SetRetryConfig updates the retry configuration and aligns circuit breaker
// settings.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.RetryConfig = cfg
	if c.circuitBreaker != nil {
		c.circuitBreaker.threshold = cfg.CircuitBreakerThreshold
		c.circuitBreaker.resetTime = cfg.CircuitBreakerResetTime
	}
}

// proxyURL builds the proxy URL for a logical upstream path, e.g.
// "conversations" or "conversations/42/messages".
func (c *Client) proxyURL(endpoint string, params url.Values) string {
	query := url.Values{}
	query.Set("endpoint", endpoint)
	query.Set("account_id", fmt.Sprintf("%d", c.AccountID))
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	return c.BaseURL + "?" + query.Encode()
}

// envelope is the proxy's outer wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// call performs a proxy request and returns the inner data payload.
// The payload shape beyond the envelope is deliberately left raw: the
// normalizer owns shape resolution.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	respBody, status, err := c.executeRequest(ctx, method, c.proxyURL(endpoint, params), body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("unexpected proxy response format (JSON decode failed): %w", err)
	}
	if !env.Success {
		return nil, &ProxyError{Endpoint: endpoint, StatusCode: status, Message: env.Error}
	}
	return env.Data, nil
}

// executeRequest performs an HTTP request with retry and circuit breaker
// logic, returning the response body and status code.
func (c *Client) executeRequest(ctx context.Context, method, reqURL string, body any) ([]byte, int, error) {
	if c.circuitBreaker != nil && c.circuitBreaker.isOpen() {
		return nil, 0, &CircuitBreakerError{}
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	idempotencyKey := c.IdempotencyKey
	if idempotencyKey == "" && c.IdempotencyKeyFunc != nil {
		idempotencyKey = c.IdempotencyKeyFunc()
	}

	isIdempotent := method == http.MethodGet || method == http.MethodHead
	if !isIdempotent && idempotencyKey != "" {
		isIdempotent = true
	}

	var retries429, retries5xx int
	attempt := 0

	for {
		attempt++
		start := time.Now()
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}

		if c.ProxyToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.ProxyToken)
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if idempotencyKey != "" && method != http.MethodGet && method != http.MethodHead {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if debug.IsEnabled(ctx) {
				slog.Debug("request failed", "method", method, "url", reqURL, "attempt", attempt, "error", err)
			}
			return nil, 0, fmt.Errorf("request failed: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read response: %w", err)
		}
		if debug.IsEnabled(ctx) {
			slog.Debug("request complete", "method", method, "url", reqURL, "status", resp.StatusCode, "attempt", attempt, "duration", time.Since(start))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter, hasRetryAfter := retryAfterDuration(resp.Header)
			baseDelay := c.RetryConfig.RateLimitBaseDelay
			if !isIdempotent || retries429 >= c.RetryConfig.MaxRateLimitRetries {
				if hasRetryAfter {
					return nil, resp.StatusCode, &RateLimitError{RetryAfter: retryAfter}
				}
				return nil, resp.StatusCode, &RateLimitError{RetryAfter: baseDelay}
			}
			delay := retryAfter
			if !hasRetryAfter {
				delay = baseDelay * time.Duration(1<<retries429)
			}
			slog.Info("rate limited, retrying", "delay", delay, "attempt", retries429+1)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, 0, err
			}
			retries429++
			continue

		case resp.StatusCode >= 500:
			if c.circuitBreaker != nil {
				c.circuitBreaker.recordFailure()
			}
			if isIdempotent && retries5xx < c.RetryConfig.Max5xxRetries {
				slog.Info("server error, retrying", "status", resp.StatusCode)
				if err := sleepWithContext(ctx, c.RetryConfig.ServerErrorRetryDelay); err != nil {
					return nil, 0, err
				}
				retries5xx++
				continue
			}
			return respBody, resp.StatusCode, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(string(respBody)),
				RequestID:  requestIDFromHeader(resp.Header),
			}

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return respBody, resp.StatusCode, &AuthError{Reason: sanitizeErrorBody(string(respBody))}

		case resp.StatusCode >= 400:
			return respBody, resp.StatusCode, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(string(respBody)),
				RequestID:  requestIDFromHeader(resp.Header),
			}
		}

		if c.circuitBreaker != nil {
			c.circuitBreaker.recordSuccess()
		}
		return respBody, resp.StatusCode, nil
	}
}

func requestIDFromHeader(header http.Header) string {
	if header == nil {
		return ""
	}
	if id := header.Get("X-Request-Id"); id != "" {
		return id
	}
	return header.Get("X-Request-ID")
}

// sanitizeErrorBody extracts a safe error message from a response body
// without exposing potentially sensitive data.
func sanitizeErrorBody(body string) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err != nil {
		return "request failed (response body redacted)"
	}
	if errResp.Error != "" {
		return errResp.Error
	}
	if errResp.Message != "" {
		return errResp.Message
	}
	return "request failed (response body redacted)"
}

// HealthCheck reports whether the proxy responds to a plain GET.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?endpoint=health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}
