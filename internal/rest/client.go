// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rest implements the HTTP client for the chat server's REST API.
//
// The socket carries live events; everything bulk — conversation lists,
// message history, contacts, attachment uploads — comes through here. The
// client retries transient failures (5xx, network errors) with exponential
// backoff and maps error responses to typed errors the caller can inspect.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the REST client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize caps response bodies to keep a misbehaving server from
	// exhausting client memory.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// sharedHTTPClient pools connections across all REST requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors for common failure classes.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the server rejected the caller's identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates the server kept failing after all retries.
	ErrUnavailable = errors.New("server unavailable")
)

// FetchError represents a failed REST call. It surfaces in the UI as a
// dismissible error with a retry affordance, so it carries the operation
// name for display.
type FetchError struct {
	Op      string // Operation that failed, e.g. "list conversations"
	Status  int    // HTTP status, 0 for transport errors
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// apiErrorResponse is the server's error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat server's REST API.
type Client struct {
	baseURL    string
	userID     int64
	orgID      int64
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a REST client for the given base URL and identity.
func NewClient(baseURL string, userID, orgID int64) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userID:     userID,
		orgID:      orgID,
		httpClient: sharedHTTPClient,
		maxRetries: DefaultMaxRetries,
	}
}

// WithTimeout sets the per-request timeout. The client switches to a
// dedicated http.Client so the shared pool's timeout is untouched.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient = &http.Client{
		Transport: sharedHTTPClient.Transport,
		Timeout:   timeout,
	}
	return c
}

// WithMaxRetries sets the maximum number of attempts per request.
func (c *Client) WithMaxRetries(n int) *Client {
	if n > 0 {
		c.maxRetries = n
	}
	return c
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// getJSON performs a GET with retries and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	return c.doJSON(ctx, op, http.MethodGet, path, nil, out)
}

// postJSON performs a POST with a JSON body, retries, and decodes into out.
func (c *Client) postJSON(ctx context.Context, op, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &FetchError{Op: op, Message: "encoding request", Err: err}
	}
	return c.doJSON(ctx, op, http.MethodPost, path, data, out)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &FetchError{Op: op, Message: "creating request", Err: err}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = &FetchError{Op: op, Message: "request failed", Err: err}
			continue
		}

		respBody, readErr := readResponse(resp)
		resp.Body.Close()
		log.Printf("rest: %s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
		if readErr != nil {
			lastErr = &FetchError{Op: op, Message: "reading response", Err: readErr}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = c.errorFromResponse(op, resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode >= 400 {
			return c.errorFromResponse(op, resp.StatusCode, respBody)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &FetchError{Op: op, Message: "decoding response", Err: err}
		}
		return nil
	}

	return &FetchError{Op: op, Message: "all retries exhausted", Err: errors.Join(ErrUnavailable, lastErr)}
}

// errorFromResponse maps an HTTP error response to a typed error.
func (c *Client) errorFromResponse(op string, status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	fetchErr := &FetchError{Op: op, Status: status, Message: message}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		fetchErr.Err = ErrUnauthorized
	case http.StatusNotFound:
		fetchErr.Err = ErrNotFound
	}
	return fetchErr
}

// readResponse reads a response body with the size cap applied.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// backoff returns the delay before the given retry attempt.
func backoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
