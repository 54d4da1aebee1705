/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package webhook provides a client that posts JSON requests to an external
// HTTP endpoint and retries transient failures.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/wavelet-team/wavelet/pkg/backoff"
	"github.com/wavelet-team/wavelet/server/logging"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Signature-256"

var (
	// ErrUnexpectedStatusCode is returned when the response code is not 200,
	// 401 or 403.
	ErrUnexpectedStatusCode = errors.New("unexpected status code from webhook")

	// ErrUnexpectedResponse is returned when the response body is not as
	// expected.
	ErrUnexpectedResponse = errors.New("unexpected response from webhook")
)

// Options are the options for the webhook client.
type Options struct {
	// Secret signs the request body. Requests are unsigned if empty.
	Secret string

	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration

	MaxRetries      uint64
	BaseInterval    time.Duration
	MaxWaitInterval time.Duration
}

// Client is a client for the webhook.
type Client[Req any, Res any] struct {
	url        string
	options    Options
	httpClient *http.Client
}

// NewClient creates a new instance of Client.
func NewClient[Req any, Res any](url string, options Options) *Client[Req, Res] {
	return &Client[Req, Res]{
		url:        url,
		options:    options,
		httpClient: &http.Client{Timeout: options.RequestTimeout},
	}
}

// Send posts the request and decodes the response. The status code of the
// last attempt is returned along with the response.
func (c *Client[Req, Res]) Send(ctx context.Context, req Req) (*Res, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal webhook request: %w", err)
	}

	var res Res
	var status int
	err = backoff.Retry(ctx, backoff.Policy{
		MaxRetries:   c.options.MaxRetries,
		BaseInterval: c.options.BaseInterval,
		MaxInterval:  c.options.MaxWaitInterval,
	}, func(ctx context.Context) error {
		var err error
		status, err = c.post(ctx, body, &res)
		return err
	}, func(err error) bool {
		return shouldRetry(status, err)
	})
	if err != nil {
		return nil, status, err
	}

	return &res, status, nil
}

func (c *Client[Req, Res]) post(ctx context.Context, body []byte, res *Res) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.options.Secret != "" {
		httpReq.Header.Set(SignatureHeader, Sign(c.options.Secret, body))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("post to webhook: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	if resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusUnauthorized &&
		resp.StatusCode != http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%d: %w", resp.StatusCode, ErrUnexpectedStatusCode)
	}

	// Denials may come without a body.
	err = json.NewDecoder(resp.Body).Decode(res)
	if err != nil && !(errors.Is(err, io.EOF) && resp.StatusCode != http.StatusOK) {
		return resp.StatusCode, fmt.Errorf("%v: %w", err, ErrUnexpectedResponse)
	}

	return resp.StatusCode, nil
}

// Sign returns the signature header value of the body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// shouldRetry returns true if the given error should be retried.
// Refer to https://github.com/kubernetes/kubernetes/search?q=DefaultShouldRetry
func shouldRetry(statusCode int, err error) bool {
	// If the connection is reset, we should retry.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNRESET
	}

	return statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode == http.StatusTooManyRequests
}
