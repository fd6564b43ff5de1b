// Package objstore uploads result objects to an S3-compatible object
// store over plain HTTP. Only the PUT path is implemented; the store is
// an external sink and nothing here reads objects back.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client uploads objects under a base endpoint.
type Client struct {
	inner       *http.Client
	baseUrl     string
	token       string
	maxAttempts int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.inner = client
	}
}

// WithMaxAttempts sets how many times an upload is retried on 5xx
// responses. Defaults to 3.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// NewClient constructs a Client. token may be empty for unauthenticated
// stores.
func NewClient(baseUrl, token string, options ...ClientOption) *Client {
	client := &Client{
		inner:       http.DefaultClient,
		baseUrl:     baseUrl,
		token:       token,
		maxAttempts: 3,
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// UploadError is an inspectable error for rejected uploads.
type UploadError struct {
	Code    int
	Message string
}

func (e UploadError) Error() string {
	return fmt.Sprintf("object store error (http code %d): %s", e.Code, e.Message)
}

// PutObject uploads body to bucket/key, retrying transient server
// failures with linear backoff.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseUrl, bucket, key)
	maxAttempts := max(c.maxAttempts, 1)

	var uploadErr *UploadError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		uploadErr = nil

		req, err := http.NewRequestWithContext(
			ctx, http.MethodPut, endpoint, bytes.NewReader(body),
		)
		if err != nil {
			return fmt.Errorf("constructing http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			uploadErr = &UploadError{Code: resp.StatusCode, Message: string(respBody)}
		}

		if resp.StatusCode >= 500 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond * 150 * time.Duration(attempt+1)):
			}
			continue
		}

		break
	}

	if uploadErr != nil {
		return uploadErr
	}
	return nil
}
