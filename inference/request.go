package inference

// Shared request plumbing: gzip-compressed JSON bodies, bearer auth,
// linear-backoff retries on 5xx responses.

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is an inspectable error type for server-reported failures.
type APIError struct {
	Code    int
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("inference error (http code %d): %s", e.Code, e.Message)
}

func doRequest[T any](
	ctx context.Context,
	client *Client,
	path string,
	body any,
) (*T, error) {
	endpoint := client.baseUrl + path

	reqBody, err := compressedJSON(body)
	if err != nil {
		return nil, fmt.Errorf("constructing request body: %w", err)
	}

	maxAttempts := max(client.maxAttempts, 1)

	var (
		respBody []byte
		apiErr   *APIError
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		apiErr = nil

		httpReq, err := http.NewRequestWithContext(
			ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody),
		)
		if err != nil {
			return nil, fmt.Errorf("constructing http request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Content-Encoding", "gzip")
		if client.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+client.apiKey)
		}

		resp, err := client.inner.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("sending request: %w", err)
		}

		respBody, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr = &APIError{Code: resp.StatusCode, Message: errorMessage(respBody)}
		}

		if resp.StatusCode >= 500 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Millisecond * 150 * time.Duration(attempt+1)):
			}
			continue
		}

		break
	}

	if apiErr != nil {
		return nil, apiErr
	}

	out := new(T)
	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("unmarshalling response body: %w", err)
	}
	return out, nil
}

func compressedJSON(body any) ([]byte, error) {
	marshaled, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal json body: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(marshaled); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func errorMessage(respBody []byte) string {
	var apiErr struct {
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return string(respBody)
}
