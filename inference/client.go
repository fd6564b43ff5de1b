// Package inference is a typed HTTP client for a batched causal language
// model serving endpoint. The model itself is a black box: the client
// submits token-id prompts and receives full generated sequences back.
package inference

import (
	"context"
	"fmt"
	"net/http"
)

// Client talks to a generation server. Configured with an HTTP client,
// an API key and a base URL.
type Client struct {
	inner       *http.Client
	apiKey      string
	baseUrl     string
	maxAttempts int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client used for requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.inner = client
	}
}

// WithMaxAttempts sets how many times a request is retried on 5xx
// responses. Defaults to 3.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// NewClient constructs a Client for the given endpoint.
func NewClient(baseUrl, apiKey string, options ...ClientOption) *Client {
	client := &Client{
		inner:       http.DefaultClient,
		apiKey:      apiKey,
		baseUrl:     baseUrl,
		maxAttempts: 3,
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// GenerateRequest is a batched greedy-decoding request. MinTokens and
// MaxTokens bound the total sequence length, prompt included. Greedy
// pins the server to temperature-zero decoding; exact-match scoring is
// meaningless under any stochastic decode.
type GenerateRequest struct {
	Prompts   [][]int32 `json:"prompts"`
	MaxTokens int       `json:"max_tokens"`
	MinTokens int       `json:"min_tokens,omitempty"`
	Greedy    bool      `json:"greedy"`
}

type generateResponse struct {
	Sequences [][]int32 `json:"sequences"`
}

// Generate submits a batch of prompts and returns one generated sequence
// per prompt, in order. Each sequence begins with the prompt tokens.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([][]int32, error) {
	if len(req.Prompts) == 0 {
		return nil, fmt.Errorf("empty prompt batch")
	}

	resp, err := doRequest[generateResponse](ctx, c, "/v1/generate", req)
	if err != nil {
		return nil, err
	}
	if len(resp.Sequences) != len(req.Prompts) {
		return nil, fmt.Errorf(
			"server returned %d sequences for %d prompts",
			len(resp.Sequences), len(req.Prompts),
		)
	}
	for i, seq := range resp.Sequences {
		if len(seq) < req.MaxTokens {
			return nil, fmt.Errorf(
				"sequence %d has %d tokens, want at least %d",
				i, len(seq), req.MaxTokens,
			)
		}
	}
	return resp.Sequences, nil
}
