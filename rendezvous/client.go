// Package rendezvous is a client for the coordination service workers
// use for their initial handshake and barrier synchronization. The
// service itself is external (typically hosted on the launch node); this
// client only registers the local rank and waits at named barriers.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client coordinates one worker rank within a run.
type Client struct {
	inner        *http.Client
	baseUrl      string
	run          string
	rank         int
	worldSize    int
	pollInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.inner = client
	}
}

// WithPollInterval overrides how often a blocked barrier re-polls the
// service. Defaults to 250ms.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient constructs a Client for one rank of a run. run scopes all
// barrier names so concurrent runs sharing a service don't collide.
func NewClient(baseUrl, run string, rank, worldSize int, options ...ClientOption) *Client {
	client := &Client{
		inner:        http.DefaultClient,
		baseUrl:      baseUrl,
		run:          run,
		rank:         rank,
		worldSize:    worldSize,
		pollInterval: 250 * time.Millisecond,
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

type barrierRequest struct {
	Run       string `json:"run"`
	Name      string `json:"name"`
	Rank      int    `json:"rank"`
	WorldSize int    `json:"world_size"`
}

type barrierResponse struct {
	Arrived int `json:"arrived"`
}

// Register announces this rank to the service. Must be called once
// before any Barrier.
func (c *Client) Register(ctx context.Context) error {
	_, err := c.post(ctx, "/v1/register", barrierRequest{
		Run:       c.run,
		Rank:      c.rank,
		WorldSize: c.worldSize,
	})
	if err != nil {
		return fmt.Errorf("registering rank %d: %w", c.rank, err)
	}
	return nil
}

// Barrier blocks until every rank in the run has arrived at the barrier
// with the same name, polling the service with a fixed backoff. Returns
// early only if ctx is done.
func (c *Client) Barrier(ctx context.Context, name string) error {
	req := barrierRequest{
		Run:       c.run,
		Name:      name,
		Rank:      c.rank,
		WorldSize: c.worldSize,
	}

	// First call registers our arrival; subsequent polls just observe
	// the arrival count.
	resp, err := c.post(ctx, "/v1/barrier", req)
	if err != nil {
		return fmt.Errorf("arriving at barrier %q: %w", name, err)
	}

	for resp.Arrived < c.worldSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
		resp, err = c.post(ctx, "/v1/barrier", req)
		if err != nil {
			return fmt.Errorf("polling barrier %q: %w", name, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body barrierRequest) (*barrierResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseUrl+path, bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rendezvous service returned %d: %s", resp.StatusCode, respBody)
	}

	var out barrierResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshalling response: %w", err)
	}
	return &out, nil
}
