package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// This endpoint is common with most cloud providers, aka should work on
// GCP, AWS, Azure, etc. We use it to tag crash diagnostics with the
// instance the worker was running on.
const metadataUrl = "169.254.169.254"

func instanceID(ctx context.Context) (string, error) {
	timedCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(
		timedCtx, "GET",
		"http://"+metadataUrl+"/latest/meta-data/instance-id",
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading metadata response: %w", err)
	}
	return string(body), nil
}

// emitCrashDiagnostics logs where and when a fatal error happened before
// the process exits non-zero. Best effort: the job scheduler owns
// retries, this just makes the post-mortem findable.
func emitCrashDiagnostics(ctx context.Context, logger *slog.Logger, runID string, fatal error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instance, err := instanceID(ctx)
	if err != nil {
		instance = "unknown"
	}
	logger.Error(
		"fatal error",
		slog.String("error", fatal.Error()),
		slog.String("hostname", hostname),
		slog.String("instance", instance),
		slog.String("run_id", runID),
		slog.String("timestamp", time.Now().UTC().Format("2006-01-02 15:04:05")+"UTC"),
	)
}
