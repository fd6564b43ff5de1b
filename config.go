package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// evalConfig carries the environment-driven settings of one worker.
// Parsed once at startup; nothing reads these variables ambiently after
// that.
type evalConfig struct {
	Model      string
	Checkpoint int

	Rank       int
	LocalRank  int
	NumProcs   int
	LaunchAddr string

	// RunID identifies this process in crash diagnostics and result
	// rows. Fresh per invocation.
	RunID string
}

// configFromEnv reads MODEL, CHECKPOINT and the SLURM_* variables the
// job scheduler sets for each worker process.
func configFromEnv() (evalConfig, error) {
	cfg := evalConfig{
		RunID: uuid.NewString(),
	}

	cfg.Model = os.Getenv("MODEL")
	if cfg.Model == "" {
		return cfg, fmt.Errorf("MODEL environment variable is not set")
	}

	var err error
	if cfg.Checkpoint, err = intEnv("CHECKPOINT"); err != nil {
		return cfg, err
	}
	if cfg.Rank, err = intEnv("SLURM_PROCID"); err != nil {
		return cfg, err
	}
	if cfg.LocalRank, err = intEnv("SLURM_LOCALID"); err != nil {
		return cfg, err
	}
	if cfg.NumProcs, err = intEnv("SLURM_NPROCS"); err != nil {
		return cfg, err
	}

	cfg.LaunchAddr = os.Getenv("SLURM_LAUNCH_NODE_IPADDR")
	if cfg.NumProcs > 1 && cfg.LaunchAddr == "" {
		return cfg, fmt.Errorf("SLURM_LAUNCH_NODE_IPADDR is not set for a multi-process run")
	}

	if cfg.Checkpoint <= 0 {
		return cfg, fmt.Errorf("CHECKPOINT must be positive, got %d", cfg.Checkpoint)
	}
	if cfg.Rank < 0 || cfg.NumProcs <= 0 || cfg.Rank >= cfg.NumProcs {
		return cfg, fmt.Errorf(
			"rank %d out of range for world size %d", cfg.Rank, cfg.NumProcs,
		)
	}

	return cfg, nil
}

func intEnv(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, fmt.Errorf("%s environment variable is not set", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", name, raw, err)
	}
	return v, nil
}
