package main

import (
	"context"
	"fmt"

	"github.com/pilekit/pilekit/tokds"
)

// sequenceBatch is one unit of work for the scorer: up to batchSize
// context/continuation pairs, tagged with the global index of its first
// sequence.
type sequenceBatch struct {
	startIdx      int64
	contexts      [][]int32
	continuations [][]int32
}

type prefetchConfig struct {
	batchSize          int
	contextTokens      int
	continuationTokens int
}

// runPrefetch streams context/continuation pairs for every sequence in
// pr into out, in index order. Sends block once the channel buffer is
// full, which is the backpressure bound on prefetched batches. The
// channel is closed after the final (possibly partial) batch, signalling
// end of stream; runPrefetch runs inside an errgroup, so a failure here
// cancels the scorer through ctx instead of leaving it blocked forever.
func runPrefetch(
	ctx context.Context,
	reader *tokds.Reader,
	pr partitionRange,
	cfg prefetchConfig,
	out chan<- sequenceBatch,
) error {
	defer close(out)

	if cfg.batchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", cfg.batchSize)
	}
	if cfg.contextTokens < 1 || cfg.continuationTokens < 1 {
		return fmt.Errorf(
			"context and continuation lengths must be at least 1, got %d and %d",
			cfg.contextTokens, cfg.continuationTokens,
		)
	}

	need := cfg.contextTokens + cfg.continuationTokens

	var (
		contexts      [][]int32
		continuations [][]int32
	)
	send := func(lastIdx int64) error {
		batch := sequenceBatch{
			startIdx:      lastIdx - int64(len(contexts)) + 1,
			contexts:      contexts,
			continuations: continuations,
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		contexts = nil
		continuations = nil
		return nil
	}

	for i := pr.start; i <= pr.end; i++ {
		record, err := reader.At(i)
		if err != nil {
			return fmt.Errorf("reading sequence %d: %w", i, err)
		}
		ids, err := tokds.TokensFromBytes(record)
		if err != nil {
			return fmt.Errorf("decoding sequence %d: %w", i, err)
		}
		if len(ids) < need {
			return fmt.Errorf("sequence %d has %d tokens, need %d", i, len(ids), need)
		}

		contexts = append(contexts, ids[:cfg.contextTokens])
		continuations = append(continuations, ids[cfg.contextTokens:need])

		if len(contexts) == cfg.batchSize {
			if err := send(i); err != nil {
				return err
			}
		}
	}

	if len(contexts) > 0 {
		if err := send(pr.end); err != nil {
			return err
		}
	}

	return nil
}
