package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilekit/pilekit/inference"

	"github.com/schollz/progressbar/v3"
)

// generator is the black-box batched generation function. Satisfied by
// *inference.Client; tests substitute a stub.
type generator interface {
	Generate(ctx context.Context, req inference.GenerateRequest) ([][]int32, error)
}

// synchronizer is the cross-rank barrier. Satisfied by
// *rendezvous.Client; nil disables synchronization.
type synchronizer interface {
	Barrier(ctx context.Context, name string) error
}

// accuracyRecord holds the memorization score of one sequence: the
// fraction of continuation positions the model reproduced exactly.
type accuracyRecord struct {
	index    int64
	accuracy float64
}

type scorerConfig struct {
	contextTokens      int
	continuationTokens int
	barrierEachBatch   bool
}

// scoreBatches consumes batches until the prefetch channel closes,
// invoking greedy generation on each and scoring the generated
// continuation segment elementwise against the true continuation.
// Returns one record per sequence, in index order.
func scoreBatches(
	ctx context.Context,
	logger *slog.Logger,
	gen generator,
	syncer synchronizer,
	batches <-chan sequenceBatch,
	cfg scorerConfig,
	bar *progressbar.ProgressBar,
) ([]accuracyRecord, error) {
	total := cfg.contextTokens + cfg.continuationTokens

	var (
		records []accuracyRecord
		iters   int
	)
	for {
		loadStart := time.Now()
		var (
			batch sequenceBatch
			ok    bool
		)
		select {
		case batch, ok = <-batches:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			return records, nil
		}
		logger.Debug("loaded batch", slog.Duration("took", time.Since(loadStart)))

		generateStart := time.Now()
		sequences, err := gen.Generate(ctx, inference.GenerateRequest{
			Prompts:   batch.contexts,
			MaxTokens: total,
			MinTokens: total,
			Greedy:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("generating batch at index %d: %w", batch.startIdx, err)
		}
		if len(sequences) != len(batch.contexts) {
			return nil, fmt.Errorf(
				"got %d sequences for %d prompts at index %d",
				len(sequences), len(batch.contexts), batch.startIdx,
			)
		}

		for j, seq := range sequences {
			if len(seq) < total {
				return nil, fmt.Errorf(
					"sequence %d has %d tokens, want %d",
					batch.startIdx+int64(j), len(seq), total,
				)
			}
			var (
				truth     = batch.continuations[j]
				generated = seq[cfg.contextTokens:total]
				matches   int
			)
			for k := range truth {
				if generated[k] == truth[k] {
					matches++
				}
			}
			records = append(records, accuracyRecord{
				index:    batch.startIdx + int64(j),
				accuracy: float64(matches) / float64(len(truth)),
			})
		}

		if bar != nil {
			bar.Add(len(sequences))
		}
		logger.Info(
			"scored batch",
			slog.Int64("through", batch.startIdx+int64(len(sequences))),
			slog.Duration("took", time.Since(generateStart)),
		)

		if syncer != nil && cfg.barrierEachBatch {
			if err := syncer.Barrier(ctx, fmt.Sprintf("batch-%d", iters)); err != nil {
				return nil, fmt.Errorf("batch barrier: %w", err)
			}
		}
		iters++
	}
}
