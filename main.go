// Distributed memorization evaluation harness. Each worker process owns
// a disjoint slice of the pretraining sequence index space, replays the
// first tokens of every sequence through greedy generation, and records
// how much of the true continuation the model reproduces verbatim.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/pilekit/pilekit/inference"
	"github.com/pilekit/pilekit/objstore"
	"github.com/pilekit/pilekit/rendezvous"
	"github.com/pilekit/pilekit/tokds"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()

	cfg, err := configFromEnv()
	if err != nil {
		logger := newLogger(-1)
		logger.Error("invalid environment", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.Rank)

	rctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(rctx, logger, cfg); err != nil {
		emitCrashDiagnostics(context.Background(), logger, cfg.RunID, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg evalConfig) error {
	var missingRequiredFlags []string
	if *datasetDir == "" {
		missingRequiredFlags = append(missingRequiredFlags, "dataset-dir")
	}
	if *inferenceUrl == "" {
		missingRequiredFlags = append(missingRequiredFlags, "inference-url")
	}
	if len(missingRequiredFlags) > 0 {
		flag.Usage()
		return fmt.Errorf("missing required flags: %v", missingRequiredFlags)
	}
	if *batchSize < 1 {
		return fmt.Errorf("-batch-size must be at least 1, got %d", *batchSize)
	}
	if *contextTokens < 1 || *continuationTokens < 1 {
		return fmt.Errorf(
			"-context-tokens and -continuation-tokens must be at least 1, got %d and %d",
			*contextTokens, *continuationTokens,
		)
	}

	reader, err := tokds.Open(*datasetDir)
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	if reader.Column() != tokds.ColumnTokens {
		return fmt.Errorf(
			"dataset column is %q, need a tokenized dataset", reader.Column(),
		)
	}

	total := int64(cfg.Checkpoint) * int64(*sequencesPerStep)
	if total > reader.NumRecords() {
		return fmt.Errorf(
			"checkpoint %d implies %d sequences but the dataset has %d",
			cfg.Checkpoint, total, reader.NumRecords(),
		)
	}

	pr, err := partitionSequences(total, cfg.NumProcs, cfg.Rank)
	if err != nil {
		return fmt.Errorf("partitioning sequences: %w", err)
	}
	logger.Info(
		"assigned sequence range",
		slog.Int64("start", pr.start),
		slog.Int64("end", pr.end),
		slog.Int64("count", pr.size()),
	)

	// Initial handshake with the other ranks. A single-process run
	// needs no coordination at all.
	var syncer synchronizer
	if cfg.NumProcs > 1 {
		client := rendezvous.NewClient(
			fmt.Sprintf("http://%s:%d", cfg.LaunchAddr, *rendezvousPort),
			fmt.Sprintf("memorization_%s_%d", cfg.Model, cfg.Checkpoint),
			cfg.Rank,
			cfg.NumProcs,
		)
		if err := client.Register(ctx); err != nil {
			return fmt.Errorf("registering with rendezvous service: %w", err)
		}
		if err := client.Barrier(ctx, "startup"); err != nil {
			return fmt.Errorf("startup barrier: %w", err)
		}
		syncer = client
	}

	gen := inference.NewClient(*inferenceUrl, *inferenceApiKey)
	logger.Info("initialized generation client", slog.String("endpoint", *inferenceUrl))

	var (
		batches = make(chan sequenceBatch, *prefetchMax)
		bar     = progressbar.Default(pr.size(), "scoring sequences")
		records []accuracyRecord
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return runPrefetch(egCtx, reader, pr, prefetchConfig{
			batchSize:          *batchSize,
			contextTokens:      *contextTokens,
			continuationTokens: *continuationTokens,
		}, batches)
	})
	eg.Go(func() error {
		var err error
		records, err = scoreBatches(egCtx, logger, gen, syncer, batches, scorerConfig{
			contextTokens:      *contextTokens,
			continuationTokens: *continuationTokens,
			barrierEachBatch:   *barrierEachBatch,
		}, bar)
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("evaluation loop: %w", err)
	}

	summary := summarize(records)
	logSummary(logger, summary)

	if *objectStoreUrl != "" {
		store := objstore.NewClient(*objectStoreUrl, *objectStoreToken)
		key := resultsKey(cfg.Model, cfg.Checkpoint, cfg.Rank)
		if err := store.PutObject(ctx, *objectStoreBucket, key, renderResultsCSV(records)); err != nil {
			return fmt.Errorf("uploading results: %w", err)
		}
		logger.Info("uploaded results", slog.String("key", key))
	} else {
		logger.Warn("no -object-store-url configured, per-sequence results were not uploaded")
	}

	if syncer != nil {
		if err := syncer.Barrier(ctx, "upload"); err != nil {
			return fmt.Errorf("upload barrier: %w", err)
		}
	}

	if *resultsDsn != "" {
		db, err := connectToMySQL(ctx, *resultsDsn)
		if err != nil {
			return fmt.Errorf("connecting to MySQL: %w", err)
		}
		defer db.Close()
		if err := recordRunToMySQL(ctx, db, cfg, summary); err != nil {
			return fmt.Errorf("recording results to MySQL: %w", err)
		}
		logger.Info("recorded run summary to mysql")
	}

	return nil
}
