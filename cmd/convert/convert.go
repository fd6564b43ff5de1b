// Command convert builds training datasets from scored JSON or parquet
// corpora. In token mode it labels each sentence from its score,
// tokenizes, and concatenates everything into fixed-length windows; in
// text mode it passes documents through untokenized.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pilekit/pilekit/concat"
	"github.com/pilekit/pilekit/tokds"
	"github.com/pilekit/pilekit/tokenizer"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"
)

var (
	flagPath = flag.String(
		"path",
		"",
		"Input corpus: a .jsonl or .parquet file, or a directory of them",
	)
	outRoot = flag.String(
		"out-root",
		"",
		"Root directory to write the dataset under",
	)
	flagSplit = flag.String(
		"split",
		"train",
		"Split name; the dataset is written to <out-root>/<split>",
	)
	flagCompression = flag.String(
		"compression",
		"",
		"Shard compression, \"gzip\" or empty for none",
	)
	concatTokens = flag.Int(
		"concat-tokens",
		0,
		"Window length for token concatenation. 0 writes raw text records instead",
	)
	tokenizerDir = flag.String(
		"tokenizer",
		"",
		"Tokenizer directory (required when -concat-tokens > 0)",
	)
	bosText = flag.String(
		"bos-text",
		"",
		"Text prepended to every sentence before tokenization",
	)
	eosText = flag.String(
		"eos-text",
		"",
		"Text appended to every sentence before tokenization",
	)
	noWrap = flag.Bool(
		"no-wrap",
		false,
		"Emit at most one window per buffer drain and discard the rest",
	)
	numSentinels = flag.Int(
		"num-sentinels",
		2,
		"Number of sentinel label tokens to add to the tokenizer. 0 disables labeling",
	)
	labelProb = flag.Float64(
		"label-prob",
		0.9,
		"Probability that a sentence gets its sentinel label prepended",
	)
	scoreCutoffs = flag.String(
		"score-cutoffs",
		"5.6e-4",
		"Comma-separated ascending score cutoffs; must be one fewer than -num-sentinels",
	)
	flagSeed = flag.Uint64(
		"seed",
		0,
		"Seed for the labeling RNG. 0 leaves it unseeded",
	)
	parquetTextColumn = flag.Int(
		"parquet-text-column",
		0,
		"Column index of sentence text in parquet inputs",
	)
	parquetScoreColumn = flag.Int(
		"parquet-score-column",
		1,
		"Column index of sentence scores in parquet inputs",
	)
)

func main() {
	flag.Parse()
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("top-level error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if *flagPath == "" {
		flag.Usage()
		return errors.New("missing required flag: -path")
	}
	if *outRoot == "" {
		flag.Usage()
		return errors.New("missing required flag: -out-root")
	}

	outDir := filepath.Join(*outRoot, *flagSplit)
	if _, err := os.Stat(outDir); err == nil {
		return fmt.Errorf("output directory %s already exists, refusing to overwrite", outDir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking output directory: %w", err)
	}

	inputs, err := collectInputs(*flagPath)
	if err != nil {
		return fmt.Errorf("collecting inputs: %w", err)
	}
	logger.Info("collected input files", slog.Int("count", len(inputs)))

	if *concatTokens > 0 {
		return runTokenMode(ctx, logger, inputs, outDir)
	}
	return runTextMode(ctx, logger, inputs, outDir)
}

func runTokenMode(ctx context.Context, logger *slog.Logger, inputs []string, outDir string) error {
	if *tokenizerDir == "" {
		flag.Usage()
		return errors.New("missing required flag: -tokenizer (required with -concat-tokens)")
	}

	tok, err := tokenizer.Load(*tokenizerDir)
	if err != nil {
		return fmt.Errorf("loading tokenizer: %w", err)
	}
	logger.Info(
		"loaded tokenizer",
		slog.String("dir", *tokenizerDir),
		slog.Int("vocab_size", tok.VocabSize()),
	)

	var labeler concat.Labeler
	if *numSentinels > 0 {
		cutoffs, err := parseCutoffs(*scoreCutoffs)
		if err != nil {
			return fmt.Errorf("parsing -score-cutoffs: %w", err)
		}
		if len(cutoffs) != *numSentinels-1 {
			return fmt.Errorf(
				"%d score cutoffs require %d sentinels, got -num-sentinels=%d",
				len(cutoffs), len(cutoffs)+1, *numSentinels,
			)
		}

		sentinelIds := tok.AddSpecialTokens(sentinelNames(*numSentinels))

		var src rand.Source
		if *flagSeed != 0 {
			src = rand.NewSource(*flagSeed)
		}
		labeler, err = concat.NewThresholdLabeler(cutoffs, sentinelIds, *labelProb, src)
		if err != nil {
			return fmt.Errorf("building labeler: %w", err)
		}

		// Training needs a tokenizer that knows the sentinels, so an
		// augmented copy is saved next to the original.
		augmented := fmt.Sprintf("%s-%d-special-tokens", strings.TrimRight(*tokenizerDir, "/"), *numSentinels)
		if err := tok.Save(augmented); err != nil {
			return fmt.Errorf("saving augmented tokenizer: %w", err)
		}
		logger.Info("saved augmented tokenizer", slog.String("dir", augmented))
	}

	var bos, eos []int32
	if *bosText != "" {
		bos = tok.Encode(*bosText)
	}
	if *eosText != "" {
		eos = tok.Encode(*eosText)
	}

	cc, err := concat.New(concat.Config{
		Encode:       tok.Encode,
		Labeler:      labeler,
		BOS:          bos,
		EOS:          eos,
		MaxLength:    *concatTokens,
		NoWrap:       *noWrap,
		AutoBoundary: tok.InsertsBoundaryTokens(),
	})
	if err != nil {
		return fmt.Errorf("configuring concatenation: %w", err)
	}

	writer, err := tokds.NewWriter(outDir, tokds.ColumnTokens, *flagCompression)
	if err != nil {
		return fmt.Errorf("creating dataset writer: %w", err)
	}

	start := time.Now()
	bar := progressbar.Default(-1, "converting samples")
	var windows int64
	for _, input := range inputs {
		n, err := convertFile(ctx, input, func(sample concat.Sample) error {
			out, err := cc.Append(sample)
			if err != nil {
				return err
			}
			for _, window := range out {
				if err := writer.Write(tokds.TokensToBytes(window)); err != nil {
					return fmt.Errorf("writing window: %w", err)
				}
			}
			windows += int64(len(out))
			bar.Add(1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("converting %s: %w", input, err)
		}
		logger.Info("converted file", slog.String("file", input), slog.Int64("samples", n))
	}

	if dropped := tok.DroppedBytes(); dropped > 0 {
		return fmt.Errorf(
			"encoding dropped %d bytes with no vocabulary entry; refusing to emit windows with silently missing tokens",
			dropped,
		)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing dataset: %w", err)
	}
	logger.Info(
		"conversion complete",
		slog.Int64("windows", windows),
		slog.Int("dropped_tail_tokens", cc.Pending()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func runTextMode(ctx context.Context, logger *slog.Logger, inputs []string, outDir string) error {
	writer, err := tokds.NewWriter(outDir, tokds.ColumnText, *flagCompression)
	if err != nil {
		return fmt.Errorf("creating dataset writer: %w", err)
	}

	start := time.Now()
	bar := progressbar.Default(-1, "converting samples")
	var records int64
	for _, input := range inputs {
		n, err := convertFile(ctx, input, func(sample concat.Sample) error {
			doc := *bosText + strings.Join(sample.Sentences, " ") + *eosText
			if err := writer.Write([]byte(doc)); err != nil {
				return fmt.Errorf("writing record: %w", err)
			}
			records++
			bar.Add(1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("converting %s: %w", input, err)
		}
		logger.Info("converted file", slog.String("file", input), slog.Int64("samples", n))
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing dataset: %w", err)
	}
	logger.Info(
		"conversion complete",
		slog.Int64("records", records),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// sentinelNames generates the label token names added to the tokenizer,
// <|val0|> through <|valN-1|>.
func sentinelNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("<|val%d|>", i)
	}
	return names
}

func parseCutoffs(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	cutoffs := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing cutoff %q: %w", part, err)
		}
		cutoffs = append(cutoffs, v)
	}
	if len(cutoffs) == 0 {
		return nil, errors.New("no cutoffs given")
	}
	return cutoffs, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func newLogger() *slog.Logger {
	var leveler slog.Leveler
	if l, ok := logLevels[strings.ToLower(os.Getenv("LOG_LEVEL"))]; ok {
		leveler = l
	}
	var handler slog.Handler
	if localDev() {
		if leveler == nil {
			leveler = slog.LevelDebug
		}
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: leveler,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: leveler,
		})
	}
	return slog.New(handler)
}

// TODO we can do better here
func localDev() bool {
	return runtime.GOOS == "darwin"
}
