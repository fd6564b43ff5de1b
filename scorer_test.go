package main

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pilekit/pilekit/inference"
)

// stubGenerator fabricates greedy generations: each prompt is extended
// with the continuation returned by extend, padded to MaxTokens.
type stubGenerator struct {
	calls  int
	extend func(batchIdx, seqIdx int, prompt []int32) []int32
}

func (g *stubGenerator) Generate(_ context.Context, req inference.GenerateRequest) ([][]int32, error) {
	out := make([][]int32, len(req.Prompts))
	for i, prompt := range req.Prompts {
		seq := append(append([]int32{}, prompt...), g.extend(g.calls, i, prompt)...)
		for len(seq) < req.MaxTokens {
			seq = append(seq, 0)
		}
		out[i] = seq
	}
	g.calls++
	return out, nil
}

type countingSyncer struct {
	names []string
}

func (s *countingSyncer) Barrier(_ context.Context, name string) error {
	s.names = append(s.names, name)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func feedBatches(batches ...sequenceBatch) chan sequenceBatch {
	ch := make(chan sequenceBatch, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)
	return ch
}

func TestScoreBatchesAccuracy(t *testing.T) {
	truth := [][]int32{
		{10, 11, 12, 13}, // reproduced exactly
		{20, 21, 22, 23}, // half reproduced
		{30, 31, 32, 33}, // nothing reproduced
	}
	batch := sequenceBatch{
		startIdx:      5,
		contexts:      [][]int32{{1, 2}, {3, 4}, {5, 6}},
		continuations: truth,
	}

	gen := &stubGenerator{
		extend: func(_, seqIdx int, _ []int32) []int32 {
			switch seqIdx {
			case 0:
				return []int32{10, 11, 12, 13}
			case 1:
				return []int32{20, 21, 99, 99}
			default:
				return []int32{99, 99, 99, 99}
			}
		},
	}

	records, err := scoreBatches(context.Background(), discardLogger(), gen, nil, feedBatches(batch), scorerConfig{
		contextTokens:      2,
		continuationTokens: 4,
	}, nil)
	if err != nil {
		t.Fatalf("scoreBatches: %v", err)
	}

	want := []accuracyRecord{
		{index: 5, accuracy: 1.0},
		{index: 6, accuracy: 0.5},
		{index: 7, accuracy: 0.0},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, r := range records {
		if r != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, r, want[i])
		}
	}
}

func TestScoreBatchesStopsOnChannelClose(t *testing.T) {
	gen := &stubGenerator{
		extend: func(_, _ int, _ []int32) []int32 {
			return []int32{7}
		},
	}
	batches := []sequenceBatch{
		{startIdx: 0, contexts: [][]int32{{1}}, continuations: [][]int32{{7}}},
		{startIdx: 1, contexts: [][]int32{{2}}, continuations: [][]int32{{7}}},
	}

	records, err := scoreBatches(context.Background(), discardLogger(), gen, nil, feedBatches(batches...), scorerConfig{
		contextTokens:      1,
		continuationTokens: 1,
	}, nil)
	if err != nil {
		t.Fatalf("scoreBatches: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestScoreBatchesBarriersEachBatch(t *testing.T) {
	gen := &stubGenerator{
		extend: func(_, _ int, _ []int32) []int32 {
			return []int32{7}
		},
	}
	var batches []sequenceBatch
	for i := 0; i < 3; i++ {
		batches = append(batches, sequenceBatch{
			startIdx:      int64(i),
			contexts:      [][]int32{{1}},
			continuations: [][]int32{{7}},
		})
	}

	syncer := &countingSyncer{}
	if _, err := scoreBatches(context.Background(), discardLogger(), gen, syncer, feedBatches(batches...), scorerConfig{
		contextTokens:      1,
		continuationTokens: 1,
		barrierEachBatch:   true,
	}, nil); err != nil {
		t.Fatalf("scoreBatches: %v", err)
	}

	want := []string{"batch-0", "batch-1", "batch-2"}
	if len(syncer.names) != len(want) {
		t.Fatalf("got %d barriers, want %d", len(syncer.names), len(want))
	}
	for i, name := range syncer.names {
		if name != want[i] {
			t.Errorf("barrier %d named %q, want %q", i, name, want[i])
		}
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, inference.GenerateRequest) ([][]int32, error) {
	return nil, fmt.Errorf("backend unavailable")
}

func TestScoreBatchesPropagatesGenerationError(t *testing.T) {
	batch := sequenceBatch{
		startIdx:      0,
		contexts:      [][]int32{{1}},
		continuations: [][]int32{{7}},
	}
	_, err := scoreBatches(context.Background(), discardLogger(), failingGenerator{}, nil, feedBatches(batch), scorerConfig{
		contextTokens:      1,
		continuationTokens: 1,
	}, nil)
	if err == nil {
		t.Fatal("expected generation error to propagate")
	}
}
