package main

import (
	"context"
	"testing"

	"github.com/pilekit/pilekit/tokds"
)

// writeTestDataset writes numRecords sequences of tokensPer tokens each,
// where record i holds tokens [i*1000, i*1000+tokensPer).
func writeTestDataset(t *testing.T, numRecords, tokensPer int) *tokds.Reader {
	t.Helper()

	dir := t.TempDir()
	writer, err := tokds.NewWriter(dir, tokds.ColumnTokens, "")
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}
	for i := 0; i < numRecords; i++ {
		ids := make([]int32, tokensPer)
		for j := range ids {
			ids[j] = int32(i*1000 + j)
		}
		if err := writer.Write(tokds.TokensToBytes(ids)); err != nil {
			t.Fatalf("writing record %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}

	reader, err := tokds.Open(dir)
	if err != nil {
		t.Fatalf("opening dataset: %v", err)
	}
	return reader
}

func TestRunPrefetchStreamsRange(t *testing.T) {
	reader := writeTestDataset(t, 20, 8)

	out := make(chan sequenceBatch, 16)
	err := runPrefetch(context.Background(), reader, partitionRange{start: 3, end: 12}, prefetchConfig{
		batchSize:          4,
		contextTokens:      3,
		continuationTokens: 2,
	}, out)
	if err != nil {
		t.Fatalf("runPrefetch: %v", err)
	}

	var batches []sequenceBatch
	for batch := range out {
		batches = append(batches, batch)
	}
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}

	// 10 sequences at batch size 4: two full batches then a partial.
	wantSizes := []int{4, 4, 2}
	wantStarts := []int64{3, 7, 11}
	var seen int64
	for i, batch := range batches {
		if len(batch.contexts) != wantSizes[i] || len(batch.continuations) != wantSizes[i] {
			t.Fatalf(
				"batch %d: %d contexts / %d continuations, want %d",
				i, len(batch.contexts), len(batch.continuations), wantSizes[i],
			)
		}
		if batch.startIdx != wantStarts[i] {
			t.Fatalf("batch %d: startIdx %d, want %d", i, batch.startIdx, wantStarts[i])
		}
		for j := range batch.contexts {
			idx := batch.startIdx + int64(j)
			base := int32(idx * 1000)
			for k, tok := range batch.contexts[j] {
				if tok != base+int32(k) {
					t.Fatalf("sequence %d context token %d: got %d, want %d", idx, k, tok, base+int32(k))
				}
			}
			for k, tok := range batch.continuations[j] {
				if tok != base+3+int32(k) {
					t.Fatalf("sequence %d continuation token %d: got %d, want %d", idx, k, tok, base+3+int32(k))
				}
			}
			seen++
		}
	}
	if seen != 10 {
		t.Errorf("streamed %d sequences, want 10", seen)
	}
}

func TestRunPrefetchRejectsShortSequences(t *testing.T) {
	reader := writeTestDataset(t, 4, 8)

	out := make(chan sequenceBatch, 4)
	err := runPrefetch(context.Background(), reader, partitionRange{start: 0, end: 3}, prefetchConfig{
		batchSize:          2,
		contextTokens:      8,
		continuationTokens: 8,
	}, out)
	if err == nil {
		t.Fatal("expected error for sequences shorter than context+continuation")
	}

	// The channel must close even on failure so the consumer unblocks.
	for range out {
	}
}

func TestRunPrefetchRejectsInvalidConfig(t *testing.T) {
	reader := writeTestDataset(t, 4, 8)

	cases := []prefetchConfig{
		{batchSize: 0, contextTokens: 4, continuationTokens: 4},
		{batchSize: -1, contextTokens: 4, continuationTokens: 4},
		{batchSize: 2, contextTokens: 0, continuationTokens: 4},
		{batchSize: 2, contextTokens: 4, continuationTokens: 0},
	}
	for _, cfg := range cases {
		out := make(chan sequenceBatch, 4)
		err := runPrefetch(context.Background(), reader, partitionRange{start: 0, end: 3}, cfg, out)
		if err == nil {
			t.Errorf("config %+v accepted, want error", cfg)
		}
		// A zero batch size must not fall through to one giant
		// everything-at-the-end batch.
		for range out {
			t.Errorf("config %+v emitted a batch", cfg)
		}
	}
}

func TestRunPrefetchHonorsContext(t *testing.T) {
	reader := writeTestDataset(t, 8, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered channel with no consumer: the only exit is ctx.
	out := make(chan sequenceBatch)
	err := runPrefetch(ctx, reader, partitionRange{start: 0, end: 7}, prefetchConfig{
		batchSize:          1,
		contextTokens:      4,
		continuationTokens: 4,
	}, out)
	if err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
