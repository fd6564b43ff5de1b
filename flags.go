package main

import (
	"flag"
)

var datasetDir = flag.String(
	"dataset-dir",
	"",
	"path to the token dataset directory to evaluate against",
)

var batchSize = flag.Int(
	"batch-size",
	1024,
	"number of sequences scored per generation request",
)

var contextTokens = flag.Int(
	"context-tokens",
	32,
	"number of leading tokens per sequence fed to the model as the prompt",
)

var continuationTokens = flag.Int(
	"continuation-tokens",
	32,
	"number of tokens after the context compared against the greedy generation",
)

var sequencesPerStep = flag.Int(
	"sequences-per-step",
	1024,
	"number of pretraining sequences consumed per checkpoint step. total evaluated sequences = CHECKPOINT * this",
)

var prefetchMax = flag.Int(
	"prefetch-max",
	128,
	"maximum number of batches buffered between the dataset prefetcher and the scorer",
)

var inferenceUrl = flag.String(
	"inference-url",
	"",
	"base URL of the generation server",
)

var inferenceApiKey = flag.String(
	"inference-api-key",
	"",
	"API key for the generation server (optional)",
)

var rendezvousPort = flag.Int(
	"rendezvous-port",
	12128,
	"port of the rendezvous service on the launch node",
)

var objectStoreUrl = flag.String(
	"object-store-url",
	"",
	"base URL of the object store to upload per-rank results to. results stay local if unset",
)

var objectStoreToken = flag.String(
	"object-store-token",
	"",
	"bearer token for the object store (optional)",
)

var objectStoreBucket = flag.String(
	"object-store-bucket",
	"lm-evals",
	"object store bucket for per-rank result files",
)

var resultsDsn = flag.String(
	"results-dsn",
	"",
	"MySQL DSN to record a run summary row in (optional)",
)

var barrierEachBatch = flag.Bool(
	"barrier-each-batch",
	true,
	"synchronize all ranks after every scored batch to keep them in rough lockstep",
)
