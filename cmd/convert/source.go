package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pilekit/pilekit/concat"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

// sampleSource yields one sample at a time, returning io.EOF when the
// underlying file is exhausted.
type sampleSource interface {
	Next() (concat.Sample, error)
	Close() error
}

// collectInputs resolves path to a sorted list of corpus files. A file
// path is returned as-is; a directory yields its .jsonl and .parquet
// entries.
func collectInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	var inputs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".jsonl", ".json", ".parquet":
			inputs = append(inputs, filepath.Join(path, entry.Name()))
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no .jsonl or .parquet files in %s", path)
	}
	sort.Strings(inputs)
	return inputs, nil
}

func openSource(path string) (sampleSource, error) {
	switch filepath.Ext(path) {
	case ".jsonl", ".json":
		return openJSONLSource(path)
	case ".parquet":
		return openParquetSource(path, *parquetTextColumn, *parquetScoreColumn)
	default:
		return nil, fmt.Errorf("unsupported input format %q", filepath.Ext(path))
	}
}

// convertFile streams every sample in path through fn, checking ctx
// between samples. Returns the number of samples processed.
func convertFile(ctx context.Context, path string, fn func(concat.Sample) error) (int64, error) {
	src, err := openSource(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		sample, err := src.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fn(sample); err != nil {
			return n, err
		}
		n++
	}
}

// jsonlSource reads one JSON sample per line. Blank lines are skipped;
// a malformed line fails the whole run rather than being dropped.
type jsonlSource struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

func openJSONLSource(path string) (*jsonlSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	return &jsonlSource{
		path:    path,
		file:    f,
		scanner: scanner,
	}, nil
}

func (s *jsonlSource) Next() (concat.Sample, error) {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}
		var sample concat.Sample
		if err := json.Unmarshal([]byte(text), &sample); err != nil {
			return concat.Sample{}, fmt.Errorf("%s line %d: %w", s.path, s.line, err)
		}
		return sample, nil
	}
	if err := s.scanner.Err(); err != nil {
		return concat.Sample{}, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return concat.Sample{}, io.EOF
}

func (s *jsonlSource) Close() error {
	return s.file.Close()
}

// parquetSource reads a sentence column and a score column eagerly and
// yields one single-sentence sample per row.
type parquetSource struct {
	texts  []string
	scores []float64
	cursor int
}

func openParquetSource(path string, textColumn, scoreColumn int) (*parquetSource, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	bf := buffer.NewBufferFileFromBytesNoAlloc(content)
	pr, err := reader.NewParquetColumnReader(bf, 1)
	if err != nil {
		return nil, fmt.Errorf("creating parquet column reader: %w", err)
	}
	defer pr.ReadStop()

	n := pr.GetNumRows()
	rawTexts, _, _, err := pr.ReadColumnByIndex(int64(textColumn), n)
	if err != nil {
		return nil, fmt.Errorf("reading text column %d: %w", textColumn, err)
	}
	rawScores, _, _, err := pr.ReadColumnByIndex(int64(scoreColumn), n)
	if err != nil {
		return nil, fmt.Errorf("reading score column %d: %w", scoreColumn, err)
	}

	src := &parquetSource{
		texts:  make([]string, 0, n),
		scores: make([]float64, 0, n),
	}
	for i := range rawTexts {
		text, ok := rawTexts[i].(string)
		if !ok {
			return nil, fmt.Errorf("row %d: text column holds %T, want string", i, rawTexts[i])
		}
		var score float64
		switch v := rawScores[i].(type) {
		case float64:
			score = v
		case float32:
			score = float64(v)
		default:
			return nil, fmt.Errorf("row %d: score column holds %T, want float", i, rawScores[i])
		}
		src.texts = append(src.texts, text)
		src.scores = append(src.scores, score)
	}
	return src, nil
}

func (s *parquetSource) Next() (concat.Sample, error) {
	if s.cursor >= len(s.texts) {
		return concat.Sample{}, io.EOF
	}
	sample := concat.Sample{
		Sentences: []string{s.texts[s.cursor]},
		Scores:    []float64{s.scores[s.cursor]},
	}
	s.cursor++
	return sample, nil
}

func (s *parquetSource) Close() error {
	return nil
}
