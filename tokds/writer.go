package tokds

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer appends records to a dataset directory, rotating shards once
// they exceed a size threshold. Close must be called to flush the final
// shard and write index.json; a dataset without index.json is unreadable.
type Writer struct {
	dir           string
	compression   string
	maxShardBytes int64
	index         indexFile
	cur           *shardWriter
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithShardBytes overrides the uncompressed shard rotation threshold.
func WithShardBytes(n int64) WriterOption {
	return func(w *Writer) {
		w.maxShardBytes = n
	}
}

// NewWriter creates the dataset directory and returns a Writer for it.
// column is ColumnTokens or ColumnText; compression is "" or "gzip".
func NewWriter(dir, column, compression string, opts ...WriterOption) (*Writer, error) {
	switch column {
	case ColumnTokens, ColumnText:
	default:
		return nil, fmt.Errorf("unknown column type %q", column)
	}
	switch compression {
	case "", "gzip":
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating dataset directory: %w", err)
	}
	return &Writer{
		dir:           dir,
		compression:   compression,
		maxShardBytes: defaultShardSize,
		index: indexFile{
			Version:     formatVersion,
			Column:      column,
			Compression: compression,
		},
	}, nil
}

// Write appends one record to the dataset.
func (w *Writer) Write(record []byte) error {
	if w.cur == nil {
		sw, err := newShardWriter(w.dir, len(w.index.Shards), w.compression)
		if err != nil {
			return fmt.Errorf("opening shard: %w", err)
		}
		w.cur = sw
	}
	if err := w.cur.write(record); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if w.cur.rawBytes >= w.maxShardBytes {
		return w.rotate()
	}
	return nil
}

func (w *Writer) rotate() error {
	info, err := w.cur.finish()
	if err != nil {
		return fmt.Errorf("finishing shard: %w", err)
	}
	w.index.Shards = append(w.index.Shards, info)
	w.cur = nil
	return nil
}

// Close finalizes the open shard, if any, and writes index.json.
func (w *Writer) Close() error {
	if w.cur != nil {
		if w.cur.records > 0 {
			if err := w.rotate(); err != nil {
				return err
			}
		} else {
			w.cur.abandon()
			w.cur = nil
		}
	}
	indexBytes, err := json.MarshalIndent(w.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, indexFileName), indexBytes, 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

type shardWriter struct {
	name     string
	dir      string
	file     *os.File
	payload  io.Writer // file, or gzip wrapping it
	gz       *gzip.Writer
	offsets  []uint64
	rawBytes int64
	records  int64
}

func newShardWriter(dir string, idx int, compression string) (*shardWriter, error) {
	name := fmt.Sprintf("shard.%05d", idx)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	sw := &shardWriter{
		name:    name,
		dir:     dir,
		file:    f,
		payload: f,
		offsets: []uint64{0},
	}
	if compression == "gzip" {
		sw.gz = gzip.NewWriter(f)
		sw.payload = sw.gz
	}
	return sw, nil
}

func (sw *shardWriter) write(record []byte) error {
	if _, err := sw.payload.Write(record); err != nil {
		return err
	}
	sw.rawBytes += int64(len(record))
	sw.records++
	sw.offsets = append(sw.offsets, uint64(sw.rawBytes))
	return nil
}

func (sw *shardWriter) finish() (shardInfo, error) {
	if sw.gz != nil {
		if err := sw.gz.Close(); err != nil {
			return shardInfo{}, fmt.Errorf("closing gzip stream: %w", err)
		}
	}
	if err := sw.file.Close(); err != nil {
		return shardInfo{}, fmt.Errorf("closing shard file: %w", err)
	}

	// Sidecar offset index: record count then len+1 offsets into the
	// uncompressed payload stream.
	buf := make([]byte, 8*(len(sw.offsets)+1))
	binary.LittleEndian.PutUint64(buf, uint64(sw.records))
	for i, off := range sw.offsets {
		binary.LittleEndian.PutUint64(buf[8*(i+1):], off)
	}
	idxPath := filepath.Join(sw.dir, sw.name+".idx")
	if err := os.WriteFile(idxPath, buf, 0644); err != nil {
		return shardInfo{}, fmt.Errorf("writing shard offsets: %w", err)
	}

	return shardInfo{
		Name:     sw.name,
		Records:  sw.records,
		RawBytes: sw.rawBytes,
	}, nil
}

func (sw *shardWriter) abandon() {
	sw.file.Close()
	os.Remove(filepath.Join(sw.dir, sw.name))
}
