package tokds

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Reader provides random access to dataset records by global index.
// Shards are loaded into memory lazily, one at a time, so a sequential
// scan over a contiguous index range touches each shard once. Not safe
// for concurrent use.
type Reader struct {
	dir   string
	index indexFile

	// cumulative[i] is the number of records in shards [0, i).
	cumulative []int64
	total      int64

	loadedShard int
	offsets     []uint64
	data        []byte
}

// Open reads index.json from dir and prepares a Reader.
func Open(dir string) (*Reader, error) {
	indexBytes, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("reading dataset index: %w", err)
	}
	var index indexFile
	if err := json.Unmarshal(indexBytes, &index); err != nil {
		return nil, fmt.Errorf("unmarshalling dataset index: %w", err)
	}
	if index.Version != formatVersion {
		return nil, fmt.Errorf("unsupported dataset version %d", index.Version)
	}

	r := &Reader{
		dir:         dir,
		index:       index,
		cumulative:  make([]int64, len(index.Shards)+1),
		loadedShard: -1,
	}
	for i, shard := range index.Shards {
		r.cumulative[i+1] = r.cumulative[i] + shard.Records
	}
	r.total = r.cumulative[len(index.Shards)]
	return r, nil
}

// Column reports the dataset's column type.
func (r *Reader) Column() string {
	return r.index.Column
}

// NumRecords reports the total record count across all shards.
func (r *Reader) NumRecords() int64 {
	return r.total
}

// At returns record i. The returned slice aliases the shard buffer and
// must not be modified.
func (r *Reader) At(i int64) ([]byte, error) {
	if i < 0 || i >= r.total {
		return nil, fmt.Errorf("record index %d out of range [0, %d)", i, r.total)
	}
	shard := sort.Search(len(r.index.Shards), func(s int) bool {
		return r.cumulative[s+1] > i
	})
	if shard != r.loadedShard {
		if err := r.loadShard(shard); err != nil {
			return nil, fmt.Errorf("loading shard %d: %w", shard, err)
		}
	}
	local := i - r.cumulative[shard]
	return r.data[r.offsets[local]:r.offsets[local+1]], nil
}

func (r *Reader) loadShard(shard int) error {
	info := r.index.Shards[shard]

	idxBytes, err := os.ReadFile(filepath.Join(r.dir, info.Name+".idx"))
	if err != nil {
		return fmt.Errorf("reading shard offsets: %w", err)
	}
	if len(idxBytes) < 8 || len(idxBytes)%8 != 0 {
		return fmt.Errorf("malformed shard offset file for %s", info.Name)
	}
	count := int64(binary.LittleEndian.Uint64(idxBytes))
	if count != info.Records {
		return fmt.Errorf(
			"shard %s offset count %d disagrees with index records %d",
			info.Name, count, info.Records,
		)
	}
	offsets := make([]uint64, count+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(idxBytes[8*(i+1):])
	}

	f, err := os.Open(filepath.Join(r.dir, info.Name))
	if err != nil {
		return fmt.Errorf("opening shard: %w", err)
	}
	defer f.Close()

	var payload io.Reader = f
	if r.index.Compression == "gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gz.Close()
		payload = gz
	}

	data := make([]byte, info.RawBytes)
	if _, err := io.ReadFull(payload, data); err != nil {
		return fmt.Errorf("reading shard payload: %w", err)
	}

	r.loadedShard = shard
	r.offsets = offsets
	r.data = data
	return nil
}
