// Package tokds reads and writes sharded binary datasets of opaque
// records. A dataset directory holds numbered shard files, a per-shard
// offset index for random access, and a top-level index.json describing
// the column type and shard layout. The converter writes token windows
// into this format and the evaluation harness reads them back by global
// record index.
package tokds

import (
	"encoding/binary"
	"fmt"
)

const (
	indexFileName    = "index.json"
	formatVersion    = 1
	defaultShardSize = 1 << 26 // uncompressed bytes per shard
)

// ColumnTokens marks records holding raw little-endian int32 token ids;
// ColumnText marks records holding UTF-8 text.
const (
	ColumnTokens = "tokens"
	ColumnText   = "text"
)

type indexFile struct {
	Version     int         `json:"version"`
	Column      string      `json:"column"`
	Compression string      `json:"compression,omitempty"`
	Shards      []shardInfo `json:"shards"`
}

type shardInfo struct {
	Name     string `json:"name"`
	Records  int64  `json:"records"`
	RawBytes int64  `json:"raw_bytes"`
}

// TokensToBytes serializes token ids as little-endian int32 values.
func TokensToBytes(ids []int32) []byte {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	return buf
}

// TokensFromBytes is the inverse of TokensToBytes.
func TokensFromBytes(buf []byte) ([]int32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("token record length %d not a multiple of 4", len(buf))
	}
	ids := make([]int32, len(buf)/4)
	for i := range ids {
		ids[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return ids, nil
}
