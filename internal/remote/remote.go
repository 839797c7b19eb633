// Package remote defines the core engine's boundary with the wide-column
// persistence backend: ChunkSink (writes) and ChunkSource (reads), plus an
// in-memory reference implementation used by tests and by the downsample
// pipeline. Grounded on internal/chunk.MetaStore's small-interface,
// first-class-collaborator framing — the remote store is never reached
// into directly by internal/shard or internal/memstore, only through these
// interfaces.
package remote

import (
	"context"
	"time"

	"chronocore/internal/partition"
	"chronocore/internal/schema"
)

// ChunkSetRecord is the wire form of one partition's flush: the raw,
// codec-encoded column bytes (timestamp first, then value columns in
// schema order) plus the ChunkInfo header they share.
type ChunkSetRecord struct {
	Partition schema.PartitionKey
	Info      partition.ChunkInfo
	Columns   [][]byte
}

// IndexRow is one row of the remote index table: (partition, ingestion
// time, start time) -> encoded ChunkInfo, per spec.md §6's index row
// layout.
type IndexRow struct {
	Partition     schema.PartitionKey
	IngestionTime int64
	StartTime     int64
	Info          []byte
}

// RawPartData is the wire-level analog of internal/memstore.RawPartData:
// one partition's matching chunk records, as read back from the remote
// store.
type RawPartData struct {
	Partition schema.PartitionKey
	Chunks    []ChunkSetRecord
}

// Split is a disjoint token-range slice of a dataset's key space, tagged
// with the hosts holding a replica, for locality-aware scan scheduling.
type Split struct {
	TokenStart   int64
	TokenEnd     int64
	ReplicaHosts []string
}

// NoTTL is the EndTime sentinel for a PartKeyRecord whose partition has no
// expiry.
const NoTTL = int64(1<<63 - 1)

// PartKeyRecord is one entry of the partition-key index used to rebuild a
// shard's in-memory directory and inverted index after a restart.
type PartKeyRecord struct {
	Partition schema.PartitionKey
	Labels    map[string]string
	StartTime int64
	EndTime   int64 // NoTTL if the partition never expires
}

// PartitionFilter and ChunkFilter mirror internal/memstore's filter
// function shapes, applied remote-side before data crosses the wire.
type PartitionFilter func(schema.PartitionKey) bool
type ChunkFilter func(partition.ChunkInfo) bool

// ChunkSink is the write side of the remote column store interface
// (spec.md §6): dataset lifecycle plus chunk-set persistence.
type ChunkSink interface {
	// Initialize creates the dataset's tables; idempotent.
	Initialize(ctx context.Context, dataset string, numShards int) error
	// Truncate empties a dataset's tables, keeping them defined; idempotent.
	Truncate(ctx context.Context, dataset string, numShards int) error
	// Drop removes a dataset's tables entirely; idempotent.
	Drop(ctx context.Context, dataset string, numShards int) error
	// Write persists every record on records, each under key
	// (partition, chunkId) AND an index row (partition, ingestionTime,
	// startTime). Returns the count of chunk sets for which both writes
	// succeeded; a chunk set is not counted unless both succeed.
	Write(ctx context.Context, dataset string, records []ChunkSetRecord, ttl time.Duration) (int, error)
}

// ChunkSource is the read side of the remote column store interface.
type ChunkSource interface {
	// ReadRawPartitions streams partitions matching partMethod, and
	// within them chunks matching chunkMethod, widened by maxChunkTime on
	// the early side.
	ReadRawPartitions(ctx context.Context, dataset string, maxChunkTime time.Duration, partMethod PartitionFilter, chunkMethod ChunkFilter) (<-chan RawPartData, error)
	// GetChunksByIngestionTimeRange streams batches of raw partitions for
	// downsampling/repair; ingEnd and userEnd are exclusive.
	GetChunksByIngestionTimeRange(ctx context.Context, dataset string, splits []Split, ingStart, ingEnd, userStart, userEnd int64, maxChunkTime time.Duration, batchSize int, batchTime time.Duration) (<-chan []RawPartData, error)
	// GetScanSplits returns disjoint token-range splits covering the
	// dataset's key space.
	GetScanSplits(ctx context.Context, dataset string, splitsPerNode int) ([]Split, error)
	// ScanPartKeys streams a shard's partition-key index, for rebuild.
	ScanPartKeys(ctx context.Context, dataset string, shard int) (<-chan PartKeyRecord, error)
	// WritePartKeys persists stream's entries for a shard.
	WritePartKeys(ctx context.Context, dataset string, shard int, stream <-chan PartKeyRecord, ttl time.Duration) error
}
