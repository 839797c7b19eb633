package remote

import (
	"context"
	"time"

	"chronocore/internal/partition"
	"chronocore/internal/schema"
)

// ShardSink adapts a ChunkSink to internal/shard.ChunkSink's narrower,
// single-chunk-set shape, so a shard's flush-group scheduler can persist
// directly without depending on the wider remote interface.
type ShardSink struct {
	Sink ChunkSink
	TTL  time.Duration
}

// WriteChunk persists one ChunkSet's raw columns through the wrapped
// ChunkSink.
func (s ShardSink) WriteChunk(ctx context.Context, dataset string, key schema.PartitionKey, cs *partition.ChunkSet) error {
	columns, err := cs.RawColumns()
	if err != nil {
		return err
	}
	_, err = s.Sink.Write(ctx, dataset, []ChunkSetRecord{{Partition: key, Info: cs.Info, Columns: columns}}, s.TTL)
	return err
}
