// Package memstore is the top-level in-memory store: a directory of
// datasets, each fanning out into its configured number of shards. It is
// pure composition over internal/shard, mirroring the teacher's
// internal/orchestrator package, which owns and wires its child components
// (chunk manager, index manager, receivers) without holding any storage
// state itself.
package memstore

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"chronocore/internal/logging"
	"chronocore/internal/partition"
	"chronocore/internal/schema"
	"chronocore/internal/shard"
)

var (
	// ErrDatasetNotFound is returned by operations referencing an unknown
	// dataset name.
	ErrDatasetNotFound = errors.New("memstore: dataset not found")
	// ErrShardOutOfRange is returned when a shard index exceeds a
	// dataset's configured shard count.
	ErrShardOutOfRange = errors.New("memstore: shard index out of range")
	// ErrDatasetExists is returned by Setup when the dataset is already
	// configured with a conflicting schema.
	ErrDatasetExists = errors.New("memstore: dataset already set up with a different schema")
)

// ShardFactory builds the per-shard configuration for one shard of one
// dataset; callers supply dataset-scoped collaborators (a ChunkSink, a
// Pager) this way rather than the Store hard-coding them.
type ShardFactory func(dataset schema.Dataset, shardIndex int) shard.Config

// Config configures a Store.
type Config struct {
	Now     func() time.Time
	Shards  ShardFactory
	Logger  *slog.Logger
}

type datasetEntry struct {
	dataset schema.Dataset
	shards  []*shard.Shard
}

// Store is the dataset directory: setup is idempotent, and every other
// operation is keyed by dataset name plus (where relevant) shard index.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	datasets map[string]*datasetEntry

	logger *slog.Logger
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Shards == nil {
		cfg.Shards = func(schema.Dataset, int) shard.Config { return shard.Config{} }
	}
	return &Store{cfg: cfg, datasets: map[string]*datasetEntry{}, logger: logging.Default(cfg.Logger).With("component", "memstore")}
}

// Setup registers a dataset and creates its shards, or is a no-op if the
// dataset is already configured identically. Concurrency-safe and
// idempotent, so callers can call it unconditionally on every node that
// might first see a dataset.
func (s *Store) Setup(ds schema.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.datasets[ds.Name]; ok {
		if existing.dataset.NumShards != ds.NumShards || !reflect.DeepEqual(existing.dataset.Schema, ds.Schema) {
			return ErrDatasetExists
		}
		return nil
	}

	numShards := ds.NumShards
	if numShards <= 0 {
		numShards = 1
	}
	shards := make([]*shard.Shard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := shard.New(ds.Schema, s.cfg.Shards(ds, i))
		if err != nil {
			return err
		}
		shards[i] = sh
	}
	s.datasets[ds.Name] = &datasetEntry{dataset: ds, shards: shards}
	s.logger.Info("dataset registered", "dataset", ds.Name, "shards", numShards)
	return nil
}

func (s *Store) get(dataset string) (*datasetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.datasets[dataset]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return entry, nil
}

// NumShards returns the shard count a dataset was set up with, for callers
// (the query planner) that need to fan a plan out across every shard
// without already holding a partition key.
func (s *Store) NumShards(dataset string) (int, error) {
	entry, err := s.get(dataset)
	if err != nil {
		return 0, err
	}
	return len(entry.shards), nil
}

// Dataset returns the schema.Dataset a name was registered with.
func (s *Store) Dataset(dataset string) (schema.Dataset, error) {
	entry, err := s.get(dataset)
	if err != nil {
		return schema.Dataset{}, err
	}
	return entry.dataset, nil
}

// Shard returns the shard at index i for dataset; ShardFor resolves a
// shard from a partition key.
func (s *Store) Shard(dataset string, i int) (*shard.Shard, error) {
	entry, err := s.get(dataset)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(entry.shards) {
		return nil, ErrShardOutOfRange
	}
	return entry.shards[i], nil
}

// ShardFor resolves the shard a partition key hashes to within dataset.
func (s *Store) ShardFor(dataset string, key schema.PartitionKey) (*shard.Shard, error) {
	entry, err := s.get(dataset)
	if err != nil {
		return nil, err
	}
	return entry.shards[key.ShardFor(len(entry.shards))], nil
}

// Sample is one ingestStream item: a series identity, its labels (only
// consulted the first time the series is seen), and the sample itself.
type Sample struct {
	Key           schema.PartitionKey
	Labels        map[string]string
	Row           partition.Row
	IngestionTime int64
}

// IngestHandle is a cancellable handle over one ingestStream invocation.
type IngestHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the stream's consumption goroutine; in-flight samples are
// allowed to finish, no new ones are read afterward.
func (h *IngestHandle) Cancel() { h.cancel() }

// Wait blocks until the stream is fully drained or Cancel has taken
// effect.
func (h *IngestHandle) Wait() { <-h.done }

// IngestStream routes every Sample arriving on stream to the given shard
// of dataset, until stream closes or the returned handle is cancelled.
// Per-sample errors (out-of-order, schema mismatch) are reported to errorCb
// rather than aborting the stream, matching spec.md's "drop and count,
// never stall ingestion for one bad sample" error-handling posture.
func (s *Store) IngestStream(ctx context.Context, dataset string, shardIndex int, stream <-chan Sample, errorCb func(Sample, error)) (*IngestHandle, error) {
	sh, err := s.Shard(dataset, shardIndex)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-stream:
				if !ok {
					return
				}
				if err := sh.Ingest(sample.Key, sample.Labels, sample.Row, sample.IngestionTime); err != nil && errorCb != nil {
					errorCb(sample, err)
				}
			}
		}
	}()
	return &IngestHandle{cancel: cancel, done: done}, nil
}

// RawPartData is one partition's matched chunks, as produced by Scan.
type RawPartData struct {
	Key    schema.PartitionKey
	Chunks []*partition.ChunkSet
}

// PartitionFilter decides whether a partition key is of interest to a
// scan.
type PartitionFilter func(schema.PartitionKey) bool

// ChunkFilter decides whether a chunk's metadata is of interest to a scan.
type ChunkFilter func(partition.ChunkInfo) bool

// Scan walks every shard of dataset, selecting partitions matching
// partMethod and, within them, chunks matching chunkMethod, streaming
// results on the returned channel. The channel is closed once every shard
// has been walked or ctx is cancelled.
func (s *Store) Scan(ctx context.Context, dataset string, partMethod PartitionFilter, chunkMethod ChunkFilter) (<-chan RawPartData, error) {
	entry, err := s.get(dataset)
	if err != nil {
		return nil, err
	}
	if partMethod == nil {
		partMethod = func(schema.PartitionKey) bool { return true }
	}
	if chunkMethod == nil {
		chunkMethod = func(partition.ChunkInfo) bool { return true }
	}

	out := make(chan RawPartData)
	go func() {
		defer close(out)
		for _, sh := range entry.shards {
			var stop bool
			sh.Range(func(key schema.PartitionKey, p *partition.Partition) bool {
				select {
				case <-ctx.Done():
					stop = true
					return false
				default:
				}
				if !partMethod(key) {
					return true
				}
				chunkSets, err := p.Reader(ctx, minTimestamp, maxTimestamp)
				if err != nil {
					return true
				}
				matched := make([]*partition.ChunkSet, 0, len(chunkSets))
				for _, cs := range chunkSets {
					if chunkMethod(cs.Info) {
						matched = append(matched, cs)
					}
				}
				if len(matched) == 0 {
					return true
				}
				select {
				case out <- RawPartData{Key: key, Chunks: matched}:
				case <-ctx.Done():
					stop = true
					return false
				}
				return true
			})
			if stop {
				return
			}
		}
	}()
	return out, nil
}

const (
	minTimestamp = -1 << 62
	maxTimestamp = 1 << 62
)
