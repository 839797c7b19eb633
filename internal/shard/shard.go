// Package shard owns one shard's worth of partitions: the directory
// mapping partition keys to live partition.Partition instances, the
// inverted label index used to resolve filter-based series selection, and
// the flush-group scheduler that periodically seals and persists their
// write buffers. Grounded on the teacher's internal/orchestrator (the
// directory-of-child-components owner) and internal/index/memory.Manager
// (the commit-point index lifecycle), with chunk/rotation.go's pluggable
// RotationPolicy generalized into FlushPolicy.
package shard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-co-op/gocron/v2"

	"chronocore/internal/logging"
	"chronocore/internal/partition"
	"chronocore/internal/schema"
)

// ChunkSink is implemented by the remote-store client; a shard calls it to
// persist a sealed, encoded ChunkSet before marking its flush complete.
type ChunkSink interface {
	WriteChunk(ctx context.Context, dataset string, key schema.PartitionKey, cs *partition.ChunkSet) error
}

// Config configures a Shard.
type Config struct {
	Now      func() time.Time
	Dataset  string
	Sink     ChunkSink // nil is valid: chunks seal but are never persisted (standalone/test use)
	Pager    partition.Pager
	Policy   FlushPolicy
	Logger   *slog.Logger

	// FlushGroups is the number of staggered flush groups partitions are
	// hashed into; 0 defaults to 1 (a single group, no staggering).
	FlushGroups int
	// FlushInterval is how often each flush group's job runs.
	FlushInterval time.Duration

	// MaxResidentPartitions bounds the shard's in-memory partition count
	// via LRU eviction of the least recently touched partitions; 0 means
	// unbounded.
	MaxResidentPartitions int
	// MaxTableHandles bounds the per-shard remote-store table-handle
	// cache (see SPEC_FULL.md §11's per-shard bounded-cache decision);
	// 0 means unbounded.
	MaxTableHandles int
}

type partitionEntry struct {
	id uint32
	p  *partition.Partition
}

// Shard is the concurrency-safe owner of a fixed set of partitions:
// lock-free reads via sync.Map, CAS-guarded inserts on first touch, per
// spec.md's partition-directory requirement.
type Shard struct {
	cfg Config
	sch schema.Schema

	partitions sync.Map // string(PartitionKey) -> *partitionEntry
	nextID     atomic.Uint32

	mu      sync.RWMutex
	idToKey map[uint32]schema.PartitionKey

	index *InvertedIndex

	handleCache *lru.Cache // remote-store table handles, bounded per shard
	evictCache  *lru.Cache // recency tracker driving partition eviction

	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// New creates a Shard for schema sch.
func New(sch schema.Schema, cfg Config) (*Shard, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultFlushPolicy()
	}
	if cfg.FlushGroups <= 0 {
		cfg.FlushGroups = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	s := &Shard{
		cfg:     cfg,
		sch:     sch,
		idToKey: map[uint32]schema.PartitionKey{},
		index:   NewInvertedIndex(),
		logger:  logging.Default(cfg.Logger).With("component", "shard"),
	}

	if cfg.MaxTableHandles > 0 {
		c, err := lru.New(cfg.MaxTableHandles)
		if err != nil {
			return nil, err
		}
		s.handleCache = c
	}
	if cfg.MaxResidentPartitions > 0 {
		c, err := lru.NewWithEvict(cfg.MaxResidentPartitions, s.onPartitionEvicted)
		if err != nil {
			return nil, err
		}
		s.evictCache = c
	}

	return s, nil
}

// onPartitionEvicted is the LRU callback fired when MaxResidentPartitions
// is exceeded. It only removes the partition from the directory if every
// sealed chunk has already reached Persisted or later; a partition still
// holding unflushed data is re-inserted rather than dropped, since losing
// unflushed samples would violate durability.
func (s *Shard) onPartitionEvicted(key interface{}, value interface{}) {
	entry, ok := value.(*partitionEntry)
	if !ok {
		return
	}
	if entry.p.ChunkCount() > 0 {
		s.evictCache.Add(key, entry)
		return
	}
	keyStr, _ := key.(string)
	s.partitions.Delete(keyStr)
	s.mu.Lock()
	delete(s.idToKey, entry.id)
	s.mu.Unlock()
}

func (s *Shard) partitionConfig() partition.Config {
	return partition.Config{Now: s.cfg.Now, Pager: s.cfg.Pager, Logger: s.cfg.Logger}
}

// GetOrCreate returns the partition for key, creating it (and staging its
// labels into the inverted index) on first touch. labels is only consulted
// on creation; later calls for the same key ignore it.
func (s *Shard) GetOrCreate(key schema.PartitionKey, labels map[string]string) *partition.Partition {
	keyStr := key.String()
	if v, ok := s.partitions.Load(keyStr); ok {
		entry := v.(*partitionEntry)
		if s.evictCache != nil {
			s.evictCache.Add(keyStr, entry)
		}
		return entry.p
	}

	id := s.nextID.Add(1)
	entry := &partitionEntry{id: id, p: partition.New(key, s.sch, s.partitionConfig())}

	actual, loaded := s.partitions.LoadOrStore(keyStr, entry)
	entry = actual.(*partitionEntry)
	if !loaded {
		s.mu.Lock()
		s.idToKey[entry.id] = key
		s.mu.Unlock()
		s.index.Add(entry.id, labels)
	}
	if s.evictCache != nil {
		s.evictCache.Add(keyStr, entry)
	}
	return entry.p
}

// Range calls fn for every resident partition, in no particular order,
// stopping early if fn returns false. Used by the memstore scan path to
// walk a shard's partitions without exposing the directory's internals.
func (s *Shard) Range(fn func(key schema.PartitionKey, p *partition.Partition) bool) {
	s.partitions.Range(func(_, value any) bool {
		entry := value.(*partitionEntry)
		return fn(entry.p.Key(), entry.p)
	})
}

// Ingest routes row to the partition for key, creating it on first touch.
func (s *Shard) Ingest(key schema.PartitionKey, labels map[string]string, row partition.Row, ingestionTime int64) error {
	return s.GetOrCreate(key, labels).Ingest(row, ingestionTime)
}

// CommitIndex makes partitions added since the last commit visible to
// Query/LabelValues.
func (s *Shard) CommitIndex() { s.index.Commit() }

// Query resolves filters against the committed index snapshot and returns
// the matching resident partitions.
func (s *Shard) Query(filters []LabelFilter) []*partition.Partition {
	snap := s.index.Snapshot()
	ids := snap.Query(filters).ToArray()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*partition.Partition, 0, len(ids))
	for _, id := range ids {
		key, ok := s.idToKey[id]
		if !ok {
			continue
		}
		if v, ok := s.partitions.Load(key.String()); ok {
			out = append(out, v.(*partitionEntry).p)
		}
	}
	return out
}

// LabelValues returns every distinct value observed for a label across the
// shard's committed index.
func (s *Shard) LabelValues(name string) []string {
	return s.index.Snapshot().LabelValues(name)
}

// CacheTableHandle stores a remote-store table handle under key in the
// shard's bounded LRU cache. A no-op if MaxTableHandles was left at 0.
func (s *Shard) CacheTableHandle(key string, handle any) {
	if s.handleCache != nil {
		s.handleCache.Add(key, handle)
	}
}

// TableHandle returns a previously cached table handle, if still resident.
func (s *Shard) TableHandle(key string) (any, bool) {
	if s.handleCache == nil {
		return nil, false
	}
	return s.handleCache.Get(key)
}

// StartFlushGroups launches the shard's flush-group scheduler: partitions
// are hashed into cfg.FlushGroups groups, each group's flush job running
// every cfg.FlushInterval, with each group's first run staggered across
// the interval so groups do not all flush in the same instant.
func (s *Shard) StartFlushGroups(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	stagger := s.cfg.FlushInterval / time.Duration(s.cfg.FlushGroups)
	for g := 0; g < s.cfg.FlushGroups; g++ {
		group := g
		startAt := s.cfg.Now().Add(time.Duration(group) * stagger)
		_, err := sched.NewJob(
			gocron.DurationJob(s.cfg.FlushInterval),
			gocron.NewTask(func() { s.flushGroup(ctx, group) }),
			gocron.WithStartAt(gocron.WithStartDateTime(startAt)),
		)
		if err != nil {
			return err
		}
	}

	s.scheduler = sched
	sched.Start()
	return nil
}

// Close shuts down the flush-group scheduler, if running.
func (s *Shard) Close() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// flushGroup seals and persists the write buffers of every resident
// partition assigned to group (by partition id modulo FlushGroups).
func (s *Shard) flushGroup(ctx context.Context, group int) {
	s.partitions.Range(func(_, value any) bool {
		entry := value.(*partitionEntry)
		if int(entry.id)%s.cfg.FlushGroups != group {
			return true
		}
		s.flushOne(ctx, entry)
		return true
	})
}

func (s *Shard) flushOne(ctx context.Context, entry *partitionEntry) {
	cs, err := entry.p.SwitchBuffers(true)
	if err != nil {
		s.logger.Error("switch buffers failed", "partition", entry.p.Key().String(), "error", err)
		return
	}
	if cs == nil {
		return
	}

	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.WriteChunk(ctx, s.cfg.Dataset, entry.p.Key(), cs); err != nil {
			s.logger.Error("write chunk failed", "partition", entry.p.Key().String(), "chunk", cs.Info.ChunkID.String(), "error", err)
			return
		}
	}
	entry.p.InvokeFlushListener(cs.Info)
}
