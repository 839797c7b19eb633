package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"chronocore/internal/partition"
	"chronocore/internal/schema"
)

// EncodeChunkInfo msgpack-encodes a ChunkInfo for storage as an index
// row's info column (spec.md §6 index-row layout).
func EncodeChunkInfo(info partition.ChunkInfo) ([]byte, error) {
	return msgpack.Marshal(info)
}

// DecodeChunkInfo is the inverse of EncodeChunkInfo.
func DecodeChunkInfo(raw []byte) (partition.ChunkInfo, error) {
	var info partition.ChunkInfo
	err := msgpack.Unmarshal(raw, &info)
	return info, err
}

type datasetTable struct {
	mu          sync.Mutex
	numShards   int
	chunks      []ChunkSetRecord
	index       []IndexRow
	partKeys    map[int][]PartKeyRecord
}

// MemoryBackend is an in-memory ChunkSink/ChunkSource, grounded on
// internal/chunk/memory.Manager's map-backed metadata store shape.
// Intended for tests and for the downsample pipeline's own tests, not
// production persistence.
type MemoryBackend struct {
	mu       sync.RWMutex
	datasets map[string]*datasetTable
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{datasets: map[string]*datasetTable{}}
}

func (b *MemoryBackend) table(dataset string) *datasetTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.datasets[dataset]
	if !ok {
		t = &datasetTable{partKeys: map[int][]PartKeyRecord{}}
		b.datasets[dataset] = t
	}
	return t
}

func (b *MemoryBackend) Initialize(ctx context.Context, dataset string, numShards int) error {
	t := b.table(dataset)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.numShards = numShards
	return nil
}

func (b *MemoryBackend) Truncate(ctx context.Context, dataset string, numShards int) error {
	t := b.table(dataset)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = nil
	t.index = nil
	t.partKeys = map[int][]PartKeyRecord{}
	return nil
}

func (b *MemoryBackend) Drop(ctx context.Context, dataset string, numShards int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.datasets, dataset)
	return nil
}

func (b *MemoryBackend) Write(ctx context.Context, dataset string, records []ChunkSetRecord, ttl time.Duration) (int, error) {
	t := b.table(dataset)
	count := 0
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		infoBytes, err := EncodeChunkInfo(rec.Info)
		if err != nil {
			continue
		}
		t.chunks = append(t.chunks, rec)
		t.index = append(t.index, IndexRow{
			Partition:     rec.Partition,
			IngestionTime: rec.Info.IngestionTime,
			StartTime:     rec.Info.StartTime,
			Info:          infoBytes,
		})
		count++
	}
	return count, nil
}

func (b *MemoryBackend) ReadRawPartitions(ctx context.Context, dataset string, maxChunkTime time.Duration, partMethod PartitionFilter, chunkMethod ChunkFilter) (<-chan RawPartData, error) {
	t := b.table(dataset)
	t.mu.Lock()
	byPart := map[string][]ChunkSetRecord{}
	for _, c := range t.chunks {
		if partMethod != nil && !partMethod(c.Partition) {
			continue
		}
		if chunkMethod != nil && !chunkMethod(c.Info) {
			continue
		}
		key := c.Partition.String()
		byPart[key] = append(byPart[key], c)
	}
	t.mu.Unlock()

	out := make(chan RawPartData, len(byPart))
	for _, recs := range byPart {
		select {
		case out <- RawPartData{Partition: recs[0].Partition, Chunks: recs}:
		case <-ctx.Done():
		}
	}
	close(out)
	return out, nil
}

func (b *MemoryBackend) GetChunksByIngestionTimeRange(ctx context.Context, dataset string, splits []Split, ingStart, ingEnd, userStart, userEnd int64, maxChunkTime time.Duration, batchSize int, batchTime time.Duration) (<-chan []RawPartData, error) {
	t := b.table(dataset)
	t.mu.Lock()
	byPart := map[string][]ChunkSetRecord{}
	for _, c := range t.chunks {
		if c.Info.IngestionTime < ingStart || c.Info.IngestionTime >= ingEnd {
			continue
		}
		if c.Info.EndTime < userStart || c.Info.StartTime >= userEnd {
			continue
		}
		key := c.Partition.String()
		byPart[key] = append(byPart[key], c)
	}
	t.mu.Unlock()

	if batchSize <= 0 {
		batchSize = len(byPart)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	all := make([]RawPartData, 0, len(byPart))
	for _, recs := range byPart {
		all = append(all, RawPartData{Partition: recs[0].Partition, Chunks: recs})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Partition.String() < all[j].Partition.String() })

	out := make(chan []RawPartData)
	go func() {
		defer close(out)
		for i := 0; i < len(all); i += batchSize {
			end := i + batchSize
			if end > len(all) {
				end = len(all)
			}
			select {
			case out <- all[i:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *MemoryBackend) GetScanSplits(ctx context.Context, dataset string, splitsPerNode int) ([]Split, error) {
	if splitsPerNode <= 0 {
		splitsPerNode = 1
	}
	const span = int64(1) << 62
	step := (2 * span) / int64(splitsPerNode)
	splits := make([]Split, 0, splitsPerNode)
	start := -span
	for i := 0; i < splitsPerNode; i++ {
		end := start + step
		if i == splitsPerNode-1 {
			end = span
		}
		splits = append(splits, Split{TokenStart: start, TokenEnd: end})
		start = end
	}
	return splits, nil
}

func (b *MemoryBackend) ScanPartKeys(ctx context.Context, dataset string, shard int) (<-chan PartKeyRecord, error) {
	t := b.table(dataset)
	t.mu.Lock()
	recs := append([]PartKeyRecord{}, t.partKeys[shard]...)
	t.mu.Unlock()

	out := make(chan PartKeyRecord, len(recs))
	for _, r := range recs {
		select {
		case out <- r:
		case <-ctx.Done():
		}
	}
	close(out)
	return out, nil
}

func (b *MemoryBackend) WritePartKeys(ctx context.Context, dataset string, shard int, stream <-chan PartKeyRecord, ttl time.Duration) error {
	t := b.table(dataset)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-stream:
			if !ok {
				return nil
			}
			t.mu.Lock()
			t.partKeys[shard] = append(t.partKeys[shard], rec)
			t.mu.Unlock()
		}
	}
}

var (
	_ ChunkSink   = (*MemoryBackend)(nil)
	_ ChunkSource = (*MemoryBackend)(nil)
)

// partitionRecordsFor is a small test/debug helper returning every chunk
// record stored for a partition, useful for asserting write-then-read
// round trips without going through ReadRawPartitions' channel plumbing.
func (b *MemoryBackend) partitionRecordsFor(dataset string, key schema.PartitionKey) []ChunkSetRecord {
	t := b.table(dataset)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ChunkSetRecord
	for _, c := range t.chunks {
		if c.Partition.String() == key.String() {
			out = append(out, c)
		}
	}
	return out
}
