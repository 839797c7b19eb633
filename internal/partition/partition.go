// Package partition implements the in-memory residency of one time series
// on one shard: a mutable write-buffer set accepting appends, and an
// ordered, immutable list of sealed ChunkSets. It generalizes the
// teacher's internal/chunk/memory.Manager (state machine, doAppend,
// sealLocked, FindStartPosition binary search) from a single raw/attrs
// record stream to N typed value columns sealed together per flush.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"chronocore/internal/block"
	"chronocore/internal/codec"
	"chronocore/internal/logging"
	"chronocore/internal/schema"
)

var (
	// ErrOutOfOrderSample is returned (and the sample dropped) when an
	// ingested timestamp does not strictly exceed the partition's
	// last-ingested timestamp.
	ErrOutOfOrderSample = errors.New("partition: out-of-order sample")
	// ErrSchemaMismatch is returned (and the sample dropped) when a row's
	// value shape does not match the partition's schema.
	ErrSchemaMismatch = errors.New("partition: schema mismatch")
	// ErrChunkNotFound is returned when a chunk id is not resident.
	ErrChunkNotFound = errors.New("partition: chunk not found")

	errHistogramSchemeChanged = errors.New("partition: histogram bucket scheme changed")
)

// State is the lifecycle stage of a ChunkSet, per spec.md §4.2:
// Empty -> Filling -> Sealed -> Encoded -> Persisted -> Evictable.
type State int

const (
	StateEmpty State = iota
	StateFilling
	StateSealed
	StateEncoded
	StatePersisted
	StateEvictable
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFilling:
		return "filling"
	case StateSealed:
		return "sealed"
	case StateEncoded:
		return "encoded"
	case StatePersisted:
		return "persisted"
	case StateEvictable:
		return "evictable"
	default:
		return "unknown"
	}
}

// ChunkInfo is the small header shared by every column chunk produced
// together in one flush.
type ChunkInfo struct {
	ChunkID       codec.ChunkID
	StartTime     int64 // user time, inclusive
	EndTime       int64 // user time, inclusive
	IngestionTime int64
	NumRows       int64
}

// HistogramSample is the value carried in Row.Values for a histogram
// column: the bucket scheme in effect plus the cumulative count per
// bucket. A scheme change from one ingested row to the next forces the
// partition to seal the current chunk and open a new one, matching
// spec.md §4.1's "schema may change across chunks within a partition."
type HistogramSample struct {
	UpperBounds []float64
	Counts      []float64
}

// Row is one ingested sample: a timestamp plus one value per schema value
// column, in schema.ValueColumns() order. Value dynamic types: float64 for
// ColumnDouble, HistogramSample for ColumnHistogram, string for
// ColumnUTF8, map[string]int64 for ColumnIntMap.
type Row struct {
	Timestamp int64
	Values    []any
}

// Pager is implemented by the remote-store client; Partition calls it when
// a read's time range reaches earlier than the partition's in-memory
// frontier, fulfilling the on-demand-paging requirement.
type Pager interface {
	PageChunks(ctx context.Context, key schema.PartitionKey, before int64) error
}

// FlushListener is invoked exactly once when a ChunkSet's persistence
// write (chunk bytes AND its remote index row) both succeed.
type FlushListener func(ChunkInfo)

// columnReader is the common shape of a decoded value-column reader: just
// enough for the query/downsample layers, which type-assert to the
// concrete *codec.DoubleReader/*codec.HistogramReader/etc. they need.
type columnReader interface {
	Len() int64
}

// ChunkSet is a bundle of same-length column chunks produced by one flush,
// sharing a ChunkInfo. Reference-counted: Ref/Unref track in-flight
// readers so the block arena only reclaims bytes once nothing needs them.
type ChunkSet struct {
	Info ChunkInfo

	mu       sync.Mutex
	state    State
	colKinds []schema.ColumnType

	tsReader *codec.TimestampReader
	valCols  []columnReader // decoded, present while Sealed

	blockMgr *block.Manager
	handles  []block.Handle // present while Encoded/Persisted; ts first, then value columns
	refs     int64
}

// State returns the ChunkSet's current lifecycle stage.
func (c *ChunkSet) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Timestamps returns the chunk's decoded timestamp reader, rehydrating
// from the block arena if the chunk has been encoded into compressed form.
func (c *ChunkSet) Timestamps() (*codec.TimestampReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tsReader != nil {
		return c.tsReader, nil
	}
	if c.blockMgr == nil || len(c.handles) == 0 {
		return nil, ErrChunkNotFound
	}
	raw, err := c.blockMgr.Read(c.handles[0])
	if err != nil {
		return nil, err
	}
	return codec.DecodeTimestamps(raw)
}

// ValueColumn returns the decoded reader for value column idx (0-based
// among schema.ValueColumns()), rehydrating from the block arena on demand.
func (c *ChunkSet) ValueColumn(idx int) (columnReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.colKinds) {
		return nil, ErrChunkNotFound
	}
	if c.valCols != nil {
		return c.valCols[idx], nil
	}
	if c.blockMgr == nil || idx+1 >= len(c.handles) {
		return nil, ErrChunkNotFound
	}
	raw, err := c.blockMgr.Read(c.handles[idx+1])
	if err != nil {
		return nil, err
	}
	return decodeColumn(c.colKinds[idx], raw)
}

// Ref increments the ChunkSet's reader refcount.
func (c *ChunkSet) Ref() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

// Unref decrements the ChunkSet's reader refcount, releasing its block
// handles once it reaches zero and the chunk has been marked Evictable.
func (c *ChunkSet) Unref() {
	c.mu.Lock()
	c.refs--
	refs := c.refs
	evictable := c.state == StateEvictable
	handles := c.handles
	mgr := c.blockMgr
	c.mu.Unlock()
	if refs <= 0 && evictable && mgr != nil {
		for _, h := range handles {
			_ = mgr.Unref(h)
		}
	}
}

// RawColumns returns the chunk's raw encoded column bytes, timestamp
// first then value columns in schema order, for handing to a remote
// sink. Only valid once the chunk has reached the Encoded state (the
// shard's flush path always calls SwitchBuffers(true) before a chunk is
// offered to a sink), since that is when the block arena holds the
// pre-decompression bytes this method reads back out.
func (c *ChunkSet) RawColumns() ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockMgr == nil || len(c.handles) == 0 {
		return nil, ErrChunkNotFound
	}
	out := make([][]byte, len(c.handles))
	for i, h := range c.handles {
		raw, err := c.blockMgr.Read(h)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func decodeColumn(kind schema.ColumnType, raw []byte) (columnReader, error) {
	switch kind {
	case schema.ColumnDouble:
		return codec.DecodeDoubles(raw)
	case schema.ColumnHistogram:
		return codec.DecodeHistogram(raw)
	case schema.ColumnUTF8:
		return codec.DecodeUTF8(raw)
	case schema.ColumnIntMap:
		return codec.DecodeIntMap(raw)
	default:
		return nil, fmt.Errorf("partition: unsupported column type %v", kind)
	}
}

// Config configures a Partition.
type Config struct {
	Now      func() time.Time
	BlockMgr *block.Manager
	Pager    Pager
	Logger   *slog.Logger
}

// Partition is the in-memory residency of one series on one shard.
type Partition struct {
	mu  sync.RWMutex
	key schema.PartitionKey
	sch schema.Schema
	cfg Config

	// write buffer (Filling state)
	tsEnc      *codec.TimestampEncoder
	valEncs    []columnWriter
	haveLastTS bool
	lastTS     int64
	ingestLo   int64
	ingestHi   int64

	chunkSets     []*ChunkSet
	colKinds      []schema.ColumnType
	flushListener FlushListener

	// pageGroup collapses concurrent on-demand-paging requests against
	// the same partition into a single call to cfg.Pager.
	pageGroup singleflight.Group

	logger *slog.Logger
}

type columnWriter interface {
	append(v any) error
	bytes() []byte
	len() int64
}

// New creates a Partition for key under schema sch.
func New(key schema.PartitionKey, sch schema.Schema, cfg Config) *Partition {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	kinds := make([]schema.ColumnType, 0, len(sch.ValueColumns()))
	for _, c := range sch.ValueColumns() {
		kinds = append(kinds, c.Type)
	}
	return &Partition{
		key:      key,
		sch:      sch,
		cfg:      cfg,
		colKinds: kinds,
		logger:   logging.Default(cfg.Logger).With("component", "partition"),
	}
}

// Key returns the partition's identity.
func (p *Partition) Key() schema.PartitionKey { return p.key }

func newColumnWriter(kind schema.ColumnType) (columnWriter, error) {
	switch kind {
	case schema.ColumnDouble:
		return &doubleWriter{enc: codec.NewDoubleEncoder()}, nil
	case schema.ColumnHistogram:
		return &histogramWriter{}, nil
	case schema.ColumnUTF8:
		return &utf8Writer{enc: codec.NewUTF8Encoder()}, nil
	case schema.ColumnIntMap:
		return &intMapWriter{enc: codec.NewIntMapEncoder()}, nil
	default:
		return nil, fmt.Errorf("partition: unsupported column type %v", kind)
	}
}

type doubleWriter struct{ enc *codec.DoubleEncoder }

func (w *doubleWriter) append(v any) error {
	f, ok := v.(float64)
	if !ok {
		return ErrSchemaMismatch
	}
	w.enc.Append(f)
	return nil
}
func (w *doubleWriter) bytes() []byte { return w.enc.Bytes() }
func (w *doubleWriter) len() int64    { return w.enc.Len() }

// histogramWriter locks in its bucket scheme from the first sample it
// sees; a later sample with a different scheme is reported via
// errHistogramSchemeChanged so Partition.Ingest can seal the current
// buffer and open a fresh one before re-appending the row.
type histogramWriter struct {
	enc    *codec.HistogramEncoder
	scheme []float64
}

func (w *histogramWriter) append(v any) error {
	hs, ok := v.(HistogramSample)
	if !ok {
		return ErrSchemaMismatch
	}
	if w.enc == nil {
		w.scheme = append([]float64{}, hs.UpperBounds...)
		w.enc = codec.NewHistogramEncoder(codec.HistogramScheme{UpperBounds: w.scheme})
	} else if !schemeEqual(w.scheme, hs.UpperBounds) {
		return errHistogramSchemeChanged
	}
	w.enc.Append(hs.Counts)
	return nil
}
func (w *histogramWriter) bytes() []byte { return w.enc.Bytes() }
func (w *histogramWriter) len() int64 {
	if w.enc == nil {
		return 0
	}
	return w.enc.Len()
}

func schemeEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type utf8Writer struct{ enc *codec.UTF8Encoder }

func (w *utf8Writer) append(v any) error {
	s, ok := v.(string)
	if !ok {
		return ErrSchemaMismatch
	}
	w.enc.Append(s)
	return nil
}
func (w *utf8Writer) bytes() []byte { return w.enc.Bytes() }
func (w *utf8Writer) len() int64    { return w.enc.Len() }

type intMapWriter struct{ enc *codec.IntMapEncoder }

func (w *intMapWriter) append(v any) error {
	m, ok := v.(map[string]int64)
	if !ok {
		return ErrSchemaMismatch
	}
	w.enc.Append(m)
	return nil
}
func (w *intMapWriter) bytes() []byte { return w.enc.Bytes() }
func (w *intMapWriter) len() int64    { return w.enc.Len() }

// Ingest appends row to the write buffer, enforcing strictly increasing
// timestamps. Schema and ordering violations drop the sample and return a
// sentinel error for the caller to count, never panicking. A histogram
// bucket-scheme change transparently seals the current buffer first.
func (p *Partition) Ingest(row Row, ingestionTime int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ingestLocked(row, ingestionTime, true)
}

func (p *Partition) ingestLocked(row Row, ingestionTime int64, allowReopen bool) error {
	if p.haveLastTS && row.Timestamp <= p.lastTS {
		return ErrOutOfOrderSample
	}
	if len(row.Values) != len(p.colKinds) {
		return ErrSchemaMismatch
	}

	if p.tsEnc == nil {
		p.valEncs = make([]columnWriter, len(p.colKinds))
		for i, k := range p.colKinds {
			w, err := newColumnWriter(k)
			if err != nil {
				return err
			}
			p.valEncs[i] = w
		}
		p.tsEnc = codec.NewTimestampEncoder()
		p.ingestLo, p.ingestHi = ingestionTime, ingestionTime
	}

	for i, v := range row.Values {
		if err := p.valEncs[i].append(v); err != nil {
			if errors.Is(err, errHistogramSchemeChanged) && allowReopen {
				if _, sealErr := p.switchBuffersLocked(false); sealErr != nil {
					return sealErr
				}
				return p.ingestLocked(row, ingestionTime, false)
			}
			return err
		}
	}
	p.tsEnc.Append(row.Timestamp)
	p.lastTS = row.Timestamp
	p.haveLastTS = true
	if ingestionTime < p.ingestLo {
		p.ingestLo = ingestionTime
	}
	if ingestionTime > p.ingestHi {
		p.ingestHi = ingestionTime
	}
	return nil
}

// SwitchBuffers seals the current write buffer. If encode is true and the
// partition has a BlockMgr, the sealed columns are also compressed and
// copied into block memory, advancing straight to the Encoded state;
// otherwise (encode false, or no BlockMgr) the chunk stays in the Sealed
// state with decoded readers held directly in heap memory.
// Returns nil, nil if the write buffer was empty. Safe to call while
// concurrent reads are in progress.
func (p *Partition) SwitchBuffers(encode bool) (*ChunkSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.switchBuffersLocked(encode)
}

func (p *Partition) switchBuffersLocked(encode bool) (*ChunkSet, error) {
	if p.tsEnc == nil || p.tsEnc.Len() == 0 {
		return nil, nil
	}

	tsReader, err := codec.DecodeTimestamps(p.tsEnc.Bytes())
	if err != nil {
		return nil, err
	}
	startTS, _ := tsReader.Apply(0)
	endTS, _ := tsReader.Apply(tsReader.Len() - 1)

	valReaders := make([]columnReader, len(p.valEncs))
	for i, w := range p.valEncs {
		r, err := decodeColumn(p.colKinds[i], w.bytes())
		if err != nil {
			return nil, err
		}
		valReaders[i] = r
	}

	info := ChunkInfo{
		ChunkID:       codec.NewChunkID(),
		StartTime:     startTS,
		EndTime:       endTS,
		IngestionTime: p.ingestLo,
		NumRows:       p.tsEnc.Len(),
	}

	cs := &ChunkSet{Info: info, state: StateSealed, colKinds: p.colKinds, tsReader: tsReader, valCols: valReaders}

	if encode && p.cfg.BlockMgr != nil {
		handles := make([]block.Handle, 0, len(p.valEncs)+1)
		tsHandle, err := p.cfg.BlockMgr.Store(p.tsEnc.Bytes())
		if err != nil {
			return nil, err
		}
		handles = append(handles, tsHandle)
		for _, w := range p.valEncs {
			h, err := p.cfg.BlockMgr.Store(w.bytes())
			if err != nil {
				return nil, err
			}
			handles = append(handles, h)
		}
		cs.blockMgr = p.cfg.BlockMgr
		cs.handles = handles
		cs.state = StateEncoded
		cs.tsReader = nil
		cs.valCols = nil
	}

	p.chunkSets = append(p.chunkSets, cs)
	p.tsEnc = nil
	p.valEncs = nil

	p.logger.Debug("sealed chunk", "chunk", info.ChunkID.String(), "rows", info.NumRows, "encoded", encode)
	return cs, nil
}

// Reader returns the ChunkSets overlapping [start, end], oldest first. If
// start reaches earlier than the oldest in-memory chunk, an on-demand
// paging request is issued to the configured Pager before chunks are
// returned, per the §4.2 on-demand-paging requirement. Concurrent Reader
// calls that land on the same cold partition share a single in-flight
// paging request via pageGroup.
func (p *Partition) Reader(ctx context.Context, start, end int64) ([]*ChunkSet, error) {
	p.mu.RLock()
	chunkSets := append([]*ChunkSet{}, p.chunkSets...)
	p.mu.RUnlock()

	if len(chunkSets) > 0 && start < chunkSets[0].Info.StartTime && p.cfg.Pager != nil {
		before := chunkSets[0].Info.StartTime
		_, err, _ := p.pageGroup.Do(strconv.FormatInt(before, 10), func() (any, error) {
			return nil, p.cfg.Pager.PageChunks(ctx, p.key, before)
		})
		if err != nil {
			return nil, err
		}
		p.mu.RLock()
		chunkSets = append([]*ChunkSet{}, p.chunkSets...)
		p.mu.RUnlock()
	}

	out := make([]*ChunkSet, 0, len(chunkSets))
	for _, cs := range chunkSets {
		if cs.Info.EndTime >= start && cs.Info.StartTime <= end {
			out = append(out, cs)
		}
	}
	return out, nil
}

// InvokeFlushListener fires the partition's single-shot flush callback for
// the given chunk, marking it Persisted. Safe to call exactly once per
// chunk; subsequent calls for the same chunk are no-ops.
func (p *Partition) InvokeFlushListener(info ChunkInfo) {
	p.mu.Lock()
	var cs *ChunkSet
	for _, c := range p.chunkSets {
		if c.Info.ChunkID == info.ChunkID {
			cs = c
			break
		}
	}
	listener := p.flushListener
	p.mu.Unlock()

	if cs == nil {
		return
	}
	cs.mu.Lock()
	if cs.state == StatePersisted {
		cs.mu.Unlock()
		return
	}
	cs.state = StatePersisted
	cs.mu.Unlock()

	if listener != nil {
		listener(info)
	}
}

// SetFlushListener registers the single-shot flush callback.
func (p *Partition) SetFlushListener(l FlushListener) {
	p.mu.Lock()
	p.flushListener = l
	p.mu.Unlock()
}

// MarkEvictable transitions a persisted chunk to Evictable, so its next
// Unref to zero releases block memory; the caller (the shard's eviction
// policy) remains responsible for deciding when to do this.
func (p *Partition) MarkEvictable(id codec.ChunkID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cs := range p.chunkSets {
		if cs.Info.ChunkID == id {
			cs.mu.Lock()
			if cs.state != StatePersisted {
				cs.mu.Unlock()
				return fmt.Errorf("partition: chunk %s not persisted", id)
			}
			cs.state = StateEvictable
			cs.mu.Unlock()
			return nil
		}
	}
	return ErrChunkNotFound
}

// LastIngested returns the last-ingested timestamp and whether any sample
// has been ingested yet.
func (p *Partition) LastIngested() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastTS, p.haveLastTS
}

// ChunkCount returns the number of sealed ChunkSets resident in memory.
func (p *Partition) ChunkCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.chunkSets)
}
