package exec

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"chronocore/internal/codec"
	"chronocore/internal/memstore"
	"chronocore/internal/partition"
	"chronocore/internal/rangevector"
	"chronocore/internal/schema"
	"chronocore/internal/shard"
)

// SelectRawPartitionsExec is the leaf node reading raw samples out of one
// shard of the memstore: it asks the shard's inverted index for
// partitions matching Filters, then opens each matched partition's
// chunks overlapping [Start-MaxChunkTime, End), decoding Column into one
// RangeVector per partition. Grounded on internal/memstore.Store.Scan's
// shard-walk, narrowed to label-filtered partitions the way
// internal/shard.Shard.Query already resolves them.
type SelectRawPartitionsExec struct {
	Dataset      string
	ShardIndex   int
	Filters      []shard.LabelFilter
	Column       string
	Start, End   int64
	MaxChunkTime time.Duration
}

func (e *SelectRawPartitionsExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}

	ds, err := store.Dataset(e.Dataset)
	if err != nil {
		return rangevector.ResultSchema{}, nil, &QueryError{Err: err}
	}
	valueIdx := -1
	for i, c := range ds.Schema.ValueColumns() {
		if c.Name == e.Column {
			valueIdx = i
			break
		}
	}
	if valueIdx < 0 {
		return rangevector.ResultSchema{}, nil, &QueryError{Err: schema.ErrUndefinedColumn}
	}

	sh, err := store.Shard(e.Dataset, e.ShardIndex)
	if err != nil {
		return rangevector.ResultSchema{}, nil, &QueryError{Err: err}
	}
	sh.CommitIndex()
	partitions := sh.Query(e.Filters)

	readStart := e.Start - int64(e.MaxChunkTime/time.Millisecond)

	var out []rangevector.RangeVector
	for _, p := range partitions {
		select {
		case <-ctx.Done():
			return rangevector.ResultSchema{}, nil, &QueryError{Err: ctx.Err()}
		default:
		}
		rv, err := e.readPartition(ctx, p, valueIdx, readStart, ds.Schema)
		if err != nil {
			return rangevector.ResultSchema{}, nil, &QueryError{Err: err}
		}
		if rv == nil {
			continue
		}
		if err := session.chargeSamples(int64(len(rv.Samples))); err != nil {
			return rangevector.ResultSchema{}, nil, err
		}
		out = append(out, *rv)
	}
	return rangevector.ResultSchema{}, out, nil
}

func (e *SelectRawPartitionsExec) readPartition(ctx context.Context, p *partition.Partition, valueIdx int, readStart int64, sch schema.Schema) (*rangevector.RangeVector, error) {
	chunkSets, err := p.Reader(ctx, readStart, e.End)
	if err != nil {
		return nil, err
	}
	labels, err := schema.Labels(p.Key(), sch.PartitionKeyColumns())
	if err != nil {
		return nil, err
	}

	var samples []rangevector.Sample
	for _, cs := range chunkSets {
		ts, err := cs.Timestamps()
		if err != nil {
			return nil, err
		}
		col, err := cs.ValueColumn(valueIdx)
		if err != nil {
			return nil, err
		}
		doubles, ok := col.(*codec.DoubleReader)
		if !ok {
			continue
		}
		n := ts.Len()
		for row := int64(0); row < n; row++ {
			tsVal, err := ts.Apply(row)
			if err != nil {
				return nil, err
			}
			if tsVal < e.Start || tsVal >= e.End {
				continue
			}
			v, err := doubles.Apply(row)
			if err != nil {
				return nil, err
			}
			samples = append(samples, rangevector.Sample{Timestamp: tsVal, Value: v})
		}
	}
	if samples == nil {
		return nil, nil
	}
	return &rangevector.RangeVector{Labels: labels, Samples: samples}, nil
}

// LocalPartitionDistConcatExec fans a leaf plan out across every shard of
// a dataset and concatenates their results, the node the planner inserts
// above a per-shard SelectRawPartitionsExec set.
type LocalPartitionDistConcatExec struct {
	Children []ExecPlan
}

// Execute runs every shard's child plan concurrently via errgroup, since
// each targets a disjoint shard and shares no mutable state, then
// concatenates their vectors in shard order.
func (e *LocalPartitionDistConcatExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	schemas := make([]rangevector.ResultSchema, len(e.Children))
	vectors := make([][]rangevector.RangeVector, len(e.Children))

	g, gctx := errgroup.WithContext(ctx)
	for i, child := range e.Children {
		i, child := i, child
		g.Go(func() error {
			s, v, err := child.Execute(gctx, store, session, now)
			if err != nil {
				return err
			}
			schemas[i] = s
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}

	resultSchema, err := checkSchemas(schemas...)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	var out []rangevector.RangeVector
	for _, v := range vectors {
		out = append(out, v...)
	}
	return resultSchema, out, nil
}
