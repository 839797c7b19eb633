package exec

import (
	"context"
	"math"
	"sort"
	"time"

	"chronocore/internal/memstore"
	"chronocore/internal/rangevector"
)

// PeriodicSamplesMapperExec wraps Child with a range function evaluated
// at every step of Start:Step:End, looking back Window at each step.
type PeriodicSamplesMapperExec struct {
	Child                  ExecPlan
	Start, Step, End, Window int64
	Fn                     rangevector.RangeFunc
}

func (e *PeriodicSamplesMapperExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, vectors, err := e.Child.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	out := make([]rangevector.RangeVector, 0, len(vectors))
	for _, rv := range vectors {
		out = append(out, rangevector.PeriodicSamplesMapper(rv, e.Start, e.Step, e.End, e.Window, e.Fn))
	}
	if err := session.chargeSamples(countSamples(out)); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	return rangevector.ResultSchema{}, out, nil
}

// ReduceAggregateExec executes every ShardLevel child, groups the combined
// series by By/Without (neither set: one group), and reduces each group's
// samples per timestamp with a fresh accumulator for Op. It aggregates the
// children's raw samples rather than merging per-shard partial
// accumulators, so the result does not depend on how many ShardLevel
// children feed it.
type ReduceAggregateExec struct {
	ShardLevel []ExecPlan
	Op         string
	By         []string
	Without    []string
}

func (e *ReduceAggregateExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}

	var allVectors []rangevector.RangeVector
	for _, child := range e.ShardLevel {
		_, vectors, err := child.Execute(ctx, store, session, now)
		if err != nil {
			return rangevector.ResultSchema{}, nil, err
		}
		allVectors = append(allVectors, vectors...)
	}

	groupKey := func(labels map[string]string) (string, map[string]string) {
		projected := map[string]string{}
		var key string
		switch {
		case len(e.By) > 0:
			for _, n := range e.By {
				if v, ok := labels[n]; ok {
					projected[n] = v
				}
			}
			key = rangevector.JoinKey(labels, e.By, nil)
		case len(e.Without) > 0:
			dropSet := map[string]bool{}
			for _, n := range e.Without {
				dropSet[n] = true
			}
			for k, v := range labels {
				if !dropSet[k] {
					projected[k] = v
				}
			}
			key = rangevector.JoinKey(labels, nil, e.Without)
		default:
			// Neither By nor Without: collapse every series into one group.
			key = "\x00all\x00"
		}
		return key, projected
	}

	type groupState struct {
		labels map[string]string
		byTS   map[int64]rangevector.Accumulator
	}
	groups := map[string]*groupState{}
	var order []string

	for _, rv := range allVectors {
		key, labels := groupKey(rv.Labels)
		gs, ok := groups[key]
		if !ok {
			gs = &groupState{labels: labels, byTS: map[int64]rangevector.Accumulator{}}
			groups[key] = gs
			order = append(order, key)
		}
		for _, s := range rv.Samples {
			acc, ok := gs.byTS[s.Timestamp]
			if !ok {
				acc = rangevector.NewAccumulator(e.Op)
				gs.byTS[s.Timestamp] = acc
			}
			if !math.IsNaN(s.Value) {
				acc.Add(s.Value)
			}
		}
	}

	out := make([]rangevector.RangeVector, 0, len(order))
	for _, key := range order {
		gs := groups[key]
		timestamps := make([]int64, 0, len(gs.byTS))
		for ts := range gs.byTS {
			timestamps = append(timestamps, ts)
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
		samples := make([]rangevector.Sample, 0, len(timestamps))
		for _, ts := range timestamps {
			samples = append(samples, rangevector.Sample{Timestamp: ts, Value: gs.byTS[ts].Result()})
		}
		out = append(out, rangevector.RangeVector{Labels: gs.labels, Samples: samples})
	}

	if err := session.chargeSamples(countSamples(out)); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	return rangevector.ResultSchema{}, out, nil
}

// BinaryJoinExec materializes both children and joins them per
// rangevector.BinaryJoin's cardinality rules.
type BinaryJoinExec struct {
	LHS, RHS ExecPlan
	Config   rangevector.BinaryJoinConfig
}

func (e *BinaryJoinExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, lhs, err := e.LHS.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, rhs, err := e.RHS.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	out, err := rangevector.BinaryJoin(lhs, rhs, e.Config)
	if err != nil {
		return rangevector.ResultSchema{}, nil, &QueryError{Err: err}
	}
	if err := session.chargeSamples(countSamples(out)); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	return rangevector.ResultSchema{}, out, nil
}

// SetOperatorExec applies AND/OR/UNLESS between two materialized
// children.
type SetOperatorExec struct {
	LHS, RHS       ExecPlan
	Op             rangevector.SetOp
	On, Ignoring   []string
}

func (e *SetOperatorExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, lhs, err := e.LHS.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, rhs, err := e.RHS.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	out := rangevector.SetOperator(lhs, rhs, e.Op, e.On, e.Ignoring)
	if err := session.chargeSamples(countSamples(out)); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	return rangevector.ResultSchema{}, out, nil
}

// ScalarVectorBinaryOperationExec broadcasts a scalar across every sample
// of a vector child, applying Op per-timestamp.
type ScalarVectorBinaryOperationExec struct {
	Scalar       float64
	Vector       ExecPlan
	Op           func(l, r float64) float64
	ScalarOnLeft bool
}

func (e *ScalarVectorBinaryOperationExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	resultSchema, vectors, err := e.Vector.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	out := make([]rangevector.RangeVector, 0, len(vectors))
	for _, rv := range vectors {
		clone := rv.Clone()
		for i, s := range clone.Samples {
			if e.ScalarOnLeft {
				clone.Samples[i].Value = e.Op(e.Scalar, s.Value)
			} else {
				clone.Samples[i].Value = e.Op(s.Value, e.Scalar)
			}
		}
		out = append(out, clone)
	}
	return resultSchema, out, nil
}

// ApplySortExec sorts the fully materialized result set by its last
// sample's value, one of the buffering points the design notes call out
// (sort needs the whole stream before it can emit anything).
type ApplySortExec struct {
	Child      ExecPlan
	Descending bool
}

func (e *ApplySortExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	resultSchema, vectors, err := e.Child.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	lastValue := func(rv rangevector.RangeVector) float64 {
		if len(rv.Samples) == 0 {
			return math.NaN()
		}
		return rv.Samples[len(rv.Samples)-1].Value
	}
	sort.SliceStable(vectors, func(i, j int) bool {
		if e.Descending {
			return lastValue(vectors[i]) > lastValue(vectors[j])
		}
		return lastValue(vectors[i]) < lastValue(vectors[j])
	})
	return resultSchema, vectors, nil
}

// ApplyAbsentExec is another full-stream buffering point: it can only
// decide whether the selector matched nothing once every child result has
// arrived. On an empty child it synthesizes a single series valued 1 at
// every timestamp of Start:Step:End; otherwise it returns no series.
type ApplyAbsentExec struct {
	Child            ExecPlan
	Start, Step, End int64
	Labels           map[string]string
}

func (e *ApplyAbsentExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, vectors, err := e.Child.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	if len(vectors) > 0 {
		return rangevector.ResultSchema{}, nil, nil
	}
	var samples []rangevector.Sample
	for t := e.Start; t <= e.End; t += e.Step {
		samples = append(samples, rangevector.Sample{Timestamp: t, Value: 1})
	}
	return rangevector.ResultSchema{}, []rangevector.RangeVector{{Labels: e.Labels, Samples: samples}}, nil
}

// HistogramQuantileExec buffers its child's bucket series (it must see
// every "le" bucket for a group before it can interpolate a quantile) and
// emits one series per non-le label group.
type HistogramQuantileExec struct {
	Child ExecPlan
	P     float64
	Binds func(vectors []rangevector.RangeVector) []rangevector.BucketSeries
}

func (e *HistogramQuantileExec) Execute(ctx context.Context, store *memstore.Store, session *QuerySession, now func() time.Time) (rangevector.ResultSchema, []rangevector.RangeVector, error) {
	if err := session.checkDeadline(now()); err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	_, vectors, err := e.Child.Execute(ctx, store, session, now)
	if err != nil {
		return rangevector.ResultSchema{}, nil, err
	}
	buckets := e.Binds(vectors)
	out := rangevector.HistogramQuantileMapper(e.P, buckets)
	return rangevector.ResultSchema{}, out, nil
}
