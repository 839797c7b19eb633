// Package planner turns a logical.VectorPlan into an exec.ExecPlan tree,
// per the materialization rules: a leaf fans out across every shard of
// its dataset under a LocalPartitionDistConcatExec, Periodic nodes wrap
// their raw child with a PeriodicSamplesMapperExec, Aggregate wraps its
// materialized inner plan in a ReduceAggregateExec, and BinaryJoin/set
// operators gather both sides before combining them. Grounded on
// query/plan.go's Explain-trail shape, generalized from "per-chunk scan
// plan" to "per-node exec plan."
package planner

import (
	"fmt"
	"math"
	"time"

	"chronocore/internal/exec"
	"chronocore/internal/logical"
	"chronocore/internal/memstore"
	"chronocore/internal/rangevector"
)

// ErrUnsupportedNode is returned for a logical node this planner does not
// (yet) materialize — see DESIGN.md's internal/planner entry for the
// node types this covers and why each was scoped out.
type ErrUnsupportedNode struct{ Node string }

func (e *ErrUnsupportedNode) Error() string {
	return fmt.Sprintf("planner: unsupported node %s", e.Node)
}

// Options configures a Materialize call: the dataset a query's RawSeries
// leaves resolve against, and the lookback buffer leaf reads widen their
// chunk scan by.
type Options struct {
	Dataset      string
	MaxChunkTime time.Duration
}

// Materialize translates plan into an executable ExecPlan tree.
func Materialize(plan *logical.VectorPlan, store *memstore.Store, opts Options) (exec.ExecPlan, error) {
	return materialize(plan.Root, store, opts)
}

func materialize(e logical.Expr, store *memstore.Store, opts Options) (exec.ExecPlan, error) {
	switch n := e.(type) {
	case *logical.RawSeries:
		return materializeRawSeries(n, store, opts)
	case *logical.PeriodicSeries:
		raw, ok := n.Raw.(*logical.RawSeries)
		if !ok {
			return nil, &ErrUnsupportedNode{Node: "PeriodicSeries over non-RawSeries"}
		}
		leaf, err := materializeRawSeries(raw, store, opts)
		if err != nil {
			return nil, err
		}
		return &exec.PeriodicSamplesMapperExec{
			Child: leaf, Start: n.Start, Step: n.Step, End: n.End, Window: n.Step,
			Fn: lastSampleInWindow,
		}, nil
	case *logical.PeriodicSeriesWithWindowing:
		raw, ok := n.Raw.(*logical.RawSeries)
		if !ok {
			return nil, &ErrUnsupportedNode{Node: "PeriodicSeriesWithWindowing over non-RawSeries"}
		}
		leaf, err := materializeRawSeries(raw, store, opts)
		if err != nil {
			return nil, err
		}
		fn, err := resolveRangeFunc(n.RangeFunction, n.Args)
		if err != nil {
			return nil, err
		}
		return &exec.PeriodicSamplesMapperExec{
			Child: leaf, Start: n.Start, Step: n.Step, End: n.End, Window: n.Window, Fn: fn,
		}, nil
	case *logical.Aggregate:
		inner, err := materialize(n.Inner, store, opts)
		if err != nil {
			return nil, err
		}
		return materializeAggregate(n, inner)
	case *logical.BinaryJoin:
		return materializeBinaryJoin(n, store, opts)
	case *logical.ScalarVectorBinaryOperation:
		return materializeScalarVectorOp(n, store, opts)
	case *logical.ApplySortFunction:
		inner, err := materialize(n.Inner, store, opts)
		if err != nil {
			return nil, err
		}
		return &exec.ApplySortExec{Child: inner, Descending: n.Descending}, nil
	case *logical.ApplyAbsentFunction:
		inner, err := materialize(n.Inner, store, opts)
		if err != nil {
			return nil, err
		}
		abs := &exec.ApplyAbsentExec{Child: inner, Labels: map[string]string{}}
		switch p := n.Inner.(type) {
		case *logical.PeriodicSeries:
			abs.Start, abs.Step, abs.End = p.Start, p.Step, p.End
		case *logical.PeriodicSeriesWithWindowing:
			abs.Start, abs.Step, abs.End = p.Start, p.Step, p.End
		default:
			return nil, &ErrUnsupportedNode{Node: "ApplyAbsentFunction over a non-periodic series"}
		}
		return abs, nil
	default:
		return nil, &ErrUnsupportedNode{Node: fmt.Sprintf("%T", e)}
	}
}

func materializeRawSeries(n *logical.RawSeries, store *memstore.Store, opts Options) (exec.ExecPlan, error) {
	dataset := n.Selector
	if dataset == "" {
		dataset = opts.Dataset
	}
	numShards, err := store.NumShards(dataset)
	if err != nil {
		return nil, err
	}
	column := "value"
	if len(n.Columns) > 0 {
		column = n.Columns[0]
	}
	children := make([]exec.ExecPlan, numShards)
	for i := 0; i < numShards; i++ {
		children[i] = &exec.SelectRawPartitionsExec{
			Dataset: dataset, ShardIndex: i, Filters: n.Filters, Column: column,
			Start: n.Start, End: n.End, MaxChunkTime: opts.MaxChunkTime,
		}
	}
	return &exec.LocalPartitionDistConcatExec{Children: children}, nil
}

// lastSampleInWindow implements PeriodicSeries' "no lookback, last value
// at or before the step" semantics as a rangevector.RangeFunc.
func lastSampleInWindow(window []rangevector.Sample, _, _ int64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	return window[len(window)-1].Value
}

func resolveRangeFunc(name string, args []logical.Expr) (rangevector.RangeFunc, error) {
	if name == "quantile_over_time" {
		p, err := constScalarArg(args, 0)
		if err != nil {
			return nil, err
		}
		return func(window []rangevector.Sample, _, _ int64) float64 {
			return rangevector.QuantileOverTime(p, window)
		}, nil
	}
	fn, ok := rangevector.RangeFuncs[name]
	if !ok || fn == nil {
		return nil, &ErrUnsupportedNode{Node: "range function " + name}
	}
	return fn, nil
}

func constScalarArg(args []logical.Expr, i int) (float64, error) {
	if i >= len(args) {
		return 0, &ErrUnsupportedNode{Node: "missing scalar argument"}
	}
	fixed, ok := args[i].(*logical.ScalarFixedDouble)
	if !ok {
		return 0, &ErrUnsupportedNode{Node: "non-constant scalar argument"}
	}
	return fixed.Value, nil
}

func materializeAggregate(n *logical.Aggregate, inner exec.ExecPlan) (exec.ExecPlan, error) {
	switch n.Op {
	case logical.AggSum, logical.AggAvg, logical.AggMin, logical.AggMax, logical.AggCount,
		logical.AggStddev, logical.AggStdvar, logical.AggGroup:
		return &exec.ReduceAggregateExec{
			ShardLevel: []exec.ExecPlan{inner},
			Op:         n.Op.String(),
			By:         n.By,
			Without:    n.Without,
		}, nil
	default:
		// topk/bottomk/quantile/count_values need the whole vector set at
		// once per evaluation step rather than an associative per-sample
		// merge; out of scope for this planner (see DESIGN.md).
		return nil, &ErrUnsupportedNode{Node: "Aggregate(" + n.Op.String() + ")"}
	}
}

func materializeBinaryJoin(n *logical.BinaryJoin, store *memstore.Store, opts Options) (exec.ExecPlan, error) {
	lhs, err := materialize(n.LHS, store, opts)
	if err != nil {
		return nil, err
	}
	rhs, err := materialize(n.RHS, store, opts)
	if err != nil {
		return nil, err
	}
	if n.Op.IsSetOp() {
		setOp := rangevector.SetAnd
		switch n.Op {
		case logical.BinOr:
			setOp = rangevector.SetOr
		case logical.BinUnless:
			setOp = rangevector.SetUnless
		}
		return &exec.SetOperatorExec{LHS: lhs, RHS: rhs, Op: setOp, On: n.On, Ignoring: n.Ignoring}, nil
	}
	opFn, err := binaryOpFunc(n.Op)
	if err != nil {
		return nil, err
	}
	return &exec.BinaryJoinExec{
		LHS: lhs, RHS: rhs,
		Config: rangevector.BinaryJoinConfig{
			On: n.On, Ignoring: n.Ignoring, Include: n.Include,
			OneToMany: n.Cardinality == logical.CardOneToMany,
			ManyToOne: n.Cardinality == logical.CardManyToOne,
			Op:        opFn,
		},
	}, nil
}

func materializeScalarVectorOp(n *logical.ScalarVectorBinaryOperation, store *memstore.Store, opts Options) (exec.ExecPlan, error) {
	fixed, ok := n.Scalar.(*logical.ScalarFixedDouble)
	if !ok {
		return nil, &ErrUnsupportedNode{Node: "ScalarVectorBinaryOperation with non-constant scalar"}
	}
	vector, err := materialize(n.Vector, store, opts)
	if err != nil {
		return nil, err
	}
	opFn, err := binaryOpFunc(n.Op)
	if err != nil {
		return nil, err
	}
	return &exec.ScalarVectorBinaryOperationExec{
		Scalar: fixed.Value, Vector: vector, Op: opFn, ScalarOnLeft: n.ScalarOnLeft,
	}, nil
}

func binaryOpFunc(op logical.BinaryOp) (func(l, r float64) float64, error) {
	switch op {
	case logical.BinAdd:
		return func(l, r float64) float64 { return l + r }, nil
	case logical.BinSub:
		return func(l, r float64) float64 { return l - r }, nil
	case logical.BinMul:
		return func(l, r float64) float64 { return l * r }, nil
	case logical.BinDiv:
		return func(l, r float64) float64 { return l / r }, nil
	case logical.BinMod:
		return func(l, r float64) float64 { return math.Mod(l, r) }, nil
	case logical.BinPow:
		return func(l, r float64) float64 { return math.Pow(l, r) }, nil
	case logical.BinEQ:
		return boolOp(func(l, r float64) bool { return l == r }), nil
	case logical.BinNE:
		return boolOp(func(l, r float64) bool { return l != r }), nil
	case logical.BinGT:
		return boolOp(func(l, r float64) bool { return l > r }), nil
	case logical.BinLT:
		return boolOp(func(l, r float64) bool { return l < r }), nil
	case logical.BinGE:
		return boolOp(func(l, r float64) bool { return l >= r }), nil
	case logical.BinLE:
		return boolOp(func(l, r float64) bool { return l <= r }), nil
	default:
		return nil, &ErrUnsupportedNode{Node: "BinaryOp " + op.String()}
	}
}

func boolOp(cmp func(l, r float64) bool) func(l, r float64) float64 {
	return func(l, r float64) float64 {
		if cmp(l, r) {
			return 1
		}
		return 0
	}
}
