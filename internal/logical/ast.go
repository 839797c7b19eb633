// Package logical defines the query engine's logical plan: a tagged-variant
// tree describing what a query wants, independent of how it will be
// executed against shards. Grounded on querylang/ast.go +
// querylang/pipeline_ast.go's "sum type with a private marker method,
// walked by an exhaustive type switch" style, generalized from boolean
// filter expressions and pipe operators to time-series vector/scalar
// composition.
package logical

import (
	"fmt"

	"chronocore/internal/shard"
)

// Expr is the interface for every logical plan node, vector- or
// scalar-producing alike. The unexported marker method keeps the set of
// node types closed to this package.
type Expr interface {
	expr()
	String() string
}

// RawSeries selects raw chunk rows matching a selector and label filters,
// over [Start, End]. A leaf: its children is always empty.
type RawSeries struct {
	Selector string
	Filters  []shard.LabelFilter
	Columns  []string // value columns to read; nil means every value column
	Start    int64
	End      int64
}

func (*RawSeries) expr() {}

func (r *RawSeries) String() string {
	return fmt.Sprintf("RawSeries(%s, filters=%d, [%d,%d])", r.Selector, len(r.Filters), r.Start, r.End)
}

// RawChunkMeta selects chunk metadata (no row data) matching a selector and
// filters, for administrative/debug queries. A leaf.
type RawChunkMeta struct {
	Selector string
	Filters  []shard.LabelFilter
	Start    int64
	End      int64
}

func (*RawChunkMeta) expr() {}

func (r *RawChunkMeta) String() string {
	return fmt.Sprintf("RawChunkMeta(%s, filters=%d, [%d,%d])", r.Selector, len(r.Filters), r.Start, r.End)
}

// PeriodicSeries samples Raw at fixed steps from Start to End, with no
// lookback window (instant-at-step semantics).
type PeriodicSeries struct {
	Raw   Expr // *RawSeries
	Start int64
	Step  int64
	End   int64
}

func (*PeriodicSeries) expr() {}

func (p *PeriodicSeries) String() string {
	return fmt.Sprintf("PeriodicSeries(%s, start=%d, step=%d, end=%d)", p.Raw, p.Start, p.Step, p.End)
}

// PeriodicSeriesWithWindowing samples Raw at fixed steps, applying
// RangeFunction over the lookback window (t-Window, t] at each step.
type PeriodicSeriesWithWindowing struct {
	Raw           Expr // *RawSeries
	Start         int64
	Step          int64
	End           int64
	Window        int64
	RangeFunction string // "rate", "irate", "increase", "delta", "*_over_time", ...
	Args          []Expr // extra scalar args, e.g. quantile_over_time's p
}

func (*PeriodicSeriesWithWindowing) expr() {}

func (p *PeriodicSeriesWithWindowing) String() string {
	return fmt.Sprintf("PeriodicSeriesWithWindowing(%s, %s, window=%d, start=%d, step=%d, end=%d)",
		p.RangeFunction, p.Raw, p.Window, p.Start, p.Step, p.End)
}

// AggOp names a vector aggregation operator.
type AggOp int

const (
	AggSum AggOp = iota
	AggAvg
	AggMin
	AggMax
	AggCount
	AggStddev
	AggStdvar
	AggTopk
	AggBottomk
	AggQuantile
	AggCountValues
	AggGroup
)

func (op AggOp) String() string {
	switch op {
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggCount:
		return "count"
	case AggStddev:
		return "stddev"
	case AggStdvar:
		return "stdvar"
	case AggTopk:
		return "topk"
	case AggBottomk:
		return "bottomk"
	case AggQuantile:
		return "quantile"
	case AggCountValues:
		return "count_values"
	case AggGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Aggregate reduces Inner across its series, grouped by By (or every label
// except Without). At most one of By/Without is set; neither set means
// aggregate to a single series. Param carries topk/bottomk's k or
// quantile's p; ParamLabel carries count_values' output label name.
type Aggregate struct {
	Op         AggOp
	Inner      Expr
	By         []string
	Without    []string
	Param      float64
	ParamLabel string
}

func (*Aggregate) expr() {}

func (a *Aggregate) String() string {
	group := ""
	switch {
	case len(a.By) > 0:
		group = fmt.Sprintf(" by %v", a.By)
	case len(a.Without) > 0:
		group = fmt.Sprintf(" without %v", a.Without)
	}
	return fmt.Sprintf("Aggregate(%s%s, %s)", a.Op, group, a.Inner)
}

// BinaryOp names an arithmetic, comparison, or logical set operator.
type BinaryOp int

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinPow
	BinEQ
	BinNE
	BinGT
	BinLT
	BinGE
	BinLE
	BinAnd
	BinOr
	BinUnless
)

func (op BinaryOp) String() string {
	switch op {
	case BinAdd:
		return "+"
	case BinSub:
		return "-"
	case BinMul:
		return "*"
	case BinDiv:
		return "/"
	case BinMod:
		return "%"
	case BinPow:
		return "^"
	case BinEQ:
		return "=="
	case BinNE:
		return "!="
	case BinGT:
		return ">"
	case BinLT:
		return "<"
	case BinGE:
		return ">="
	case BinLE:
		return "<="
	case BinAnd:
		return "and"
	case BinOr:
		return "or"
	case BinUnless:
		return "unless"
	default:
		return "?"
	}
}

// IsSetOp reports whether op is AND/OR/UNLESS rather than an
// arithmetic/comparison operator.
func (op BinaryOp) IsSetOp() bool {
	return op == BinAnd || op == BinOr || op == BinUnless
}

// Cardinality names the join-key multiplicity rule for a BinaryJoin.
type Cardinality int

const (
	CardOneToOne Cardinality = iota
	CardOneToMany
	CardManyToOne
	CardManyToMany
)

// BinaryJoin combines two vector-producing expressions row-wise, matched by
// join key. On and Ignoring are mutually exclusive; Include names labels
// copied from the "one" side onto matched "many"-side results in a 1:N or
// N:1 join.
type BinaryJoin struct {
	LHS         Expr
	RHS         Expr
	Op          BinaryOp
	Cardinality Cardinality
	On          []string
	Ignoring    []string
	Include     []string
}

func (*BinaryJoin) expr() {}

func (b *BinaryJoin) String() string {
	return fmt.Sprintf("BinaryJoin(%s %s %s)", b.LHS, b.Op, b.RHS)
}

// ScalarVectorBinaryOperation applies Op between a scalar-producing
// expression and a vector-producing one, broadcasting the scalar across
// every series. ScalarOnLeft fixes which side Scalar occupies, since Op is
// not always commutative (e.g. subtraction, division).
type ScalarVectorBinaryOperation struct {
	Scalar       Expr
	Vector       Expr
	Op           BinaryOp
	ScalarOnLeft bool
}

func (*ScalarVectorBinaryOperation) expr() {}

func (s *ScalarVectorBinaryOperation) String() string {
	if s.ScalarOnLeft {
		return fmt.Sprintf("(%s %s %s)", s.Scalar, s.Op, s.Vector)
	}
	return fmt.Sprintf("(%s %s %s)", s.Vector, s.Op, s.Scalar)
}

// ApplyInstantFunction applies a pure, row-at-a-time function (abs, ceil,
// floor, round, clamp, clamp_min, clamp_max, exp, ln, log2, log10, sqrt) to
// every sample of Inner.
type ApplyInstantFunction struct {
	Inner    Expr
	Function string
	Args     []Expr // extra scalar args, e.g. clamp's min/max
}

func (*ApplyInstantFunction) expr() {}

func (a *ApplyInstantFunction) String() string {
	return fmt.Sprintf("%s(%s)", a.Function, a.Inner)
}

// ApplyMiscellaneousFunction applies a function needing more than per-row
// scalar math (label_replace, label_join, vector, time, scalar) to Inner.
type ApplyMiscellaneousFunction struct {
	Inner      Expr
	Function   string
	Args       []Expr
	StringArgs []string // label names / patterns the function needs as literals
}

func (*ApplyMiscellaneousFunction) expr() {}

func (a *ApplyMiscellaneousFunction) String() string {
	return fmt.Sprintf("%s(%s)", a.Function, a.Inner)
}

// ApplySortFunction sorts Inner's series by their last sample value.
// Requires global vision across shards before it can run.
type ApplySortFunction struct {
	Inner      Expr
	Descending bool
}

func (*ApplySortFunction) expr() {}

func (a *ApplySortFunction) String() string {
	if a.Descending {
		return fmt.Sprintf("sort_desc(%s)", a.Inner)
	}
	return fmt.Sprintf("sort(%s)", a.Inner)
}

// ApplyAbsentFunction evaluates to a single series valued 1 when Inner has
// no results over the query window, carrying the labels implied by
// Selector's equality filters; otherwise it is empty. Requires global
// vision across shards before it can run.
type ApplyAbsentFunction struct {
	Inner    Expr
	Selector string
}

func (*ApplyAbsentFunction) expr() {}

func (a *ApplyAbsentFunction) String() string {
	return fmt.Sprintf("absent(%s)", a.Inner)
}

// VectorPlan is the top-level wrapper around a query's root expression,
// carrying the overall evaluation window the planner needs for leaf
// materialization and for functions requiring a stitched global view.
type VectorPlan struct {
	Root  Expr
	Start int64
	End   int64
}

func (*VectorPlan) expr() {}

func (v *VectorPlan) String() string {
	return fmt.Sprintf("VectorPlan(%s, [%d,%d])", v.Root, v.Start, v.End)
}

// LabelValues is a metadata query: the distinct values label Name takes
// across every series matching Filters. A leaf.
type LabelValues struct {
	Name    string
	Filters []shard.LabelFilter
	Start   int64
	End     int64
}

func (*LabelValues) expr() {}

func (l *LabelValues) String() string {
	return fmt.Sprintf("LabelValues(%s, filters=%d)", l.Name, len(l.Filters))
}

// SeriesKeysByFilters is a metadata query: the set of partition keys
// matching Filters. A leaf.
type SeriesKeysByFilters struct {
	Filters []shard.LabelFilter
	Start   int64
	End     int64
}

func (*SeriesKeysByFilters) expr() {}

func (s *SeriesKeysByFilters) String() string {
	return fmt.Sprintf("SeriesKeysByFilters(filters=%d)", len(s.Filters))
}

// children returns e's direct child expressions, in left-to-right order.
// Leaves (RawSeries, RawChunkMeta, ScalarFixedDouble, ScalarVaryingDouble,
// ScalarTimeBased, LabelValues, SeriesKeysByFilters) return nil. The switch
// is exhaustive over every node type this package defines, per Design Note
// §9: new node types must be added here, not handled through a fallback.
func children(e Expr) []Expr {
	switch n := e.(type) {
	case *RawSeries, *RawChunkMeta, *ScalarFixedDouble, *ScalarVaryingDouble,
		*ScalarTimeBased, *LabelValues, *SeriesKeysByFilters:
		return nil
	case *PeriodicSeries:
		return []Expr{n.Raw}
	case *PeriodicSeriesWithWindowing:
		return append([]Expr{n.Raw}, n.Args...)
	case *Aggregate:
		return []Expr{n.Inner}
	case *BinaryJoin:
		return []Expr{n.LHS, n.RHS}
	case *ScalarVectorBinaryOperation:
		if n.ScalarOnLeft {
			return []Expr{n.Scalar, n.Vector}
		}
		return []Expr{n.Vector, n.Scalar}
	case *ApplyInstantFunction:
		return append([]Expr{n.Inner}, n.Args...)
	case *ApplyMiscellaneousFunction:
		return append([]Expr{n.Inner}, n.Args...)
	case *ApplySortFunction:
		return []Expr{n.Inner}
	case *ApplyAbsentFunction:
		return []Expr{n.Inner}
	case *VectorPlan:
		return []Expr{n.Root}
	case *ScalarBinaryOperation:
		return []Expr{n.LHS, n.RHS}
	default:
		panic(fmt.Sprintf("logical: children: unhandled node type %T", e))
	}
}

// Children exposes children for callers outside the package (the planner).
func Children(e Expr) []Expr { return children(e) }

// findLeaves returns every leaf reachable from e, in left-to-right order.
func findLeaves(e Expr) []Expr {
	kids := children(e)
	if len(kids) == 0 {
		return []Expr{e}
	}
	var out []Expr
	for _, k := range kids {
		out = append(out, findLeaves(k)...)
	}
	return out
}

// FindLeaves returns every leaf node reachable from plan's root, in
// left-to-right order, matching LogicalPlan.findLeaves.
func FindLeaves(plan *VectorPlan) []Expr {
	return findLeaves(plan.Root)
}
