package planner

import (
	"fmt"
	"strings"

	"chronocore/internal/exec"
)

// PlanTrace is one node of a materialized ExecPlan's explain trail: which
// dispatcher ran the step, a human-readable detail of what it does and
// why, and its children in materialization order. Mirrors
// query/plan.go's QueryPlan/ChunkPlan/PipelineStep family, generalized
// from per-chunk index steps to per-shard/per-node exec steps.
type PlanTrace struct {
	Node       string // exec node type name, e.g. "SelectRawPartitionsExec"
	Dispatcher string // "local-shard-N", "shard-fanout", "gather", "inline", "buffered"
	Detail     string
	Children   []*PlanTrace
}

// Explain walks a materialized ExecPlan tree and returns its trace without
// executing the query, the same "explain without running" contract as
// query/plan.go's Engine.Explain.
func Explain(plan exec.ExecPlan) *PlanTrace {
	return explainNode(plan)
}

func explainNode(p exec.ExecPlan) *PlanTrace {
	switch n := p.(type) {
	case *exec.SelectRawPartitionsExec:
		return &PlanTrace{
			Node:       "SelectRawPartitionsExec",
			Dispatcher: fmt.Sprintf("local-shard-%d", n.ShardIndex),
			Detail: fmt.Sprintf("dataset=%s column=%s filters=%d range=[%d,%d) maxChunkTime=%s",
				n.Dataset, n.Column, len(n.Filters), n.Start, n.End, n.MaxChunkTime),
		}

	case *exec.LocalPartitionDistConcatExec:
		children := make([]*PlanTrace, len(n.Children))
		for i, c := range n.Children {
			children[i] = explainNode(c)
		}
		return &PlanTrace{
			Node:       "LocalPartitionDistConcatExec",
			Dispatcher: "shard-fanout",
			Detail:     fmt.Sprintf("%d shard(s) concatenated", len(n.Children)),
			Children:   children,
		}

	case *exec.PeriodicSamplesMapperExec:
		return &PlanTrace{
			Node:       "PeriodicSamplesMapperExec",
			Dispatcher: "inline",
			Detail:     fmt.Sprintf("step [%d,%d] every %d, window %d", n.Start, n.End, n.Step, n.Window),
			Children:   []*PlanTrace{explainNode(n.Child)},
		}

	case *exec.ReduceAggregateExec:
		children := make([]*PlanTrace, len(n.ShardLevel))
		for i, c := range n.ShardLevel {
			children[i] = explainNode(c)
		}
		by, without := "none", "none"
		if len(n.By) > 0 {
			by = strings.Join(n.By, ",")
		}
		if len(n.Without) > 0 {
			without = strings.Join(n.Without, ",")
		}
		return &PlanTrace{
			Node:       "ReduceAggregateExec",
			Dispatcher: "gather",
			Detail:     fmt.Sprintf("op=%s by=%s without=%s, aggregating %d input plan(s)", n.Op, by, without, len(n.ShardLevel)),
			Children:   children,
		}

	case *exec.BinaryJoinExec:
		return &PlanTrace{
			Node:       "BinaryJoinExec",
			Dispatcher: "gather",
			Detail: fmt.Sprintf("on=%v ignoring=%v include=%v oneToMany=%v manyToOne=%v",
				n.Config.On, n.Config.Ignoring, n.Config.Include, n.Config.OneToMany, n.Config.ManyToOne),
			Children: []*PlanTrace{explainNode(n.LHS), explainNode(n.RHS)},
		}

	case *exec.SetOperatorExec:
		return &PlanTrace{
			Node:       "SetOperatorExec",
			Dispatcher: "gather",
			Detail:     fmt.Sprintf("op=%d on=%v ignoring=%v", n.Op, n.On, n.Ignoring),
			Children:   []*PlanTrace{explainNode(n.LHS), explainNode(n.RHS)},
		}

	case *exec.ScalarVectorBinaryOperationExec:
		return &PlanTrace{
			Node:       "ScalarVectorBinaryOperationExec",
			Dispatcher: "inline",
			Detail:     fmt.Sprintf("scalar=%g scalarOnLeft=%v", n.Scalar, n.ScalarOnLeft),
			Children:   []*PlanTrace{explainNode(n.Vector)},
		}

	case *exec.ApplySortExec:
		return &PlanTrace{
			Node:       "ApplySortExec",
			Dispatcher: "buffered",
			Detail:     fmt.Sprintf("descending=%v (buffers full stream before sorting)", n.Descending),
			Children:   []*PlanTrace{explainNode(n.Child)},
		}

	case *exec.ApplyAbsentExec:
		return &PlanTrace{
			Node:       "ApplyAbsentExec",
			Dispatcher: "buffered",
			Detail:     fmt.Sprintf("range=[%d,%d] step=%d (buffers full stream to detect emptiness)", n.Start, n.End, n.Step),
			Children:   []*PlanTrace{explainNode(n.Child)},
		}

	case *exec.HistogramQuantileExec:
		return &PlanTrace{
			Node:       "HistogramQuantileExec",
			Dispatcher: "buffered",
			Detail:     fmt.Sprintf("p=%g (buffers full bucket set before interpolating)", n.P),
			Children:   []*PlanTrace{explainNode(n.Child)},
		}

	default:
		return &PlanTrace{Node: fmt.Sprintf("%T", p), Dispatcher: "unknown", Detail: "no explain detail registered"}
	}
}

// String renders a PlanTrace tree as indented lines, one node per line —
// the format a CLI explain command prints directly.
func (t *PlanTrace) String() string {
	var b strings.Builder
	t.write(&b, 0)
	return b.String()
}

func (t *PlanTrace) write(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s%s [%s] %s\n", strings.Repeat("  ", depth), t.Node, t.Dispatcher, t.Detail)
	for _, c := range t.Children {
		c.write(b, depth+1)
	}
}
