package rangevector

import (
	"container/heap"
	"math"
)

// Accumulator reduces a stream of float64 values into one result, the
// same Add/Result shape as query/aggregate.go's countAcc/sumAcc/avgAcc
// family, generalized with Merge so a partial accumulator computed on one
// shard can be combined with another shard's partial without re-seeing
// either shard's raw samples; Merge is associative. ReduceAggregateExec
// aggregates raw child samples and does not call Merge.
type Accumulator interface {
	Add(v float64)
	Merge(other Accumulator)
	Result() float64
}

// NewAccumulator returns a fresh accumulator for a logical.AggOp. topk,
// bottomk, quantile and count_values need parameters the simple ops
// don't, so they are constructed directly (NewTopK, NewQuantile, ...)
// rather than through this switch.
func NewAccumulator(op string) Accumulator {
	switch op {
	case "sum":
		return &sumAcc{}
	case "avg":
		return &avgAcc{}
	case "min":
		return &minAcc{v: math.NaN()}
	case "max":
		return &maxAcc{v: math.NaN()}
	case "count":
		return &countAcc{}
	case "stddev":
		return &stddevAcc{}
	case "stdvar":
		return &stddevAcc{variance: true}
	case "group":
		return &groupAcc{}
	default:
		return &sumAcc{}
	}
}

type sumAcc struct {
	sum  float64
	seen bool
}

func (a *sumAcc) Add(v float64) { a.sum += v; a.seen = true }
func (a *sumAcc) Merge(o Accumulator) {
	other := o.(*sumAcc)
	a.sum += other.sum
	a.seen = a.seen || other.seen
}
func (a *sumAcc) Result() float64 {
	if !a.seen {
		return math.NaN()
	}
	return a.sum
}

type avgAcc struct {
	sum   float64
	count int64
}

func (a *avgAcc) Add(v float64) { a.sum += v; a.count++ }
func (a *avgAcc) Merge(o Accumulator) {
	other := o.(*avgAcc)
	a.sum += other.sum
	a.count += other.count
}
func (a *avgAcc) Result() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

type countAcc struct{ n int64 }

func (a *countAcc) Add(float64)         { a.n++ }
func (a *countAcc) Merge(o Accumulator) { a.n += o.(*countAcc).n }
func (a *countAcc) Result() float64     { return float64(a.n) }

type minAcc struct {
	v float64
}

func (a *minAcc) Add(v float64) {
	if math.IsNaN(a.v) || v < a.v {
		a.v = v
	}
}
func (a *minAcc) Merge(o Accumulator) {
	other := o.(*minAcc)
	if !math.IsNaN(other.v) {
		a.Add(other.v)
	}
}
func (a *minAcc) Result() float64 { return a.v }

type maxAcc struct {
	v float64
}

func (a *maxAcc) Add(v float64) {
	if math.IsNaN(a.v) || v > a.v {
		a.v = v
	}
}
func (a *maxAcc) Merge(o Accumulator) {
	other := o.(*maxAcc)
	if !math.IsNaN(other.v) {
		a.Add(other.v)
	}
}
func (a *maxAcc) Result() float64 { return a.v }

// stddevAcc tracks Welford's running mean/M2, whose combine step is the
// textbook parallel-variance formula, so it merges across shards without
// ever holding the raw sample set.
type stddevAcc struct {
	count    int64
	mean     float64
	m2       float64
	variance bool
}

func (a *stddevAcc) Add(v float64) {
	a.count++
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (v - a.mean)
}

func (a *stddevAcc) Merge(o Accumulator) {
	other := o.(*stddevAcc)
	if other.count == 0 {
		return
	}
	if a.count == 0 {
		a.count, a.mean, a.m2 = other.count, other.mean, other.m2
		return
	}
	n1, n2 := float64(a.count), float64(other.count)
	delta := other.mean - a.mean
	total := n1 + n2
	a.mean = a.mean + delta*n2/total
	a.m2 = a.m2 + other.m2 + delta*delta*n1*n2/total
	a.count += other.count
}

func (a *stddevAcc) Result() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	variance := a.m2 / float64(a.count)
	if a.variance {
		return variance
	}
	return math.Sqrt(variance)
}

// groupAcc implements the group() aggregator: the result is always 1 once
// any input was seen, folding every group member into a single presence
// indicator.
type groupAcc struct{ seen bool }

func (a *groupAcc) Add(float64)         { a.seen = true }
func (a *groupAcc) Merge(o Accumulator) { a.seen = a.seen || o.(*groupAcc).seen }
func (a *groupAcc) Result() float64 {
	if !a.seen {
		return math.NaN()
	}
	return 1
}

// topKItem is one (value, labels) entry held by TopK/BottomK's bounded
// heap.
type topKItem struct {
	value  float64
	labels map[string]string
}

type topKHeap struct {
	items  []topKItem
	bottom bool // true: max-heap evicting the largest retained value, keeping the smallest k (bottomk)
}

func (h topKHeap) Len() int { return len(h.items) }
func (h topKHeap) Less(i, j int) bool {
	if h.bottom {
		return h.items[i].value > h.items[j].value
	}
	return h.items[i].value < h.items[j].value
}
func (h topKHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x any)        { h.items = append(h.items, x.(topKItem)) }
func (h *topKHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// TopK keeps the k labeled series with the largest (or, as BottomK, the
// smallest) values at a given evaluation step, via a bounded
// container/heap rather than sorting the whole input.
type TopK struct {
	k    int
	heap topKHeap
}

// NewTopK returns an accumulator keeping the k largest values seen.
func NewTopK(k int) *TopK { return &TopK{k: k} }

// NewBottomK returns an accumulator keeping the k smallest values seen.
func NewBottomK(k int) *TopK { return &TopK{k: k, heap: topKHeap{bottom: true}} }

// AddLabeled offers one (value, labels) candidate.
func (t *TopK) AddLabeled(v float64, labels map[string]string) {
	item := topKItem{value: v, labels: labels}
	if t.heap.Len() < t.k {
		heap.Push(&t.heap, item)
		return
	}
	if t.heap.Len() == 0 {
		return
	}
	if (t.heap.bottom && v < t.heap.items[0].value) || (!t.heap.bottom && v > t.heap.items[0].value) {
		heap.Pop(&t.heap)
		heap.Push(&t.heap, item)
	}
}

// Items returns the retained items, unsorted.
func (t *TopK) Items() []topKItem { return t.heap.items }

// Quantile estimates the p-quantile of a bounded reservoir sample,
// matching the documented "reservoir/t-digest" scope note: a fixed-size
// reservoir is the simplest member of that family and is exact in the
// common case (reservoir never fills) that query windows exercise.
type Quantile struct {
	p        float64
	reservoir []float64
	capacity  int
	seen      int64
	rng       func() float64
}

// NewQuantile returns a Quantile accumulator targeting quantile p
// (0 <= p <= 1), retaining up to capacity samples.
func NewQuantile(p float64, capacity int, rng func() float64) *Quantile {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Quantile{p: p, capacity: capacity, rng: rng}
}

func (q *Quantile) Add(v float64) {
	q.seen++
	if len(q.reservoir) < q.capacity {
		q.reservoir = append(q.reservoir, v)
		return
	}
	if q.rng == nil {
		return
	}
	j := int(q.rng() * float64(q.seen))
	if j < q.capacity {
		q.reservoir[j] = v
	}
}

func (q *Quantile) Result() float64 {
	n := len(q.reservoir)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, q.reservoir)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if n == 1 {
		return sorted[0]
	}
	rank := q.p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// CountValues counts occurrences of each distinct value seen, the
// count_values() aggregator.
type CountValues struct {
	counts map[float64]int64
}

// NewCountValues returns an empty CountValues accumulator.
func NewCountValues() *CountValues { return &CountValues{counts: map[float64]int64{}} }

func (c *CountValues) Add(v float64) { c.counts[v]++ }

func (c *CountValues) Merge(other *CountValues) {
	for v, n := range other.counts {
		c.counts[v] += n
	}
}

// Counts returns the distinct-value -> occurrence-count map.
func (c *CountValues) Counts() map[float64]int64 { return c.counts }
