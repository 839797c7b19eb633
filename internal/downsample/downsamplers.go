package downsample

import (
	"math"

	"chronocore/internal/codec"
)

// DoubleDownsampler computes one output double value from a double
// column's rows over [start, end] (inclusive), matching spec.md §4.5's
// per-downsampler contract. NaN rows are never read into an aggregate: the
// min/max/sum/count family skips them explicitly, mirroring
// query/aggregate.go's accumulator behavior generalized from query results
// to chunk rows.
type DoubleDownsampler interface {
	Name() string
	Compute(col *codec.DoubleReader, start, end int64) float64
}

type minDownsampler struct{}

func (minDownsampler) Name() string { return "min" }
func (minDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	best := math.Inf(1)
	found := false
	col.Iterate(start, func(row int64, v float64) bool {
		if row > end {
			return false
		}
		if !math.IsNaN(v) && v < best {
			best = v
			found = true
		}
		return true
	})
	if !found {
		return math.NaN()
	}
	return best
}

type maxDownsampler struct{}

func (maxDownsampler) Name() string { return "max" }
func (maxDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	best := math.Inf(-1)
	found := false
	col.Iterate(start, func(row int64, v float64) bool {
		if row > end {
			return false
		}
		if !math.IsNaN(v) && v > best {
			best = v
			found = true
		}
		return true
	})
	if !found {
		return math.NaN()
	}
	return best
}

type sumDownsampler struct{}

func (sumDownsampler) Name() string { return "sum" }
func (sumDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	sum, _ := col.Sum(start, end)
	return sum
}

type countDownsampler struct{}

func (countDownsampler) Name() string { return "count" }
func (countDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	_, count := col.Sum(start, end)
	return float64(count)
}

type avgDownsampler struct{}

func (avgDownsampler) Name() string { return "avg" }
func (avgDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	sum, count := col.Sum(start, end)
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

type lastValueDownsampler struct{}

func (lastValueDownsampler) Name() string { return "lastValue" }
func (lastValueDownsampler) Compute(col *codec.DoubleReader, start, end int64) float64 {
	v, err := col.Apply(end)
	if err != nil {
		return math.NaN()
	}
	return v
}

// MinDownsampler, MaxDownsampler, SumDownsampler, CountDownsampler,
// AvgDownsampler and LastValueDownsampler are the named singletons spec.md
// §4.5 lists.
var (
	MinDownsampler       DoubleDownsampler = minDownsampler{}
	MaxDownsampler       DoubleDownsampler = maxDownsampler{}
	SumDownsampler       DoubleDownsampler = sumDownsampler{}
	CountDownsampler     DoubleDownsampler = countDownsampler{}
	AvgDownsampler       DoubleDownsampler = avgDownsampler{}
	LastValueDownsampler DoubleDownsampler = lastValueDownsampler{}
)

// PairDownsampler computes one output value from two double columns over
// [start, end] — used by avgFromAvgCount (re-averaging already-downsampled
// avg/count pairs) and avgFromSumCount (re-averaging sum/count pairs).
type PairDownsampler interface {
	Name() string
	Compute(first, second *codec.DoubleReader, start, end int64) float64
}

type avgFromSumCountDownsampler struct{}

func (avgFromSumCountDownsampler) Name() string { return "avgFromSumCount" }
func (avgFromSumCountDownsampler) Compute(sum, count *codec.DoubleReader, start, end int64) float64 {
	sumTotal, _ := sum.Sum(start, end)
	countTotal, _ := count.Sum(start, end)
	if countTotal == 0 {
		return math.NaN()
	}
	return sumTotal / countTotal
}

// avgFromAvgCountDownsampler re-averages a column of (avg, count) pairs
// using the running formula avg' = (avg*cnt + nextAvg*nextCnt)/(cnt+nextCnt),
// per spec.md §4.5's explicit invariant — this differs from
// avgFromSumCountDownsampler in that the first input column already holds
// per-period averages, not per-period sums, so it cannot simply be summed.
type avgFromAvgCountDownsampler struct{}

func (avgFromAvgCountDownsampler) Name() string { return "avgFromAvgCount" }
func (avgFromAvgCountDownsampler) Compute(avg, count *codec.DoubleReader, start, end int64) float64 {
	var runningAvg, runningCount float64
	have := false
	avg.Iterate(start, func(row int64, a float64) bool {
		if row > end {
			return false
		}
		c, err := count.Apply(row)
		if err != nil || math.IsNaN(a) || math.IsNaN(c) {
			return true
		}
		if !have {
			runningAvg, runningCount = a, c
			have = true
			return true
		}
		total := runningCount + c
		if total == 0 {
			return true
		}
		runningAvg = (runningAvg*runningCount + a*c) / total
		runningCount = total
		return true
	})
	if !have {
		return math.NaN()
	}
	return runningAvg
}

var (
	AvgFromAvgCountDownsampler PairDownsampler = avgFromAvgCountDownsampler{}
	AvgFromSumCountDownsampler PairDownsampler = avgFromSumCountDownsampler{}
)

// TimestampDownsampler copies the user-time of a period's end row into the
// output timestamp column.
func TimestampDownsampler(ts *codec.TimestampReader, end int64) (int64, error) {
	return ts.Apply(end)
}

// HistogramSumDownsampler reduces a histogram column to a double column
// holding the cumulative total-count at a period's end row (the histogram
// bucket scheme's own implicit "+Inf" bucket), matching how a cumulative
// Prometheus histogram is downsampled to its running sample count rather
// than literally summed across samples.
func HistogramSumDownsampler(col *codec.HistogramReader, end int64) (float64, error) {
	return col.Sum(end)
}
