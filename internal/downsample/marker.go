// Package downsample implements the periodic batch job that reads raw
// chunks and emits lower-resolution, longer-retained chunks: the period
// marker, the per-column downsamplers, and the scheduled job that wires
// them together. Grounded on digester/timestamp/digester.go's "stateless
// transform over a stream, wired in by a scheduler" shape and
// query/aggregate.go's accumulator interface, generalized from per-record
// digestion and per-query-result aggregation into per-period columnar
// downsampling.
package downsample

import (
	"sort"

	"chronocore/internal/codec"
)

// floorDiv is integer floor division, correct for negative numerators
// (Go's / truncates toward zero).
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// DefaultPeriodEnds computes, for a chunk starting at startTime (user-time
// ms) with resolution R (ms), the row indices that terminate each
// downsample period: period k ends at the greatest row whose timestamp is
// <= (floor((startTime-1)/R) + 1 + k) * R. Inclusive on the right boundary,
// so a sample at exactly t = k*R belongs to period k, not k+1.
func DefaultPeriodEnds(startTime int64, ts *codec.TimestampReader, resolutionMs int64) []int64 {
	n := ts.Len()
	if n == 0 || resolutionMs <= 0 {
		return nil
	}
	base := floorDiv(startTime-1, resolutionMs) + 1

	var ends []int64
	for k := int64(0); ; k++ {
		boundary := (base + k) * resolutionMs
		end := ts.CeilingIndex(boundary+1) - 1
		if end >= 0 {
			ends = append(ends, end)
			if end >= n-1 {
				break
			}
		}
		if k > n {
			// Safety backstop: resolutionMs smaller than the sample
			// spacing would otherwise never reach the last row via the
			// boundary arithmetic above.
			break
		}
	}
	return ends
}

// CounterPeriodEnds extends DefaultPeriodEnds for counter-valued columns:
// the default set, plus the chunk's first row, plus (for a column whose
// double encoder reported a counter dip) every (dropIndex-1, dropIndex)
// pair, so a rate computation never spans a counter reset. Matches
// spec.md's invariant 6.
func CounterPeriodEnds(startTime int64, ts *codec.TimestampReader, resolutionMs int64, dropped bool, dropPositions []int64) []int64 {
	n := ts.Len()
	set := map[int64]bool{}
	for _, e := range DefaultPeriodEnds(startTime, ts, resolutionMs) {
		set[e] = true
	}
	if n > 0 {
		set[0] = true
	}
	if dropped {
		for _, d := range dropPositions {
			if d-1 >= 0 {
				set[d-1] = true
			}
			if d < n {
				set[d] = true
			}
		}
	}

	ends := make([]int64, 0, len(set))
	for e := range set {
		ends = append(ends, e)
	}
	sort.Slice(ends, func(i, j int) bool { return ends[i] < ends[j] })
	return ends
}
