package rangevector

import "math"

// RangeFunc computes one scalar from the samples falling in a lookback
// window (t-window, t], the shape PeriodicSamplesMapper applies at every
// evaluation step. Implemented as the "sliding" variant only: each call
// re-scans the window's samples rather than maintaining an associative
// per-chunk partial, which the design notes call out as an acceptable
// simplification as long as every chunked fast path it would otherwise
// enable (sum/count/min/max/avg_over_time) stays correct under the
// sliding form — see DESIGN.md's internal/rangevector entry for why the
// chunked variant was scoped out.
type RangeFunc func(window []Sample, windowStart, t int64) float64

// RangeFuncs is the name -> implementation table PeriodicSamplesMapper
// looks functions up in.
var RangeFuncs = map[string]RangeFunc{
	"rate":               Rate,
	"irate":              IRate,
	"increase":           Increase,
	"delta":              Delta,
	"sum_over_time":      SumOverTime,
	"avg_over_time":      AvgOverTime,
	"count_over_time":    CountOverTime,
	"min_over_time":      MinOverTime,
	"max_over_time":      MaxOverTime,
	"stddev_over_time":   StddevOverTime,
	"stdvar_over_time":   StdvarOverTime,
	"quantile_over_time": nil, // needs a parameter; callers use QuantileOverTime directly
}

// counterAdjusted returns window's values with counter resets removed,
// the same reset-detection PromQL's rate()/increase() apply: whenever a
// sample is lower than its predecessor, the counter is assumed to have
// reset to zero and the predecessor's value is added back in.
func counterAdjusted(window []Sample) []float64 {
	out := make([]float64, len(window))
	if len(window) == 0 {
		return out
	}
	out[0] = window[0].Value
	correction := 0.0
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Value
		cur := window[i].Value
		if cur < prev {
			correction += prev
		}
		out[i] = cur + correction
	}
	return out
}

// Rate returns the per-second average rate of increase of a counter over
// the window: the counter-reset-adjusted delta between the first and last
// samples divided by the window length t-windowStart in seconds. The
// delta is not extrapolated to the window edges.
func Rate(window []Sample, windowStart, t int64) float64 {
	if len(window) < 2 {
		return math.NaN()
	}
	adj := counterAdjusted(window)
	durationMs := float64(t - windowStart)
	if durationMs <= 0 {
		return math.NaN()
	}
	delta := adj[len(adj)-1] - adj[0]
	return delta / (durationMs / 1000)
}

// IRate returns the per-second rate computed from only the last two
// samples in the window, the "instant rate" variant.
func IRate(window []Sample, windowStart, t int64) float64 {
	if len(window) < 2 {
		return math.NaN()
	}
	prev, last := window[len(window)-2], window[len(window)-1]
	durationMs := float64(last.Timestamp - prev.Timestamp)
	if durationMs <= 0 {
		return math.NaN()
	}
	v := last.Value - prev.Value
	if v < 0 {
		v = last.Value // counter reset: the new value is the increase since 0
	}
	return v / (durationMs / 1000)
}

// Increase returns the counter's total increase over the window,
// counter-reset-adjusted.
func Increase(window []Sample, windowStart, t int64) float64 {
	if len(window) < 2 {
		return math.NaN()
	}
	adj := counterAdjusted(window)
	return adj[len(adj)-1] - adj[0]
}

// Delta returns the window's raw last-minus-first difference, for gauges
// (no counter-reset adjustment).
func Delta(window []Sample, windowStart, t int64) float64 {
	if len(window) < 2 {
		return math.NaN()
	}
	return window[len(window)-1].Value - window[0].Value
}

// SumOverTime sums every sample's value in the window.
func SumOverTime(window []Sample, _, _ int64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, s := range window {
		sum += s.Value
	}
	return sum
}

// AvgOverTime averages every sample's value in the window.
func AvgOverTime(window []Sample, _, _ int64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	return SumOverTime(window, 0, 0) / float64(len(window))
}

// CountOverTime counts the samples in the window.
func CountOverTime(window []Sample, _, _ int64) float64 {
	return float64(len(window))
}

// MinOverTime returns the window's minimum value.
func MinOverTime(window []Sample, _, _ int64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	m := window[0].Value
	for _, s := range window[1:] {
		if s.Value < m {
			m = s.Value
		}
	}
	return m
}

// MaxOverTime returns the window's maximum value.
func MaxOverTime(window []Sample, _, _ int64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	m := window[0].Value
	for _, s := range window[1:] {
		if s.Value > m {
			m = s.Value
		}
	}
	return m
}

// StddevOverTime returns the window's population standard deviation.
func StddevOverTime(window []Sample, _, _ int64) float64 {
	return math.Sqrt(varianceOverTime(window))
}

// StdvarOverTime returns the window's population variance.
func StdvarOverTime(window []Sample, _, _ int64) float64 {
	return varianceOverTime(window)
}

func varianceOverTime(window []Sample) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	mean := AvgOverTime(window, 0, 0)
	sq := 0.0
	for _, s := range window {
		d := s.Value - mean
		sq += d * d
	}
	return sq / float64(len(window))
}

// QuantileOverTime returns the p-quantile of the window's values via
// linear interpolation between order statistics (PromQL's own method).
func QuantileOverTime(p float64, window []Sample) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	values := make([]float64, len(window))
	for i, s := range window {
		values[i] = s.Value
	}
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
	if len(values) == 1 {
		return values[0]
	}
	rank := p * float64(len(values)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return values[lo]
	}
	frac := rank - float64(lo)
	return values[lo]*(1-frac) + values[hi]*frac
}

// PeriodicSamplesMapper evaluates fn at each step of start:step:end,
// applying it to the samples of in.Samples falling in (t-window, t] —
// the shape internal/exec's PeriodicSamplesMapperExec wraps a raw
// RangeVector with.
func PeriodicSamplesMapper(in RangeVector, start, step, end, window int64, fn RangeFunc) RangeVector {
	out := RangeVector{Labels: in.Labels, Samples: nil}
	lo := 0
	for t := start; t <= end; t += step {
		windowStart := t - window
		for lo < len(in.Samples) && in.Samples[lo].Timestamp <= windowStart {
			lo++
		}
		hi := lo
		for hi < len(in.Samples) && in.Samples[hi].Timestamp <= t {
			hi++
		}
		v := fn(in.Samples[lo:hi], windowStart, t)
		out.Samples = append(out.Samples, Sample{Timestamp: t, Value: v})
	}
	return out
}
