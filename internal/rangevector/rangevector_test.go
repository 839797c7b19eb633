package rangevector

import (
	"math"
	"testing"
)

func TestRateWithCounterReset(t *testing.T) {
	// A counter climbing by 1 every second, reset to 0 partway through.
	window := []Sample{
		{Timestamp: 0, Value: 0},
		{Timestamp: 1000, Value: 1},
		{Timestamp: 2000, Value: 2},
		{Timestamp: 3000, Value: 0}, // reset
		{Timestamp: 4000, Value: 1},
		{Timestamp: 5000, Value: 2},
	}
	got := Rate(window, 0, 5000)
	// counter-adjusted delta is (2+2)-0 = 4 over 5s = 0.8/s
	if math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("Rate() = %v, want 0.8", got)
	}
}

func TestBinaryJoinOneToOne(t *testing.T) {
	lhs := []RangeVector{
		{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 1}, {Timestamp: 1000, Value: 2}, {Timestamp: 2000, Value: 3}}},
	}
	rhs := []RangeVector{
		{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 10}, {Timestamp: 1000, Value: 20}, {Timestamp: 2000, Value: 30}}},
	}
	out, err := BinaryJoin(lhs, rhs, BinaryJoinConfig{Op: func(l, r float64) float64 { return l + r }})
	if err != nil {
		t.Fatalf("BinaryJoin: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 joined series, got %d", len(out))
	}
	want := []float64{11, 22, 33}
	for i, s := range out[0].Samples {
		if s.Value != want[i] {
			t.Errorf("sample %d = %v, want %v", i, s.Value, want[i])
		}
	}
}

func TestBinaryJoinOneToOneDuplicateRejected(t *testing.T) {
	lhs := []RangeVector{{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 1}}}}
	rhs := []RangeVector{
		{Labels: map[string]string{"host": "a", "extra": "x"}, Samples: []Sample{{Timestamp: 0, Value: 1}}},
		{Labels: map[string]string{"host": "a", "extra": "y"}, Samples: []Sample{{Timestamp: 0, Value: 2}}},
	}
	_, err := BinaryJoin(lhs, rhs, BinaryJoinConfig{On: []string{"host"}, Op: func(l, r float64) float64 { return l + r }})
	if err == nil {
		t.Fatal("expected duplicate 1:1 match error")
	}
}

func TestSetOperatorAndOrWithEmptyLHS(t *testing.T) {
	rhs := []RangeVector{
		{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 1}}},
	}
	var lhs []RangeVector

	and := SetOperator(lhs, rhs, SetAnd, nil, nil)
	if len(and) != 0 {
		t.Fatalf("AND with empty lhs should be empty, got %d", len(and))
	}

	or := SetOperator(lhs, rhs, SetOr, nil, nil)
	if len(or) != 1 {
		t.Fatalf("OR with empty lhs should return rhs, got %d", len(or))
	}
}

func TestSetOperatorAndMasksUnmatchedTimestamps(t *testing.T) {
	lhs := []RangeVector{
		{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 1}, {Timestamp: 1000, Value: 2}}},
	}
	rhs := []RangeVector{
		{Labels: map[string]string{"host": "a"}, Samples: []Sample{{Timestamp: 0, Value: 9}}},
	}
	out := SetOperator(lhs, rhs, SetAnd, nil, nil)
	if len(out) != 1 {
		t.Fatalf("expected 1 series, got %d", len(out))
	}
	if out[0].Samples[0].Value != 1 {
		t.Errorf("matched timestamp should keep lhs value, got %v", out[0].Samples[0].Value)
	}
	if !math.IsNaN(out[0].Samples[1].Value) {
		t.Errorf("unmatched timestamp should be NaN, got %v", out[0].Samples[1].Value)
	}
}

func TestAccumulatorMergeAssociativity(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	whole := NewAccumulator("sum")
	for _, v := range values {
		whole.Add(v)
	}

	partA := NewAccumulator("sum")
	partB := NewAccumulator("sum")
	for _, v := range values[:3] {
		partA.Add(v)
	}
	for _, v := range values[3:] {
		partB.Add(v)
	}
	partA.Merge(partB)

	if whole.Result() != partA.Result() {
		t.Fatalf("merged sum = %v, want %v", partA.Result(), whole.Result())
	}

	wholeAvg := NewAccumulator("avg")
	for _, v := range values {
		wholeAvg.Add(v)
	}
	a := NewAccumulator("avg")
	b := NewAccumulator("avg")
	for _, v := range values[:2] {
		a.Add(v)
	}
	for _, v := range values[2:] {
		b.Add(v)
	}
	a.Merge(b)
	if wholeAvg.Result() != a.Result() {
		t.Fatalf("merged avg = %v, want %v", a.Result(), wholeAvg.Result())
	}
}

func TestHistToPromSeriesMapperPadsMissingBuckets(t *testing.T) {
	rows := []HistogramRow{
		{Timestamp: 0, UpperBounds: []float64{1, 5}, Counts: []float64{2, 5}},
		{Timestamp: 1000, UpperBounds: []float64{1, 2, 5}, Counts: []float64{2, 3, 6}},
	}
	buckets := HistToPromSeriesMapper(map[string]string{"app": "x", "__name__": "req_latency"}, rows)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 bucket series (1, 2, 5), got %d", len(buckets))
	}
	var bucket2 *BucketSeries
	for i := range buckets {
		if buckets[i].UpperBound == 2 {
			bucket2 = &buckets[i]
		}
	}
	if bucket2 == nil {
		t.Fatal("expected a le=2 bucket series")
	}
	if bucket2.Vector.Labels["le"] != "2" {
		t.Errorf("expected le=2 label, got %q", bucket2.Vector.Labels["le"])
	}
	if bucket2.Vector.Labels["__name__"] != "req_latency_bucket" {
		t.Errorf("expected __name__ to gain _bucket suffix, got %q", bucket2.Vector.Labels["__name__"])
	}
	if len(bucket2.Vector.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(bucket2.Vector.Samples))
	}
	if !math.IsNaN(bucket2.Vector.Samples[0].Value) {
		t.Errorf("first sample (scheme predates this bucket) should be NaN, got %v", bucket2.Vector.Samples[0].Value)
	}
	if bucket2.Vector.Samples[1].Value != 3 {
		t.Errorf("second sample = %v, want 3", bucket2.Vector.Samples[1].Value)
	}
}

func TestHistogramQuantileMapperInterpolates(t *testing.T) {
	buckets := []BucketSeries{
		{UpperBound: 1, Vector: RangeVector{Labels: map[string]string{"le": "1"}, Samples: []Sample{{Timestamp: 0, Value: 0}}}},
		{UpperBound: 2, Vector: RangeVector{Labels: map[string]string{"le": "2"}, Samples: []Sample{{Timestamp: 0, Value: 8}}}},
		{UpperBound: math.Inf(1), Vector: RangeVector{Labels: map[string]string{"le": "+Inf"}, Samples: []Sample{{Timestamp: 0, Value: 10}}}},
	}
	out := HistogramQuantileMapper(0.5, buckets)
	if len(out) != 1 {
		t.Fatalf("expected 1 group, got %d", len(out))
	}
	v := out[0].Samples[0].Value
	if v <= 1 || v >= 2 {
		t.Errorf("median should interpolate within (1,2), got %v", v)
	}
}

func TestPeriodicSamplesMapperSumOverTime(t *testing.T) {
	in := RangeVector{
		Labels: map[string]string{"host": "a"},
		Samples: []Sample{
			{Timestamp: 1000, Value: 1},
			{Timestamp: 2000, Value: 2},
			{Timestamp: 3000, Value: 3},
		},
	}
	out := PeriodicSamplesMapper(in, 3000, 1000, 3000, 3000, SumOverTime)
	if len(out.Samples) != 1 {
		t.Fatalf("expected 1 step, got %d", len(out.Samples))
	}
	if out.Samples[0].Value != 6 {
		t.Errorf("sum = %v, want 6", out.Samples[0].Value)
	}
}
