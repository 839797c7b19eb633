package shard

import (
	"context"
	"testing"

	"chronocore/internal/partition"
	"chronocore/internal/schema"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	sch, err := schema.NewSchema([]schema.Column{
		{Name: "app", Type: schema.ColumnUTF8},
		{Name: "timestamp", Type: schema.ColumnTimestampLong},
		{Name: "value", Type: schema.ColumnDouble},
	}, 1)
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return sch
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s, err := New(testSchema(t), Config{})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}
	key := schema.PartitionKey("app-a")
	p1 := s.GetOrCreate(key, map[string]string{"app": "a"})
	p2 := s.GetOrCreate(key, map[string]string{"app": "a"})
	if p1 != p2 {
		t.Fatalf("expected the same partition instance on repeated GetOrCreate")
	}
}

func TestIndexQueryAfterCommit(t *testing.T) {
	s, err := New(testSchema(t), Config{})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}
	s.GetOrCreate(schema.PartitionKey("a"), map[string]string{"app": "checkout"})
	s.GetOrCreate(schema.PartitionKey("b"), map[string]string{"app": "billing"})

	if got := s.Query([]LabelFilter{{Name: "app", Value: "checkout", Op: FilterEquals}}); len(got) != 0 {
		t.Fatalf("expected no matches before commit, got %d", len(got))
	}

	s.CommitIndex()
	got := s.Query([]LabelFilter{{Name: "app", Value: "checkout", Op: FilterEquals}})
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 match after commit, got %d", len(got))
	}
}

func TestLabelValues(t *testing.T) {
	s, err := New(testSchema(t), Config{})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}
	s.GetOrCreate(schema.PartitionKey("a"), map[string]string{"app": "checkout"})
	s.GetOrCreate(schema.PartitionKey("b"), map[string]string{"app": "billing"})
	s.CommitIndex()

	values := s.LabelValues("app")
	if len(values) != 2 {
		t.Fatalf("expected 2 distinct app values, got %d", len(values))
	}
}

func TestTableHandleCacheBounded(t *testing.T) {
	s, err := New(testSchema(t), Config{MaxTableHandles: 1})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}
	s.CacheTableHandle("t1", "handle-1")
	s.CacheTableHandle("t2", "handle-2")
	if _, ok := s.TableHandle("t1"); ok {
		t.Fatalf("expected t1 to be evicted once capacity 1 was exceeded")
	}
	if v, ok := s.TableHandle("t2"); !ok || v != "handle-2" {
		t.Fatalf("expected t2 to remain cached, got %v ok=%v", v, ok)
	}
}

type fakeSink struct {
	calls int
}

func (f *fakeSink) WriteChunk(ctx context.Context, dataset string, key schema.PartitionKey, cs *partition.ChunkSet) error {
	f.calls++
	return nil
}

func TestFlushOnePersistsAndNotifies(t *testing.T) {
	sink := &fakeSink{}
	s, err := New(testSchema(t), Config{Dataset: "metrics", Sink: sink, FlushGroups: 1})
	if err != nil {
		t.Fatalf("new shard: %v", err)
	}
	key := schema.PartitionKey("a")
	p := s.GetOrCreate(key, map[string]string{"app": "a"})
	if err := p.Ingest(partition.Row{Timestamp: 1, Values: []any{"a", 1.0}}, 0); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	entry, _ := s.partitions.Load(key.String())
	s.flushOne(context.Background(), entry.(*partitionEntry))

	if sink.calls != 1 {
		t.Fatalf("expected sink to be called once, got %d", sink.calls)
	}
}
