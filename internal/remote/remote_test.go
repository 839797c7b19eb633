package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"chronocore/internal/block"
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

func TestMemoryBackendWriteThenRead(t *testing.T) {
	mgr, err := block.NewManager(1 << 20)
	if err != nil {
		t.Fatalf("new block manager: %v", err)
	}
	p := partition.New(schema.PartitionKey("a"), testSchema(t), partition.Config{BlockMgr: mgr})
	for i := int64(0); i < 5; i++ {
		if err := p.Ingest(partition.Row{Timestamp: i * 1000, Values: []any{"a", float64(i)}}, 0); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	cs, err := p.SwitchBuffers(true)
	if err != nil || cs == nil {
		t.Fatalf("switch buffers: %v", err)
	}
	columns, err := cs.RawColumns()
	if err != nil {
		t.Fatalf("raw columns: %v", err)
	}

	backend := NewMemoryBackend()
	ctx := context.Background()
	if err := backend.Initialize(ctx, "metrics", 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	n, err := backend.Write(ctx, "metrics", []ChunkSetRecord{{Partition: p.Key(), Info: cs.Info, Columns: columns}}, time.Hour)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 1 {
		t.Fatalf("wrote %d records, want 1", n)
	}

	ch, err := backend.ReadRawPartitions(ctx, "metrics", 0, nil, nil)
	if err != nil {
		t.Fatalf("read raw partitions: %v", err)
	}
	var got []RawPartData
	for r := range ch {
		got = append(got, r)
	}
	if len(got) != 1 || len(got[0].Chunks) != 1 {
		t.Fatalf("expected 1 partition with 1 chunk, got %+v", got)
	}
}

func TestChunkInfoRoundTrip(t *testing.T) {
	info := partition.ChunkInfo{StartTime: 1, EndTime: 2, IngestionTime: 3, NumRows: 4}
	raw, err := EncodeChunkInfo(info)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeChunkInfo(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != info {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, info)
	}
}

type failingSink struct {
	failures int
	calls    int
}

func (f *failingSink) Initialize(context.Context, string, int) error { return nil }
func (f *failingSink) Truncate(context.Context, string, int) error   { return nil }
func (f *failingSink) Drop(context.Context, string, int) error       { return nil }
func (f *failingSink) Write(ctx context.Context, dataset string, records []ChunkSetRecord, ttl time.Duration) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, errors.New("transient failure")
	}
	return len(records), nil
}

func TestRetryingSinkRetriesUntilSuccess(t *testing.T) {
	inner := &failingSink{failures: 2}
	sink := NewRetryingSink(inner, RetryingSinkConfig{MaxAttempts: 5, InitialInterval: time.Millisecond, Increment: time.Millisecond})
	n, err := sink.Write(context.Background(), "metrics", []ChunkSetRecord{{}}, time.Hour)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 1 {
		t.Fatalf("wrote %d, want 1", n)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingSinkGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &failingSink{failures: 10}
	sink := NewRetryingSink(inner, RetryingSinkConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, Increment: time.Millisecond})
	_, err := sink.Write(context.Background(), "metrics", []ChunkSetRecord{{}}, time.Hour)
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingSinkInFlightQuota(t *testing.T) {
	inner := &failingSink{}
	sink := NewRetryingSink(inner, RetryingSinkConfig{InFlightQuota: 1})
	if _, err := sink.Write(context.Background(), "metrics", nil, 0); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := sink.Write(context.Background(), "metrics", nil, 0); err != ErrInFlightQuotaExceeded {
		t.Fatalf("expected quota exceeded on second immediate write, got %v", err)
	}
}
