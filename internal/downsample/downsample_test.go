package downsample

import (
	"context"
	"math"
	"testing"
	"time"

	"chronocore/internal/block"
	"chronocore/internal/codec"
	"chronocore/internal/partition"
	"chronocore/internal/remote"
	"chronocore/internal/schema"
)

func buildRawSchema(t *testing.T) schema.Schema {
	t.Helper()
	sch, err := schema.NewSchema([]schema.Column{
		{Name: "series", Type: schema.ColumnUTF8},
		{Name: "timestamp", Type: schema.ColumnTimestampLong},
		{Name: "value", Type: schema.ColumnDouble},
	}, 1)
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return sch
}

// writeRawChunk ingests 60 one-second-spaced doubles valued 1..60, seals
// the chunk and persists it into backend under "metrics" at ingestion
// time 1000, matching the period-marker scenario where a chunk's start
// time does not land exactly on a resolution boundary.
func writeRawChunk(t *testing.T, backend *remote.MemoryBackend) schema.PartitionKey {
	t.Helper()
	mgr, err := block.NewManager(1 << 20)
	if err != nil {
		t.Fatalf("new block manager: %v", err)
	}
	key := schema.PartitionKey("series")
	p := partition.New(key, buildRawSchema(t), partition.Config{BlockMgr: mgr})
	for i := int64(0); i < 60; i++ {
		row := partition.Row{Timestamp: 1 + i*1000, Values: []any{"series", float64(i + 1)}}
		if err := p.Ingest(row, 1000); err != nil {
			t.Fatalf("ingest row %d: %v", i, err)
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

	ctx := context.Background()
	if err := backend.Initialize(ctx, "metrics", 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := backend.Write(ctx, "metrics", []remote.ChunkSetRecord{
		{Partition: key, Info: cs.Info, Columns: columns},
	}, time.Hour); err != nil {
		t.Fatalf("write raw chunk: %v", err)
	}
	return key
}

func sumJob(backend *remote.MemoryBackend, rawSchema schema.Schema) *Job {
	return New(Config{
		Source:        backend,
		Sink:          backend,
		RawDataset:    "metrics",
		OutputDataset: "metrics_1m",
		Resolution:    60 * time.Second,
		TTL:           24 * time.Hour,
		RawSchema:     rawSchema,
		Columns: []ColumnSpec{
			{OutputName: "value_sum", Downsample: SumDownsampler, InputIdx: []int{1}},
		},
	})
}

// TestSumDownsampleSinglePeriod matches the scenario of 60 doubles at 1s
// spacing, none of them landing on a 60s resolution boundary: the period
// marker should emit exactly one period covering every row, with the sum
// downsampler producing 1+2+...+60 = 1830.
func TestSumDownsampleSinglePeriod(t *testing.T) {
	backend := remote.NewMemoryBackend()
	rawSchema := buildRawSchema(t)
	writeRawChunk(t, backend)

	job := sumJob(backend, rawSchema)
	ctx := context.Background()
	if err := backend.Initialize(ctx, "metrics_1m", 1); err != nil {
		t.Fatalf("initialize output: %v", err)
	}
	if err := job.RunWindow(ctx, 0, 2000); err != nil {
		t.Fatalf("run window: %v", err)
	}

	ch, err := backend.ReadRawPartitions(ctx, "metrics_1m", 0, nil, nil)
	if err != nil {
		t.Fatalf("read raw partitions: %v", err)
	}
	var got []remote.RawPartData
	for r := range ch {
		got = append(got, r)
	}
	if len(got) != 1 || len(got[0].Chunks) != 1 {
		t.Fatalf("expected 1 partition with 1 output chunk, got %+v", got)
	}
	chunk := got[0].Chunks[0]
	if len(chunk.Columns) != 2 {
		t.Fatalf("expected timestamp + 1 value column, got %d columns", len(chunk.Columns))
	}
	ts, err := codec.DecodeTimestamps(chunk.Columns[0])
	if err != nil {
		t.Fatalf("decode output timestamps: %v", err)
	}
	if ts.Len() != 1 {
		t.Fatalf("expected exactly one downsampled row, got %d", ts.Len())
	}
	gotTS, _ := ts.Apply(0)
	if wantTS := int64(1 + 59*1000); gotTS != wantTS {
		t.Fatalf("output timestamp = %d, want %d", gotTS, wantTS)
	}
	vals, err := codec.DecodeDoubles(chunk.Columns[1])
	if err != nil {
		t.Fatalf("decode output values: %v", err)
	}
	sum, err := vals.Apply(0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if sum != 1830.0 {
		t.Fatalf("sum = %v, want 1830.0", sum)
	}
}

// TestRunWindowIdempotent re-runs the same ingestion-time window twice and
// requires byte-identical output chunks, since the period marker and
// downsamplers are pure functions of the input rows.
func TestRunWindowIdempotent(t *testing.T) {
	backend := remote.NewMemoryBackend()
	rawSchema := buildRawSchema(t)
	writeRawChunk(t, backend)

	ctx := context.Background()
	if err := backend.Initialize(ctx, "metrics_1m", 1); err != nil {
		t.Fatalf("initialize output: %v", err)
	}

	job := sumJob(backend, rawSchema)
	if err := job.RunWindow(ctx, 0, 2000); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job.RunWindow(ctx, 0, 2000); err != nil {
		t.Fatalf("second run: %v", err)
	}

	ch, err := backend.ReadRawPartitions(ctx, "metrics_1m", 0, nil, nil)
	if err != nil {
		t.Fatalf("read raw partitions: %v", err)
	}
	var chunks []remote.ChunkSetRecord
	for r := range ch {
		chunks = append(chunks, r.Chunks...)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 output chunks (one per run), got %d", len(chunks))
	}
	if string(chunks[0].Columns[0]) != string(chunks[1].Columns[0]) {
		t.Fatalf("timestamp columns differ between runs")
	}
	if string(chunks[0].Columns[1]) != string(chunks[1].Columns[1]) {
		t.Fatalf("value columns differ between runs")
	}
}

func TestDefaultPeriodEndsCoversEveryRow(t *testing.T) {
	enc := codec.NewTimestampEncoder()
	for i := int64(0); i < 10; i++ {
		enc.Append(i * 1000)
	}
	ts, err := codec.DecodeTimestamps(enc.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ends := DefaultPeriodEnds(0, ts, 3000)
	if len(ends) == 0 {
		t.Fatalf("expected at least one period")
	}
	if ends[len(ends)-1] != 9 {
		t.Fatalf("last period end = %d, want 9 (last row)", ends[len(ends)-1])
	}
	for i := 1; i < len(ends); i++ {
		if ends[i] <= ends[i-1] {
			t.Fatalf("period ends must be strictly increasing: %v", ends)
		}
	}
}

func TestCounterPeriodEndsIncludesDropBoundaries(t *testing.T) {
	enc := codec.NewTimestampEncoder()
	for i := int64(0); i < 10; i++ {
		enc.Append(i * 1000)
	}
	ts, err := codec.DecodeTimestamps(enc.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ends := CounterPeriodEnds(0, ts, 3000, true, []int64{5})
	has := func(v int64) bool {
		for _, e := range ends {
			if e == v {
				return true
			}
		}
		return false
	}
	if !has(0) {
		t.Fatalf("expected chunk's first row (0) to be a period end, got %v", ends)
	}
	if !has(4) || !has(5) {
		t.Fatalf("expected drop boundary rows 4 and 5 present, got %v", ends)
	}
}

func TestAvgFromAvgCountDownsamplerWeighted(t *testing.T) {
	avgEnc := codec.NewDoubleEncoder()
	cntEnc := codec.NewDoubleEncoder()
	avgEnc.Append(10)
	cntEnc.Append(2)
	avgEnc.Append(20)
	cntEnc.Append(1)
	avg, err := codec.DecodeDoubles(avgEnc.Bytes())
	if err != nil {
		t.Fatalf("decode avg: %v", err)
	}
	cnt, err := codec.DecodeDoubles(cntEnc.Bytes())
	if err != nil {
		t.Fatalf("decode count: %v", err)
	}
	got := AvgFromAvgCountDownsampler.Compute(avg, cnt, 0, 1)
	want := (10.0*2 + 20.0*1) / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("weighted avg = %v, want %v", got, want)
	}
}

func TestHistogramSumDownsampler(t *testing.T) {
	enc := codec.NewHistogramEncoder(codec.HistogramScheme{UpperBounds: []float64{1, 2, 5}})
	enc.Append([]float64{1, 3, 5})
	enc.Append([]float64{2, 5, 9})
	reader, err := codec.DecodeHistogram(enc.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := HistogramSumDownsampler(reader, 1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if got != 9 {
		t.Fatalf("histogram sum = %v, want 9 (last bucket's cumulative count)", got)
	}
}
