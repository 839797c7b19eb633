package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cobra"

	"chronocore/internal/block"
	"chronocore/internal/downsample"
	"chronocore/internal/exec"
	"chronocore/internal/logical"
	"chronocore/internal/memstore"
	"chronocore/internal/partition"
	"chronocore/internal/planner"
	"chronocore/internal/remote"
	"chronocore/internal/schema"
)

// newDemoCmd returns the "demo" command: a self-contained walkthrough of
// ingest, downsample, and query against synthetic data, for smoke-testing
// and illustration without a running server (this engine has none — see
// DESIGN.md).
func newDemoCmd(logger *slog.Logger) *cobra.Command {
	var hostCount, sampleCount int
	var explain bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Ingest synthetic metrics, downsample them, and run a query",
		Long: "Sets up an in-memory dataset, ingests synthetic per-host counter\n" +
			"samples, runs one downsample window over a separate raw copy, and\n" +
			"evaluates sum(rate(cpu_usage[step])) through the query planner,\n" +
			"printing both the downsample result and the query result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, logger, hostCount, sampleCount, explain)
		},
	}
	cmd.Flags().IntVar(&hostCount, "hosts", 3, "number of synthetic hosts")
	cmd.Flags().IntVar(&sampleCount, "samples", 120, "one-second samples per host")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the materialized exec plan's trace before running it")
	return cmd
}

func rawSchema() (schema.Schema, error) {
	return schema.NewSchema([]schema.Column{
		{Name: "host", Type: schema.ColumnUTF8},
		{Name: "timestamp", Type: schema.ColumnTimestampLong},
		{Name: "value", Type: schema.ColumnDouble},
	}, 1)
}

func runDemo(cmd *cobra.Command, logger *slog.Logger, hostCount, sampleCount int, explain bool) error {
	ctx := context.Background()
	sch, err := rawSchema()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	store := memstore.New(memstore.Config{Logger: logger})
	if err := store.Setup(schema.Dataset{Name: "cpu_usage", Schema: sch, NumShards: 2}); err != nil {
		return fmt.Errorf("setup dataset: %w", err)
	}

	backend := remote.NewMemoryBackend()
	if err := backend.Initialize(ctx, "cpu_usage", 1); err != nil {
		return fmt.Errorf("initialize remote backend: %w", err)
	}

	hosts := make([]string, hostCount)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("host-%d", i+1)
	}
	for _, host := range hosts {
		values := syntheticCounter(sampleCount, host)
		if err := ingestLive(store, "cpu_usage", host, values); err != nil {
			return fmt.Errorf("ingest %s into memstore: %w", host, err)
		}
		if err := ingestRemote(ctx, backend, "cpu_usage", host, sch, values); err != nil {
			return fmt.Errorf("ingest %s into remote backend: %w", host, err)
		}
	}

	job := downsample.New(downsample.Config{
		Source:        backend,
		Sink:          backend,
		RawDataset:    "cpu_usage",
		OutputDataset: "cpu_usage_30s",
		Resolution:    30 * time.Second,
		TTL:           24 * time.Hour,
		RawSchema:     sch,
		Columns: []downsample.ColumnSpec{
			{OutputName: "value_avg", Downsample: downsample.AvgDownsampler, InputIdx: []int{1}},
		},
		Logger: logger,
	})
	if err := job.RunWindow(ctx, 0, int64(sampleCount)*1000); err != nil {
		return fmt.Errorf("run downsample window: %w", err)
	}
	downsampledRows := countRows(ctx, backend, "cpu_usage_30s")

	plan := &logical.VectorPlan{
		Root: &logical.Aggregate{
			Op: logical.AggSum,
			Inner: &logical.PeriodicSeriesWithWindowing{
				Raw:           &logical.RawSeries{Selector: "cpu_usage", Start: 0, End: int64(sampleCount) * 1000},
				Start:         30000, Step: 30000, End: int64(sampleCount) * 1000, Window: 30000,
				RangeFunction: "rate",
			},
		},
		Start: 0, End: int64(sampleCount) * 1000,
	}
	execPlan, err := planner.Materialize(plan, store, planner.Options{Dataset: "cpu_usage"})
	if err != nil {
		return fmt.Errorf("materialize plan: %w", err)
	}
	if explain {
		fmt.Print(planner.Explain(execPlan).String())
		fmt.Println()
	}

	session := exec.NewQuerySession(time.Time{}, 0, "demo")
	_, vectors, err := execPlan.Execute(ctx, store, session, time.Now)
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}

	p := newPrinter(outputFormat(cmd))
	if outputFormat(cmd) == "json" {
		return p.json(map[string]any{"downsampled_rows": downsampledRows, "query_result": vectors})
	}

	fmt.Printf("ingested %d hosts x %d samples, downsample produced %d rows in cpu_usage_30s\n\n", hostCount, sampleCount, downsampledRows)
	var rows [][]string
	for _, rv := range vectors {
		for _, s := range rv.Samples {
			rows = append(rows, []string{fmt.Sprintf("%d", s.Timestamp), fmt.Sprintf("%.4f", s.Value)})
		}
	}
	p.table([]string{"TIMESTAMP_MS", "SUM(RATE)"}, rows)
	return nil
}

// syntheticCounter builds a monotonically increasing counter with a
// per-host slope, the shape sum(rate(...)) is meant to recover.
func syntheticCounter(n int, host string) []float64 {
	slope := 1.0
	for _, c := range host {
		slope += float64(c%7) * 0.1
	}
	values := make([]float64, n)
	total := 0.0
	for i := range values {
		total += slope
		values[i] = math.Round(total*100) / 100
	}
	return values
}

func ingestLive(store *memstore.Store, dataset, host string, values []float64) error {
	key := schema.EncodePartitionKey([]string{host})
	sh, err := store.ShardFor(dataset, key)
	if err != nil {
		return err
	}
	p := sh.GetOrCreate(key, map[string]string{"host": host})
	for i, v := range values {
		if err := p.Ingest(partition.Row{Timestamp: int64(i) * 1000, Values: []any{host, v}}, 0); err != nil {
			return err
		}
	}
	if _, err := p.SwitchBuffers(false); err != nil {
		return err
	}
	sh.CommitIndex()
	return nil
}

func ingestRemote(ctx context.Context, backend *remote.MemoryBackend, dataset, host string, sch schema.Schema, values []float64) error {
	mgr, err := block.NewManager(1 << 20)
	if err != nil {
		return err
	}
	key := schema.EncodePartitionKey([]string{host})
	p := partition.New(key, sch, partition.Config{BlockMgr: mgr})
	for i, v := range values {
		if err := p.Ingest(partition.Row{Timestamp: int64(i) * 1000, Values: []any{host, v}}, 0); err != nil {
			return err
		}
	}
	cs, err := p.SwitchBuffers(true)
	if err != nil || cs == nil {
		return fmt.Errorf("seal raw chunk: %w", err)
	}
	columns, err := cs.RawColumns()
	if err != nil {
		return err
	}
	_, err = backend.Write(ctx, dataset, []remote.ChunkSetRecord{{Partition: key, Info: cs.Info, Columns: columns}}, time.Hour)
	return err
}

func countRows(ctx context.Context, backend *remote.MemoryBackend, dataset string) int {
	batches, err := backend.GetChunksByIngestionTimeRange(ctx, dataset, nil, math.MinInt64, math.MaxInt64, math.MinInt64, math.MaxInt64, 0, 0, 0)
	if err != nil {
		return 0
	}
	rows := 0
	for batch := range batches {
		for _, part := range batch {
			for _, c := range part.Chunks {
				rows += int(c.Info.NumRows)
			}
		}
	}
	return rows
}
