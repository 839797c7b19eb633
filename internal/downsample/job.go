package downsample

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/go-co-op/gocron/v2"

	"chronocore/internal/codec"
	"chronocore/internal/logging"
	"chronocore/internal/partition"
	"chronocore/internal/remote"
	"chronocore/internal/schema"
)

// partitionChunkInfo builds the ChunkInfo for a freshly produced
// downsampled chunk. It carries no ChunkID since the output chunk is
// derived, not assigned one by a live partition's write path; the sink
// only needs start/end/ingestion time and row count to index it.
func partitionChunkInfo(startTime, endTime, ingestionTime, numRows int64) partition.ChunkInfo {
	return partition.ChunkInfo{
		StartTime:     startTime,
		EndTime:       endTime,
		IngestionTime: ingestionTime,
		NumRows:       numRows,
	}
}

// ErrPeriodMarkerMismatch is returned when a ColumnSpec names an input
// column of the wrong decoded type (e.g. a Histogram spec pointed at a
// double column).
var ErrPeriodMarkerMismatch = errors.New("downsample: column spec input type mismatch")

// ErrUnsupportedColumnType is returned for a raw value column whose type
// has no downsample decode path.
var ErrUnsupportedColumnType = errors.New("downsample: unsupported raw column type")

// ColumnSpec names one output column's downsampler and its input column
// indices within the raw schema's value columns.
type ColumnSpec struct {
	OutputName string
	Downsample DoubleDownsampler
	Pair       PairDownsampler // set instead of Downsample for two-input downsamplers
	InputIdx   []int           // 1 input for Downsample, 2 for Pair
	IsCounter  bool
	Histogram  bool // true routes to HistogramSumDownsampler, InputIdx[0] only
}

// Config configures one resolution's downsample job.
type Config struct {
	Now           func() time.Time
	Source        remote.ChunkSource
	Sink          remote.ChunkSink
	RawDataset    string
	OutputDataset string
	Resolution    time.Duration
	TTL           time.Duration
	WidenBy       time.Duration
	Columns       []ColumnSpec
	RawSchema     schema.Schema
	Logger        *slog.Logger
}

// Job runs one (rawDataset, outputDataset, resolution) downsample pipeline
// on a schedule. Grounded on digester/timestamp/digester.go's
// scheduler-wired stateless transform, widened from per-record digestion
// to a per-ingestion-time-window batch.
type Job struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Job.
func New(cfg Config) *Job {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Job{cfg: cfg, logger: logging.Default(cfg.Logger).With("component", "downsample")}
}

// RunWindow executes one idempotent batch over [ingStart, ingEnd),
// producing downsampled chunks for every matching raw partition. Per
// spec.md's idempotence invariant, re-running over the same window
// produces byte-identical output chunks, since the period marker and
// downsamplers are pure functions of the input chunk's rows.
func (j *Job) RunWindow(ctx context.Context, ingStart, ingEnd int64) error {
	widen := int64(j.cfg.WidenBy / time.Millisecond)
	batches, err := j.cfg.Source.GetChunksByIngestionTimeRange(
		ctx, j.cfg.RawDataset, nil,
		ingStart-widen, ingEnd,
		math.MinInt64, math.MaxInt64,
		0, 0, 0,
	)
	if err != nil {
		return err
	}

	resolutionMs := int64(j.cfg.Resolution / time.Millisecond)
	for batch := range batches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, part := range batch {
			records, err := j.downsamplePartition(part, resolutionMs)
			if err != nil {
				j.logger.Error("downsample partition failed", "partition", part.Partition.String(), "error", err)
				continue
			}
			if len(records) == 0 {
				continue
			}
			if _, err := j.cfg.Sink.Write(ctx, j.cfg.OutputDataset, records, j.cfg.TTL); err != nil {
				j.logger.Error("write downsampled chunk failed", "partition", part.Partition.String(), "error", err)
			}
		}
	}
	return nil
}

// downsamplePartition reduces every raw chunk of one partition into one
// output ChunkSetRecord per raw chunk (chunk boundaries are not merged
// across chunks, matching "emits new chunks for lower-resolution
// datasets" rather than one global resample).
func (j *Job) downsamplePartition(part remote.RawPartData, resolutionMs int64) ([]remote.ChunkSetRecord, error) {
	var out []remote.ChunkSetRecord
	for _, chunkRec := range part.Chunks {
		rec, err := j.downsampleChunk(part.Partition, chunkRec, resolutionMs)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (j *Job) downsampleChunk(key schema.PartitionKey, chunkRec remote.ChunkSetRecord, resolutionMs int64) (*remote.ChunkSetRecord, error) {
	if len(chunkRec.Columns) == 0 {
		return nil, nil
	}
	ts, err := codec.DecodeTimestamps(chunkRec.Columns[0])
	if err != nil {
		return nil, err
	}
	if ts.Len() == 0 {
		return nil, nil
	}

	decodedCols := make([]any, len(chunkRec.Columns)-1)
	for i, raw := range chunkRec.Columns[1:] {
		kind := j.cfg.RawSchema.ValueColumns()[i].Type
		col, err := decodeValueColumn(kind, raw)
		if err != nil {
			return nil, err
		}
		decodedCols[i] = col
	}

	ends := j.periodEnds(ts, decodedCols, resolutionMs)
	if len(ends) == 0 {
		return nil, nil
	}

	outTS := codec.NewTimestampEncoder()
	outCols := make([]*codec.DoubleEncoder, len(j.cfg.Columns))
	for i := range outCols {
		outCols[i] = codec.NewDoubleEncoder()
	}

	prevEnd := int64(-1)
	for _, end := range ends {
		start := prevEnd + 1
		periodTS, err := TimestampDownsampler(ts, end)
		if err != nil {
			return nil, err
		}
		outTS.Append(periodTS)
		for i, spec := range j.cfg.Columns {
			v, err := j.computeColumn(spec, decodedCols, start, end)
			if err != nil {
				return nil, err
			}
			outCols[i].Append(v)
		}
		prevEnd = end
	}

	columns := make([][]byte, 0, len(outCols)+1)
	columns = append(columns, outTS.Bytes())
	for _, c := range outCols {
		columns = append(columns, c.Bytes())
	}

	startTS, _ := codec.DecodeTimestamps(outTS.Bytes())
	firstTS, _ := startTS.Apply(0)
	lastTS, _ := startTS.Apply(startTS.Len() - 1)

	return &remote.ChunkSetRecord{
		Partition: key,
		Info: partitionChunkInfo(firstTS, lastTS, chunkRec.Info.IngestionTime, int64(len(ends))),
		Columns:   columns,
	}, nil
}

func (j *Job) periodEnds(ts *codec.TimestampReader, decodedCols []any, resolutionMs int64) []int64 {
	startTime, _ := ts.Apply(0)
	for _, spec := range j.cfg.Columns {
		if !spec.IsCounter {
			continue
		}
		col, ok := decodedCols[spec.InputIdx[0]].(*codec.DoubleReader)
		if !ok {
			continue
		}
		return CounterPeriodEnds(startTime, ts, resolutionMs, col.Dropped(), col.DropPositions())
	}
	return DefaultPeriodEnds(startTime, ts, resolutionMs)
}

func (j *Job) computeColumn(spec ColumnSpec, decodedCols []any, start, end int64) (float64, error) {
	if spec.Histogram {
		hist, ok := decodedCols[spec.InputIdx[0]].(*codec.HistogramReader)
		if !ok {
			return 0, ErrPeriodMarkerMismatch
		}
		return HistogramSumDownsampler(hist, end)
	}
	if spec.Pair != nil {
		a, ok1 := decodedCols[spec.InputIdx[0]].(*codec.DoubleReader)
		b, ok2 := decodedCols[spec.InputIdx[1]].(*codec.DoubleReader)
		if !ok1 || !ok2 {
			return 0, ErrPeriodMarkerMismatch
		}
		return spec.Pair.Compute(a, b, start, end), nil
	}
	col, ok := decodedCols[spec.InputIdx[0]].(*codec.DoubleReader)
	if !ok {
		return 0, ErrPeriodMarkerMismatch
	}
	return spec.Downsample.Compute(col, start, end), nil
}

func decodeValueColumn(kind schema.ColumnType, raw []byte) (any, error) {
	switch kind {
	case schema.ColumnDouble:
		return codec.DecodeDoubles(raw)
	case schema.ColumnHistogram:
		return codec.DecodeHistogram(raw)
	case schema.ColumnUTF8:
		return codec.DecodeUTF8(raw)
	case schema.ColumnIntMap:
		return codec.DecodeIntMap(raw)
	default:
		return nil, ErrUnsupportedColumnType
	}
}

// ScheduleRecurring registers RunWindow to run every interval, each
// invocation covering the window ending "now" and starting
// WidenBy+interval earlier, via the teacher's go-co-op/gocron scheduler.
func (j *Job) ScheduleRecurring(sched gocron.Scheduler, interval time.Duration) error {
	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			now := j.cfg.Now().UnixMilli()
			start := now - int64(interval/time.Millisecond)
			if err := j.RunWindow(context.Background(), start, now); err != nil {
				j.logger.Error("downsample window failed", "error", err)
			}
		}),
	)
	return err
}
