// Package schema defines the data model shared by every layer of the
// memstore and query engine: datasets, their column schemas, and the
// partition-key byte sequences that identify individual time series.
package schema

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

var (
	ErrNoTimestampColumn   = errors.New("schema: exactly one timestamp column required")
	ErrMultipleTimestamps  = errors.New("schema: more than one timestamp column")
	ErrEmptyPartitionKey   = errors.New("schema: partition-key columns must be a non-empty prefix")
	ErrUndefinedColumn     = errors.New("schema: undefined column")
)

// ColumnType is the semantic type of a column. It decides which codec in
// internal/codec encodes the column's chunks.
type ColumnType int

const (
	ColumnUnknown ColumnType = iota
	ColumnTimestampLong
	ColumnDouble
	ColumnHistogram
	ColumnUTF8
	ColumnIntMap
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTimestampLong:
		return "timestamp-long"
	case ColumnDouble:
		return "double"
	case ColumnHistogram:
		return "histogram"
	case ColumnUTF8:
		return "utf8"
	case ColumnIntMap:
		return "int-map"
	default:
		return "unknown"
	}
}

// Column is one field in a Schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered list of columns for a Dataset. Exactly one column
// must have type ColumnTimestampLong; the rest are value columns.
// Partition-key columns are always a prefix of Columns; the row key is the
// timestamp column.
type Schema struct {
	Columns        []Column
	PartitionKeyLen int // number of leading columns that form the partition key
}

// NewSchema validates and constructs a Schema. The timestamp column may
// appear anywhere, but there must be exactly one, and PartitionKeyLen
// columns (a non-empty prefix) make up the partition key.
func NewSchema(columns []Column, partitionKeyLen int) (Schema, error) {
	if partitionKeyLen <= 0 || partitionKeyLen > len(columns) {
		return Schema{}, ErrEmptyPartitionKey
	}
	tsCount := 0
	for _, c := range columns {
		if c.Type == ColumnTimestampLong {
			tsCount++
		}
	}
	if tsCount == 0 {
		return Schema{}, ErrNoTimestampColumn
	}
	if tsCount > 1 {
		return Schema{}, ErrMultipleTimestamps
	}
	cp := make([]Column, len(columns))
	copy(cp, columns)
	return Schema{Columns: cp, PartitionKeyLen: partitionKeyLen}, nil
}

// TimestampIndex returns the index of the timestamp column.
func (s Schema) TimestampIndex() int {
	for i, c := range s.Columns {
		if c.Type == ColumnTimestampLong {
			return i
		}
	}
	return -1
}

// ValueColumns returns every non-timestamp column, in declared order.
func (s Schema) ValueColumns() []Column {
	out := make([]Column, 0, len(s.Columns)-1)
	for _, c := range s.Columns {
		if c.Type != ColumnTimestampLong {
			out = append(out, c)
		}
	}
	return out
}

// PartitionKeyColumns returns the schema's partition-key prefix.
func (s Schema) PartitionKeyColumns() []Column {
	return s.Columns[:s.PartitionKeyLen]
}

// ColumnIndex returns the index of a named column, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// DownsampleConfig pairs a retention resolution with a time-to-live. It
// does not name the downsamplers applied to the value columns.
type DownsampleConfig struct {
	Resolution time.Duration
	TTL        time.Duration
}

// Dataset is a named schema plus partition/row-key layout and downsample
// configuration. Immutable once created, matching spec.md's data model.
type Dataset struct {
	Name        string
	Schema      Schema
	Downsamples []DownsampleConfig
	NumShards   int
}

// PartitionKey is the serialized byte sequence of a series' partition-key
// column values. It is the stable identity of a time series and the input
// to shard-hash assignment.
type PartitionKey []byte

// String returns a human-readable (not necessarily reversible) form, used
// for logging and map keys via conversion.
func (k PartitionKey) String() string {
	return string(k)
}

// EncodePartitionKey serializes the ordered list of partition-key column
// values (already stringified by the caller) into a stable PartitionKey.
// Each value is length-prefixed so that no value's content can introduce a
// collision between two different column-value splits.
func EncodePartitionKey(values []string) PartitionKey {
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, v := range values {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.WriteString(v)
	}
	return PartitionKey(buf.Bytes())
}

// Hash returns a stable, shard-assignment hash of the partition key using
// FNV-1a, matching the "stable hash -> shard assignment" requirement
// without pulling in a hashing library the pack never uses for this.
func (k PartitionKey) Hash() uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, b := range k {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

// ShardFor returns the shard index a partition key is assigned to within a
// dataset with numShards shards.
func (k PartitionKey) ShardFor(numShards int) int {
	if numShards <= 0 {
		return 0
	}
	return int(k.Hash() % uint64(numShards))
}

// ErrMalformedPartitionKey is returned by DecodePartitionKey when the byte
// sequence is shorter than its own length prefixes claim.
var ErrMalformedPartitionKey = errors.New("schema: malformed partition key")

// DecodePartitionKey reverses EncodePartitionKey, recovering the ordered
// column values a query-side label map is built from (the key carries no
// column names of its own; callers zip the result against
// Schema.PartitionKeyColumns()).
func DecodePartitionKey(k PartitionKey) ([]string, error) {
	var out []string
	buf := []byte(k)
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, ErrMalformedPartitionKey
		}
		n := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return nil, ErrMalformedPartitionKey
		}
		out = append(out, string(buf[:n]))
		buf = buf[n:]
	}
	return out, nil
}

// Labels zips DecodePartitionKey's values against cols' names, producing
// the label map a RangeVector identifies itself by.
func Labels(k PartitionKey, cols []Column) (map[string]string, error) {
	values, err := DecodePartitionKey(k)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cols))
	for i, c := range cols {
		if i >= len(values) {
			break
		}
		out[c.Name] = values[i]
	}
	return out, nil
}
