package codec

import "math"

// HistogramScheme is the ordered list of cumulative-bucket upper bounds for
// a histogram column. The last bound is conventionally +Inf. A chunk's
// scheme is fixed for the chunk's lifetime; schema changes take effect at
// the next chunk boundary, which is how mid-partition scheme changes are
// supported (internal/partition opens a new chunk rather than mutating one
// in place).
type HistogramScheme struct {
	UpperBounds []float64
}

// HistogramEncoder append-only-encodes a histogram column: a bucket-scheme
// header, followed by one delta-varint column per bucket holding the
// cumulative count for that bucket at each row.
type HistogramEncoder struct {
	scheme HistogramScheme
	n      int64
	prev   []int64
	cols   [][]byte
}

// NewHistogramEncoder returns an empty encoder for the given bucket scheme.
func NewHistogramEncoder(scheme HistogramScheme) *HistogramEncoder {
	return &HistogramEncoder{
		scheme: scheme,
		prev:   make([]int64, len(scheme.UpperBounds)),
		cols:   make([][]byte, len(scheme.UpperBounds)),
	}
}

// Append adds the next row's per-bucket cumulative counts. len(counts) must
// equal the scheme's bucket count.
func (e *HistogramEncoder) Append(counts []float64) {
	for i, c := range counts {
		cur := int64(math.Round(c))
		delta := cur - e.prev[i]
		e.cols[i] = appendVarint(e.cols[i], delta)
		e.prev[i] = cur
	}
	e.n++
}

// Len returns the number of appended rows.
func (e *HistogramEncoder) Len() int64 { return e.n }

// Bytes finalizes and serializes the encoder. Layout:
// [n varint][numBuckets varint][upperBounds f64 each (float64 bits, written as a uvarint)]
// [per bucket: colLen varint, colBytes]
func (e *HistogramEncoder) Bytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendUvarint(buf, uint64(e.n))
	buf = appendUvarint(buf, uint64(len(e.scheme.UpperBounds)))
	for _, ub := range e.scheme.UpperBounds {
		buf = appendUvarint(buf, math.Float64bits(ub))
	}
	for _, col := range e.cols {
		buf = appendUvarint(buf, uint64(len(col)))
		buf = append(buf, col...)
	}
	return buf
}

// HistogramReader is the sealed, decoded form of a HistogramEncoder.
type HistogramReader struct {
	scheme HistogramScheme
	n      int64
	counts [][]int64 // per bucket, per row cumulative count
}

// DecodeHistogram decodes bytes produced by HistogramEncoder.Bytes.
func DecodeHistogram(buf []byte) (*HistogramReader, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	numBuckets, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	scheme := HistogramScheme{UpperBounds: make([]float64, numBuckets)}
	for i := range scheme.UpperBounds {
		var bits uint64
		bits, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		scheme.UpperBounds[i] = math.Float64frombits(bits)
	}
	counts := make([][]int64, numBuckets)
	for b := uint64(0); b < numBuckets; b++ {
		var colLen uint64
		colLen, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		if uint64(len(buf)) < colLen {
			return nil, errDecode
		}
		col := buf[:colLen]
		buf = buf[colLen:]
		vals := make([]int64, 0, n)
		var cur int64
		for uint64(len(vals)) < n {
			var delta int64
			delta, col, err = readVarint(col)
			if err != nil {
				return nil, err
			}
			cur += delta
			vals = append(vals, cur)
		}
		counts[b] = vals
	}
	return &HistogramReader{scheme: scheme, n: int64(n), counts: counts}, nil
}

// Len returns the number of rows.
func (r *HistogramReader) Len() int64 { return r.n }

// Scheme returns the bucket scheme for this chunk.
func (r *HistogramReader) Scheme() HistogramScheme { return r.scheme }

// Apply returns the per-bucket cumulative counts at rowNum, in scheme order.
func (r *HistogramReader) Apply(rowNum int64) ([]float64, error) {
	if rowNum < 0 || rowNum >= r.n {
		return nil, ErrEmptyColumn
	}
	out := make([]float64, len(r.counts))
	for b := range r.counts {
		out[b] = float64(r.counts[b][rowNum])
	}
	return out, nil
}

// Sum returns the histogram-sum downsampler's input: the cumulative count
// of the last (highest, i.e. +Inf) bucket at rowNum, which is the total
// observation count for a standard cumulative histogram.
func (r *HistogramReader) Sum(rowNum int64) (float64, error) {
	if rowNum < 0 || rowNum >= r.n || len(r.counts) == 0 {
		return 0, ErrEmptyColumn
	}
	return float64(r.counts[len(r.counts)-1][rowNum]), nil
}
