package codec

import (
	"encoding/binary"
	"errors"
	"sort"
)

// ErrEmptyColumn is returned by random-access readers when the column has
// no rows.
var ErrEmptyColumn = errors.New("codec: column has no rows")

// tsSegment is one run-length segment of the delta-of-delta stream: count
// consecutive rows whose delta (ts[i]-ts[i-1]) advances by a constant dod
// each row, starting from startD at row startRow.
type tsSegment struct {
	startRow int64
	startTS  int64
	startD   int64
	dod      int64
	count    int64
}

// TimestampEncoder append-only-encodes a timestamp (long) column using
// delta-of-delta values run-length-encoded, so a constant sampling interval
// collapses to a single segment: O(1) amortized append.
type TimestampEncoder struct {
	n         int64
	base      int64
	haveBase  bool
	prevTS    int64
	prevDelta int64
	haveDelta bool
	open      *tsSegment
	sealed    []tsSegment
}

// NewTimestampEncoder returns an empty encoder.
func NewTimestampEncoder() *TimestampEncoder {
	return &TimestampEncoder{}
}

// Append adds the next timestamp, in monotonically increasing epoch
// milliseconds (the unit the rest of the engine uses).
// Callers (internal/partition) are responsible for rejecting out-of-order
// samples before calling Append.
func (e *TimestampEncoder) Append(ts int64) {
	switch {
	case !e.haveBase:
		e.base = ts
		e.haveBase = true
		e.prevTS = ts
		e.n = 1
	case !e.haveDelta:
		d := ts - e.prevTS
		e.open = &tsSegment{startRow: 1, startTS: ts, startD: d, dod: 0, count: 1}
		e.prevDelta = d
		e.haveDelta = true
		e.prevTS = ts
		e.n = 2
	default:
		d := ts - e.prevTS
		dod := d - e.prevDelta
		if e.open != nil && dod == e.open.dod {
			e.open.count++
		} else {
			if e.open != nil {
				e.sealed = append(e.sealed, *e.open)
			}
			e.open = &tsSegment{startRow: e.n, startTS: ts, startD: d, dod: dod, count: 1}
		}
		e.prevDelta = d
		e.prevTS = ts
		e.n++
	}
}

// Len returns the number of appended rows.
func (e *TimestampEncoder) Len() int64 { return e.n }

// Bytes finalizes and serializes the encoder. Layout:
// [n varint][base zigzag]
// [numSegments varint][per segment: startRow varint, startD zigzag, dod zigzag, count varint]
func (e *TimestampEncoder) Bytes() []byte {
	segs := e.sealed
	if e.open != nil {
		segs = append(append([]tsSegment{}, e.sealed...), *e.open)
	}
	buf := make([]byte, 0, 32+len(segs)*24)
	buf = appendUvarint(buf, uint64(e.n))
	buf = appendVarint(buf, e.base)
	buf = appendUvarint(buf, uint64(len(segs)))
	for _, s := range segs {
		buf = appendUvarint(buf, uint64(s.startRow))
		buf = appendVarint(buf, s.startD)
		buf = appendVarint(buf, s.dod)
		buf = appendUvarint(buf, uint64(s.count))
	}
	return buf
}

// TimestampReader is the sealed, decoded form of a TimestampEncoder,
// supporting O(log n) random/ceiling access and iteration that resolves
// each row the same way.
type TimestampReader struct {
	n    int64
	base int64
	segs []tsSegment
}

// DecodeTimestamps decodes bytes produced by TimestampEncoder.Bytes.
func DecodeTimestamps(buf []byte) (*TimestampReader, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	base, buf, err := readVarint(buf)
	if err != nil {
		return nil, err
	}
	numSegs, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	segs := make([]tsSegment, 0, numSegs)
	for i := uint64(0); i < numSegs; i++ {
		var s tsSegment
		var startRow, count uint64
		startRow, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		s.startRow = int64(startRow)
		s.startD, buf, err = readVarint(buf)
		if err != nil {
			return nil, err
		}
		s.dod, buf, err = readVarint(buf)
		if err != nil {
			return nil, err
		}
		count, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		s.count = int64(count)
		s.startTS = 0 // filled below
		segs = append(segs, s)
	}
	// Reconstruct startTS for each segment sequentially.
	prevTS := int64(base)
	for i := range segs {
		segs[i].startTS = prevTS + segs[i].startD
		// value at last row of this segment, to seed next segment's prevTS.
		j := segs[i].count - 1
		lastTS := segs[i].startTS + j*segs[i].startD + segs[i].dod*j*(j+1)/2
		prevTS = lastTS
	}
	return &TimestampReader{n: int64(n), base: base, segs: segs}, nil
}

// Len returns the number of rows.
func (r *TimestampReader) Len() int64 { return r.n }

// Apply returns the timestamp at rowNum (0-based), O(log n).
func (r *TimestampReader) Apply(rowNum int64) (int64, error) {
	if rowNum < 0 || rowNum >= r.n {
		return 0, ErrEmptyColumn
	}
	if rowNum == 0 {
		return r.base, nil
	}
	idx := sort.Search(len(r.segs), func(i int) bool {
		return r.segs[i].startRow+r.segs[i].count > rowNum
	})
	s := r.segs[idx]
	j := rowNum - s.startRow
	return s.startTS + j*s.startD + s.dod*j*(j+1)/2, nil
}

// CeilingIndex returns the smallest rowNum whose timestamp is >= ts, or
// r.Len() if none. O(log n): binary search over segments, then a bounded
// scan or closed-form solve within the segment.
func (r *TimestampReader) CeilingIndex(ts int64) int64 {
	if r.n == 0 {
		return 0
	}
	if ts <= r.base {
		return 0
	}
	segIdx := sort.Search(len(r.segs), func(i int) bool {
		lastRow := r.segs[i].startRow + r.segs[i].count - 1
		last, _ := r.Apply(lastRow)
		return last >= ts
	})
	if segIdx == len(r.segs) {
		return r.n
	}
	s := r.segs[segIdx]
	// Binary search j in [0, count) for the smallest j whose value >= ts.
	lo, hi := int64(0), s.count-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		v := s.startTS + mid*s.startD + s.dod*mid*(mid+1)/2
		if v >= ts {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return s.startRow + lo
}

// Iterate calls fn for each row starting at startRow, in increasing row
// order, stopping early if fn returns false. O(log n) per step: each row
// is resolved with Apply.
func (r *TimestampReader) Iterate(startRow int64, fn func(row int64, ts int64) bool) {
	for row := startRow; row < r.n; row++ {
		ts, err := r.Apply(row)
		if err != nil {
			return
		}
		if !fn(row, ts) {
			return
		}
	}
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, errDecode
	}
	return v, buf[n:], nil
}

func readVarint(buf []byte) (int64, []byte, error) {
	v, n := binary.Varint(buf)
	if n <= 0 {
		return 0, nil, errDecode
	}
	return v, buf[n:], nil
}

var errDecode = errors.New("codec: malformed column data")
