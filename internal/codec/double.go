package codec

import (
	"math"
	"math/bits"
)

// DoubleEncoder append-only-encodes a double (value) column using
// Gorilla-style XOR compression: each value is XORed against the previous
// one and the resulting leading/trailing zero run is bit-packed. NaN is
// carried through as its raw bit pattern, so NaN payloads round-trip
// bit-exact along with ordinary values.
//
// It also tracks the counter-dip detector required for the downsample
// pipeline's counter period marker: dropped is set the first time an
// appended value is strictly less than the previous one, and dropPositions
// records every row at which that happens.
type DoubleEncoder struct {
	n    int64
	w    bitWriter
	have bool

	prevBits            uint64
	prevVal             float64
	prevLeading         int
	prevTrailing        int
	haveBlock           bool
	dropped             bool
	dropPositions       []int64
}

// NewDoubleEncoder returns an empty encoder.
func NewDoubleEncoder() *DoubleEncoder {
	return &DoubleEncoder{}
}

// Append adds the next value.
func (e *DoubleEncoder) Append(v float64) {
	bitsv := math.Float64bits(v)
	if !e.have {
		e.w.writeBits(bitsv, 64)
	} else {
		xor := bitsv ^ e.prevBits
		if xor == 0 {
			e.w.writeBit(false)
		} else {
			e.w.writeBit(true)
			leading := bits.LeadingZeros64(xor)
			if leading > 31 {
				leading = 31
			}
			trailing := bits.TrailingZeros64(xor)
			meaningful := 64 - leading - trailing
			if e.haveBlock && leading >= e.prevLeading && trailing >= e.prevTrailing {
				e.w.writeBit(false)
				fitMeaningful := 64 - e.prevLeading - e.prevTrailing
				e.w.writeBits(xor>>uint(e.prevTrailing), uint(fitMeaningful))
			} else {
				e.w.writeBit(true)
				e.w.writeBits(uint64(leading), 5)
				e.w.writeBits(uint64(meaningful-1), 6)
				e.w.writeBits(xor>>uint(trailing), uint(meaningful))
				e.prevLeading = leading
				e.prevTrailing = trailing
				e.haveBlock = true
			}
		}
	}

	// v < prevVal via IEEE comparison: NaN never compares less than
	// anything, so a NaN neighbor never triggers a spurious drop.
	if e.have && v < e.prevVal {
		e.dropped = true
		e.dropPositions = append(e.dropPositions, e.n)
	}

	e.prevBits = bitsv
	e.prevVal = v
	e.have = true
	e.n++
}

// Len returns the number of appended rows.
func (e *DoubleEncoder) Len() int64 { return e.n }

// Dropped reports whether any counter-dip was observed.
func (e *DoubleEncoder) Dropped() bool { return e.dropped }

// DropPositions returns the row indices where a counter dip begins, in
// increasing order.
func (e *DoubleEncoder) DropPositions() []int64 { return e.dropPositions }

// Bytes finalizes and serializes the encoder. Layout:
// [n varint][dropped byte][numDrops varint][drop positions varint...][bit payload]
func (e *DoubleEncoder) Bytes() []byte {
	buf := make([]byte, 0, 16+len(e.dropPositions)*4+len(e.w.bytes()))
	buf = appendUvarint(buf, uint64(e.n))
	if e.dropped {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUvarint(buf, uint64(len(e.dropPositions)))
	for _, p := range e.dropPositions {
		buf = appendUvarint(buf, uint64(p))
	}
	buf = append(buf, e.w.bytes()...)
	return buf
}

// DoubleReader is the sealed, decoded form of a DoubleEncoder.
type DoubleReader struct {
	values        []float64
	dropped       bool
	dropPositions []int64
}

// DecodeDoubles decodes bytes produced by DoubleEncoder.Bytes.
func DecodeDoubles(buf []byte) (*DoubleReader, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 1 {
		return nil, errDecode
	}
	dropped := buf[0] == 1
	buf = buf[1:]
	numDrops, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	drops := make([]int64, 0, numDrops)
	for i := uint64(0); i < numDrops; i++ {
		var p uint64
		p, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		drops = append(drops, int64(p))
	}

	values := make([]float64, 0, n)
	r := newBitReader(buf)
	var prevBits uint64
	var prevLeading, prevTrailing int
	for i := uint64(0); i < n; i++ {
		if i == 0 {
			prevBits = r.readBits(64)
		} else {
			sameBit := r.readBit()
			if !sameBit {
				// value unchanged
			} else {
				reuseBlock := r.readBit()
				var leading, trailing, meaningful int
				if !reuseBlock {
					leading = prevLeading
					trailing = prevTrailing
					meaningful = 64 - leading - trailing
				} else {
					leading = int(r.readBits(5))
					meaningful = int(r.readBits(6)) + 1
					trailing = 64 - leading - meaningful
					prevLeading = leading
					prevTrailing = trailing
				}
				xorBits := r.readBits(uint(meaningful)) << uint(trailing)
				prevBits ^= xorBits
			}
		}
		values = append(values, math.Float64frombits(prevBits))
	}
	return &DoubleReader{values: values, dropped: dropped, dropPositions: drops}, nil
}

// Len returns the number of rows.
func (r *DoubleReader) Len() int64 { return int64(len(r.values)) }

// Apply returns the value at rowNum.
func (r *DoubleReader) Apply(rowNum int64) (float64, error) {
	if rowNum < 0 || rowNum >= int64(len(r.values)) {
		return 0, ErrEmptyColumn
	}
	return r.values[rowNum], nil
}

// Dropped reports whether the encoder observed a counter dip.
func (r *DoubleReader) Dropped() bool { return r.dropped }

// DropPositions returns the row indices where a counter dip begins.
func (r *DoubleReader) DropPositions() []int64 { return r.dropPositions }

// Iterate calls fn for each row starting at startRow, in increasing order.
func (r *DoubleReader) Iterate(startRow int64, fn func(row int64, v float64) bool) {
	for row := startRow; row < int64(len(r.values)); row++ {
		if !fn(row, r.values[row]) {
			return
		}
	}
}

// Sum returns the sum of non-NaN values over [startRow, endRow], and the
// count of non-NaN values summed, matching the invariant that downsample
// aggregators never read NaN into an accumulator.
func (r *DoubleReader) Sum(startRow, endRow int64) (sum float64, count int64) {
	for row := startRow; row <= endRow && row < int64(len(r.values)); row++ {
		v := r.values[row]
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	return sum, count
}

// Count returns the count of non-NaN values over [startRow, endRow].
func (r *DoubleReader) Count(startRow, endRow int64) int64 {
	_, count := r.Sum(startRow, endRow)
	return count
}
