package codec

// UTF8Encoder and IntMapEncoder back the schema's less performance-critical
// column types (tag/label-shaped columns, not in the hot aggregation path
// spec.md's chunk codec section specifies in detail). They use a plain
// length-prefixed encoding on the standard library rather than a dedicated
// compression scheme: no pack library targets string/map column
// compression, and these columns are not on the downsample or range-vector
// hot path that justifies one.

// UTF8Encoder append-only-encodes a column of strings.
type UTF8Encoder struct {
	values []string
}

func NewUTF8Encoder() *UTF8Encoder { return &UTF8Encoder{} }

func (e *UTF8Encoder) Append(v string) { e.values = append(e.values, v) }

func (e *UTF8Encoder) Len() int64 { return int64(len(e.values)) }

func (e *UTF8Encoder) Bytes() []byte {
	buf := appendUvarint(nil, uint64(len(e.values)))
	for _, v := range e.values {
		buf = appendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// UTF8Reader is the decoded form of a UTF8Encoder.
type UTF8Reader struct{ values []string }

func DecodeUTF8(buf []byte) (*UTF8Reader, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		var strLen uint64
		strLen, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		if uint64(len(buf)) < strLen {
			return nil, errDecode
		}
		values = append(values, string(buf[:strLen]))
		buf = buf[strLen:]
	}
	return &UTF8Reader{values: values}, nil
}

func (r *UTF8Reader) Len() int64 { return int64(len(r.values)) }

func (r *UTF8Reader) Apply(rowNum int64) (string, error) {
	if rowNum < 0 || rowNum >= int64(len(r.values)) {
		return "", ErrEmptyColumn
	}
	return r.values[rowNum], nil
}

// IntMapEncoder append-only-encodes a column of small integer-valued maps
// (e.g. per-series label-cardinality counters), one map per row.
type IntMapEncoder struct {
	rows []map[string]int64
}

func NewIntMapEncoder() *IntMapEncoder { return &IntMapEncoder{} }

func (e *IntMapEncoder) Append(v map[string]int64) { e.rows = append(e.rows, v) }

func (e *IntMapEncoder) Len() int64 { return int64(len(e.rows)) }

func (e *IntMapEncoder) Bytes() []byte {
	buf := appendUvarint(nil, uint64(len(e.rows)))
	for _, row := range e.rows {
		buf = appendUvarint(buf, uint64(len(row)))
		for k, v := range row {
			buf = appendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)
			buf = appendVarint(buf, v)
		}
	}
	return buf
}

// IntMapReader is the decoded form of an IntMapEncoder.
type IntMapReader struct{ rows []map[string]int64 }

func DecodeIntMap(buf []byte) (*IntMapReader, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]int64, 0, n)
	for i := uint64(0); i < n; i++ {
		var entries uint64
		entries, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		row := make(map[string]int64, entries)
		for j := uint64(0); j < entries; j++ {
			var keyLen uint64
			keyLen, buf, err = readUvarint(buf)
			if err != nil {
				return nil, err
			}
			if uint64(len(buf)) < keyLen {
				return nil, errDecode
			}
			key := string(buf[:keyLen])
			buf = buf[keyLen:]
			var v int64
			v, buf, err = readVarint(buf)
			if err != nil {
				return nil, err
			}
			row[key] = v
		}
		rows = append(rows, row)
	}
	return &IntMapReader{rows: rows}, nil
}

func (r *IntMapReader) Len() int64 { return int64(len(r.rows)) }

func (r *IntMapReader) Apply(rowNum int64) (map[string]int64, error) {
	if rowNum < 0 || rowNum >= int64(len(r.rows)) {
		return nil, ErrEmptyColumn
	}
	return r.rows[rowNum], nil
}
