package codec

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkIDEncoding is base32hex (RFC 4648) lowercase without padding. The
// alphabet 0-9a-v preserves lexicographic sort order, so two ChunkIDs sort
// the same way as strings and as byte arrays.
var chunkIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ChunkID uniquely identifies a chunk. It is a UUIDv7: 48 bits of
// millisecond-resolution creation time followed by randomness, so
// id(t1) > id(t2) whenever t1 > t2, matching the monotonic, time-encoded
// chunk-id invariant.
type ChunkID [16]byte

// NewChunkID creates a ChunkID from a freshly generated UUIDv7.
func NewChunkID() ChunkID {
	return ChunkID(uuid.Must(uuid.NewV7()))
}

// ParseChunkID parses a 26-character base32hex string into a ChunkID.
func ParseChunkID(value string) (ChunkID, error) {
	if len(value) != 26 {
		return ChunkID{}, fmt.Errorf("codec: invalid chunk ID length: %d (want 26)", len(value))
	}
	decoded, err := chunkIDEncoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		return ChunkID{}, fmt.Errorf("codec: invalid chunk ID: %w", err)
	}
	var id ChunkID
	copy(id[:], decoded)
	return id, nil
}

// String returns the 26-character lowercase base32hex representation.
func (id ChunkID) String() string {
	return strings.ToLower(chunkIDEncoding.EncodeToString(id[:]))
}

// Time returns the creation time encoded in the UUIDv7 ChunkID.
func (id ChunkID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// Before reports whether id was created before other. Since ChunkIDs are
// time-encoded and lexicographically sortable, this is a plain byte
// comparison.
func (id ChunkID) Before(other ChunkID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// MarshalBinary returns the raw 16 bytes, so encoders that recognize
// encoding.BinaryMarshaler (msgpack among them) store a ChunkID as a
// compact binary blob rather than a 16-element array.
func (id ChunkID) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16)
	copy(out, id[:])
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (id *ChunkID) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return fmt.Errorf("codec: invalid chunk ID binary length: %d (want 16)", len(data))
	}
	copy(id[:], data)
	return nil
}
