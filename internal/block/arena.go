package block

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// ErrHandleNotFound is returned when a Handle does not refer to a live
// block in this Manager.
var ErrHandleNotFound = errors.New("block: handle not found")

// Handle is an opaque (block id, offset, length) reference into a Manager's
// arena. It is the "pointer-to-off-heap-memory" indirection: readers carry
// a Handle plus a reference held via Manager.Ref/Unref, never a raw slice
// into storage that can be reclaimed out from under them.
type Handle struct {
	blockID uint64
	offset  int
	length  int
}

// block is a contiguous region of compressed chunk bytes. Multiple sealed
// chunks may be packed into one block; the block is only reclaimed once no
// reader references any chunk stored in it.
type block struct {
	id     uint64
	data   []byte
	refs   int64
	sealed bool // no further chunks will be packed into this block
}

// Manager is a shard's off-heap-style block allocator: chunk payloads are
// zstd-compressed and copied into fixed-capacity blocks; a block is
// released wholesale once its reference count reaches zero.
type Manager struct {
	blockCapacity int
	enc           *zstd.Encoder
	dec           *zstd.Decoder

	mu      sync.Mutex
	nextID  uint64
	current *block
	blocks  map[uint64]*block
}

// NewManager creates a block manager whose blocks hold up to blockCapacity
// compressed bytes before a new block is started.
func NewManager(blockCapacity int) (*Manager, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("block: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("block: new zstd decoder: %w", err)
	}
	return &Manager{
		blockCapacity: blockCapacity,
		enc:           enc,
		dec:           dec,
		blocks:        make(map[uint64]*block),
	}, nil
}

// Store compresses raw and copies it into the arena, returning a Handle
// with one reference already held on the caller's behalf (matching the
// "sealed chunk copied into block" + "shared with in-flight readers" flush
// protocol: the caller must Unref when done).
func (m *Manager) Store(raw []byte) (Handle, error) {
	compressed := m.enc.EncodeAll(raw, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.sealed || len(m.current.data)+len(compressed) > m.blockCapacity {
		m.nextID++
		m.current = &block{id: m.nextID, data: make([]byte, 0, m.blockCapacity)}
		m.blocks[m.current.id] = m.current
	}
	offset := len(m.current.data)
	m.current.data = append(m.current.data, compressed...)
	atomic.AddInt64(&m.current.refs, 1)

	if len(m.current.data) >= m.blockCapacity {
		m.current.sealed = true
	}

	return Handle{blockID: m.current.id, offset: offset, length: len(compressed)}, nil
}

// Ref increments the reference count of the block backing h. Call before
// handing the handle to a new reader that outlives the caller's own scope.
func (m *Manager) Ref(h Handle) error {
	m.mu.Lock()
	b, ok := m.blocks[h.blockID]
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	atomic.AddInt64(&b.refs, 1)
	return nil
}

// Unref decrements the reference count of the block backing h, reclaiming
// the block once the count reaches zero.
func (m *Manager) Unref(h Handle) error {
	m.mu.Lock()
	b, ok := m.blocks[h.blockID]
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	if atomic.AddInt64(&b.refs, -1) <= 0 {
		m.mu.Lock()
		delete(m.blocks, h.blockID)
		if m.current == b {
			m.current = nil
		}
		m.mu.Unlock()
	}
	return nil
}

// Read decompresses and returns the bytes referenced by h.
func (m *Manager) Read(h Handle) ([]byte, error) {
	m.mu.Lock()
	b, ok := m.blocks[h.blockID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrHandleNotFound
	}
	if h.offset+h.length > len(b.data) {
		return nil, fmt.Errorf("block: handle out of range")
	}
	compressed := b.data[h.offset : h.offset+h.length]
	return m.dec.DecodeAll(compressed, nil)
}

// LiveBlocks returns the number of blocks currently held (refs > 0),
// exposed for eviction-policy accounting.
func (m *Manager) LiveBlocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}
