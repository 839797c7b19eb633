package block

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestBufferPoolAcquireRelease(t *testing.T) {
	pool := NewBufferPool(1, 64)
	ctx := context.Background()

	buf, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	buf.Append([]byte("hello"))
	if buf.Size() != 5 {
		t.Fatalf("size = %d, want 5", buf.Size())
	}

	done := make(chan struct{})
	go func() {
		ctx2, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		b2, err := pool.Acquire(ctx2)
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		if b2.Size() != 0 {
			t.Errorf("recycled buffer not reset, size = %d", b2.Size())
		}
		close(done)
	}()

	// Give the goroutine a chance to block, then confirm ingest pressure.
	time.Sleep(10 * time.Millisecond)
	if !pool.UnderPressure() {
		t.Fatalf("expected UnderPressure once pool is exhausted")
	}
	pool.Release(buf)
	<-done
}

func TestManagerStoreAndRead(t *testing.T) {
	m, err := NewManager(1 << 20)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	payload := bytes.Repeat([]byte("abc"), 100)

	h, err := m.Store(payload)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := m.Read(h)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch")
	}

	if err := m.Unref(h); err != nil {
		t.Fatalf("unref: %v", err)
	}
	if m.LiveBlocks() != 0 {
		t.Fatalf("expected block reclaimed, live = %d", m.LiveBlocks())
	}
	if _, err := m.Read(h); err != ErrHandleNotFound {
		t.Fatalf("expected ErrHandleNotFound after reclaim, got %v", err)
	}
}

func TestManagerMultipleChunksShareBlock(t *testing.T) {
	m, err := NewManager(1 << 20)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h1, _ := m.Store([]byte("chunk-one"))
	h2, _ := m.Store([]byte("chunk-two"))

	if h1.blockID != h2.blockID {
		t.Fatalf("expected both chunks packed into the same block")
	}

	m.Unref(h1)
	if m.LiveBlocks() != 1 {
		t.Fatalf("block reclaimed early while h2 still referenced")
	}
	m.Unref(h2)
	if m.LiveBlocks() != 0 {
		t.Fatalf("expected block reclaimed after last unref")
	}
}
