package shard

import "time"

// ActivePartitionState summarizes a partition's write buffer at the moment
// a FlushPolicy is consulted, generalized from the teacher's
// chunk/rotation.go ActiveChunkState (record count, on-disk-size estimate,
// age) from a single chunk's raw record stream to one series' value
// columns.
type ActivePartitionState struct {
	NumRows     int64
	ApproxBytes int64
	Age         time.Duration
}

// FlushPolicy decides whether a partition's current write buffer should be
// sealed. Pluggable and composable, mirroring chunk/rotation.go's
// RotationPolicy.
type FlushPolicy interface {
	ShouldFlush(state ActivePartitionState) bool
}

// FlushPolicyFunc adapts a function to a FlushPolicy.
type FlushPolicyFunc func(state ActivePartitionState) bool

func (f FlushPolicyFunc) ShouldFlush(state ActivePartitionState) bool { return f(state) }

// CompositePolicy flushes when any of its member policies would.
type CompositePolicy struct {
	Policies []FlushPolicy
}

func (c CompositePolicy) ShouldFlush(state ActivePartitionState) bool {
	for _, p := range c.Policies {
		if p.ShouldFlush(state) {
			return true
		}
	}
	return false
}

// RecordCountPolicy flushes once a partition's write buffer holds at least
// MaxRows samples.
type RecordCountPolicy struct{ MaxRows int64 }

func (p RecordCountPolicy) ShouldFlush(state ActivePartitionState) bool {
	return state.NumRows >= p.MaxRows
}

// SizePolicy flushes once a partition's write buffer's estimated encoded
// size reaches MaxBytes.
type SizePolicy struct{ MaxBytes int64 }

func (p SizePolicy) ShouldFlush(state ActivePartitionState) bool {
	return state.ApproxBytes >= p.MaxBytes
}

// AgePolicy flushes once a partition's write buffer has been open at least
// MaxAge, bounding end-to-end staleness even for low-volume series.
type AgePolicy struct{ MaxAge time.Duration }

func (p AgePolicy) ShouldFlush(state ActivePartitionState) bool {
	return state.Age >= p.MaxAge
}

// HardLimitPolicy forces a flush regardless of any other policy once
// MaxRows is reached, as a backstop against unbounded heap growth.
type HardLimitPolicy struct{ MaxRows int64 }

func (p HardLimitPolicy) ShouldFlush(state ActivePartitionState) bool {
	return state.NumRows >= p.MaxRows
}

// NeverFlushPolicy never triggers a flush on its own account; useful as a
// CompositePolicy member placeholder or in tests that drive flushes
// explicitly.
type NeverFlushPolicy struct{}

func (NeverFlushPolicy) ShouldFlush(ActivePartitionState) bool { return false }

// AlwaysFlushPolicy flushes on every check; used in tests.
type AlwaysFlushPolicy struct{}

func (AlwaysFlushPolicy) ShouldFlush(ActivePartitionState) bool { return true }

// DefaultFlushPolicy matches spec.md's default flush-group cadence: flush
// on row count, estimated size, or buffer age, whichever comes first.
func DefaultFlushPolicy() FlushPolicy {
	return CompositePolicy{Policies: []FlushPolicy{
		RecordCountPolicy{MaxRows: 4096},
		SizePolicy{MaxBytes: 4 << 20},
		AgePolicy{MaxAge: 5 * time.Minute},
	}}
}
