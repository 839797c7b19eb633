package remote

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"chronocore/internal/retry"
)

// ErrInFlightQuotaExceeded is returned by RetryingSink.Write when the
// in-flight request quota is exhausted, per spec.md §5's "flush tasks fail
// fast if the remote store's in-flight quota is exceeded."
var ErrInFlightQuotaExceeded = errors.New("remote: in-flight request quota exceeded")

// RetryingSink wraps a ChunkSink with the per-remote-request retry policy
// spec.md §5 calls for: bounded attempts (default 5), linear backoff, and
// a fail-fast in-flight quota. Grounded on config.Store's retrying-client
// wrapper pattern around an external collaborator.
type RetryingSink struct {
	inner       ChunkSink
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
	limiter     *rate.Limiter
}

// RetryingSinkConfig configures a RetryingSink.
type RetryingSinkConfig struct {
	MaxAttempts     int           // 0 defaults to 5
	InitialInterval time.Duration // 0 defaults to 200ms
	Increment       time.Duration // 0 defaults to 200ms
	MaxInterval     time.Duration // 0 defaults to 2s
	// InFlightQuota bounds concurrent writes via a token-bucket
	// approximation (rate.Limiter.Allow() as a non-blocking, fail-fast
	// gate); 0 disables the quota.
	InFlightQuota int
}

// NewRetryingSink wraps inner with cfg's retry and quota policy.
func NewRetryingSink(inner ChunkSink, cfg RetryingSinkConfig) *RetryingSink {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.Increment <= 0 {
		cfg.Increment = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}

	s := &RetryingSink{
		inner:       inner,
		maxAttempts: uint64(cfg.MaxAttempts - 1),
		newBackOff: func() backoff.BackOff {
			return retry.NewLinearBackOff(cfg.InitialInterval, cfg.Increment, cfg.MaxInterval)
		},
	}
	if cfg.InFlightQuota > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.InFlightQuota), cfg.InFlightQuota)
	}
	return s
}

func (s *RetryingSink) Initialize(ctx context.Context, dataset string, numShards int) error {
	return s.inner.Initialize(ctx, dataset, numShards)
}

func (s *RetryingSink) Truncate(ctx context.Context, dataset string, numShards int) error {
	return s.inner.Truncate(ctx, dataset, numShards)
}

func (s *RetryingSink) Drop(ctx context.Context, dataset string, numShards int) error {
	return s.inner.Drop(ctx, dataset, numShards)
}

// Write retries the inner sink's Write up to MaxAttempts times with linear
// backoff. records is buffered in memory so the same batch can be replayed
// verbatim on every retry (the wrapped Write takes a plain slice, not a
// stream, for exactly this reason).
func (s *RetryingSink) Write(ctx context.Context, dataset string, records []ChunkSetRecord, ttl time.Duration) (int, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return 0, ErrInFlightQuotaExceeded
	}

	var written int
	op := func() error {
		n, err := s.inner.Write(ctx, dataset, records, ttl)
		written = n
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxAttempts), ctx))
	return written, err
}

var _ ChunkSink = (*RetryingSink)(nil)
