package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestLinearBackOffGrowsAndCaps(t *testing.T) {
	b := NewLinearBackOff(time.Second, 500*time.Millisecond, 2*time.Second)
	b.Now = func() time.Time { return time.Unix(0, 0) }

	if d := b.NextBackOff(); d != time.Second {
		t.Fatalf("first = %v, want 1s", d)
	}
	if d := b.NextBackOff(); d != 1500*time.Millisecond {
		t.Fatalf("second = %v, want 1.5s", d)
	}
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Fatalf("third = %v, want 2s (capped)", d)
	}
	if d := b.NextBackOff(); d != 2*time.Second {
		t.Fatalf("fourth = %v, want 2s (capped)", d)
	}
}

func TestLinearBackOffStopsAfterMaxElapsed(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLinearBackOff(time.Second, 0, 0)
	b.MaxElapsedTime = 5 * time.Second
	b.Now = func() time.Time { return now }

	if d := b.NextBackOff(); d == backoff.Stop {
		t.Fatalf("expected a real backoff on first call")
	}
	now = now.Add(10 * time.Second)
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected backoff.Stop once MaxElapsedTime exceeded, got %v", d)
	}
}

func TestLinearBackOffReset(t *testing.T) {
	b := NewLinearBackOff(time.Second, time.Second, 0)
	b.NextBackOff()
	b.NextBackOff()
	b.Reset()
	if d := b.NextBackOff(); d != time.Second {
		t.Fatalf("after reset = %v, want 1s", d)
	}
}
