package connection

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			10 * time.Second,
			10 * time.Second, // stays at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()

			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()
		limit := time.Duration(float64(InitialBackoff) * (1 + JitterFactor))

		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			if d < InitialBackoff || d > limit {
				t.Errorf("Sample %d: %v out of range [%v, %v]", i, d, InitialBackoff, limit)
			}
		}
	})

	t.Run("NoJitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Millisecond, Jitter: -1})
		if d := b.Next(); d != time.Millisecond {
			t.Errorf("Next() = %v, want 1ms", d)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		b.Next()
		b.Next()
		if b.Attempts() != 2 {
			t.Errorf("Attempts() = %d, want 2", b.Attempts())
		}

		b.Reset()
		if b.Attempts() != 0 {
			t.Errorf("Attempts() after reset = %d, want 0", b.Attempts())
		}
		if b.Current() != InitialBackoff {
			t.Errorf("Current() after reset = %v, want %v", b.Current(), InitialBackoff)
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond, Jitter: -1})
		b.Next()
		if b.Current() != time.Second {
			t.Errorf("Current() = %v, want 1s", b.Current())
		}
	})
}
