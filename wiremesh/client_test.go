package wiremesh

import (
	"testing"
	"time"
)

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	cfg := ReconnectionConfig{
		InitialRetryDelay: 100 * time.Millisecond,
		MaxRetryDelay:     time.Second,
		BackoffFactor:     2.0,
		Jitter:            0,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, cfg)
		if d < prev {
			t.Fatalf("attempt %d: backoff %v is less than previous %v", attempt, d, prev)
		}
		if d > cfg.MaxRetryDelay {
			t.Fatalf("attempt %d: backoff %v exceeds cap %v", attempt, d, cfg.MaxRetryDelay)
		}
		prev = d
	}
}

func TestCalculateBackoffJitterStaysNonNegative(t *testing.T) {
	cfg := ReconnectionConfig{
		InitialRetryDelay: 50 * time.Millisecond,
		MaxRetryDelay:     5 * time.Second,
		BackoffFactor:     2.0,
		Jitter:            0.5,
	}

	for attempt := 0; attempt < 20; attempt++ {
		if d := calculateBackoff(attempt, cfg); d < 0 {
			t.Fatalf("attempt %d: got negative backoff %v", attempt, d)
		}
	}
}
