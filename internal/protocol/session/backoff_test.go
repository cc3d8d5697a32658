package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/monproto/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		got := NextBackoffDelay(cfg, 1, rng)
		if got < 125*time.Millisecond || got >= 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("jitter without rng should be neutral, got=%v", got)
	}
}

func TestBackoffDelayEdgeCases(t *testing.T) {
	testlog.Start(t)
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
	flat := BackoffConfig{InitialDelay: time.Second, Multiplier: 0.5}
	if got := flat.Delay(4, nil); got != time.Second {
		t.Fatalf("multiplier below one should not shrink, got=%v", got)
	}
}
