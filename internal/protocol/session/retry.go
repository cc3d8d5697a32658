package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ConnectRetry calls Connect until it succeeds, maxAttempts is reached
// (<= 0 means unlimited), or ctx ends. Misuse errors are returned at once.
func (s *Session[M]) ConnectRetry(ctx context.Context, address string, maxAttempts int, opts ...ConnectOption) error {
	rng := rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		err := s.Connect(ctx, address, opts...)
		if err == nil {
			return nil
		}
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(err, cerr) {
				return err
			}
			return fmt.Errorf("%w: %w", cerr, err)
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		delay := s.cfg.Backoff.Delay(attempt, rng)
		s.log.Warn().Int("attempt", attempt).Str("address", address).Dur("retry_in", delay).Err(err).Msg("session connect retry")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Session[M]) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
