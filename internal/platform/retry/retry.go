package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy is a fixed-delay schedule without an attempt cap.
type Policy struct {
	Delay   time.Duration
	Clock   clockwork.Clock
	OnRetry func(attempt int, err error, delay time.Duration)
}

type Operation func(ctx context.Context) error

// Forever runs op, waits p.Delay after every return, and runs it again until
// ctx is cancelled. The delay never grows. The returned error always wraps
// ctx.Err().
func Forever(ctx context.Context, p Policy, op Operation) error {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)

		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt, ctx.Err())
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, p.Delay)
		}

		timer := clock.NewTimer(p.Delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}
