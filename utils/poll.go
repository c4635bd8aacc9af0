package utils

import (
	"context"
	"fmt"
	"time"

	"panshare/internal"
)

// Poller bounds a retry-with-delay loop
type Poller struct {
	Attempts int
	Interval time.Duration
	Logger   *internal.SecureLogger
}

// PollUntil calls op until done reports a terminal value or the attempt
// budget is spent. A failing op is logged and counts as one attempt; an
// exhausted budget yields a PollTimeout error.
func PollUntil[T any](ctx context.Context, p Poller, label string, op func(ctx context.Context, attempt int) (T, error), done func(T) bool) (T, error) {
	var zero T
	logger := p.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Interval > 0 {
			timer := time.NewTimer(p.Interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, internal.WrapPanError(ctx.Err(), fmt.Sprintf("polling %s cancelled", label), internal.ErrPollTimeout).
					WithContext("attempts", attempt)
			}
		}

		v, err := op(ctx, attempt)
		if err != nil {
			logger.Warn("poll %s attempt %d/%d failed: %v", label, attempt+1, attempts, err)
			continue
		}
		if done(v) {
			return v, nil
		}
		logger.Debug("poll %s attempt %d/%d not finished", label, attempt+1, attempts)
	}

	return zero, internal.NewPollTimeoutError(label, attempts)
}
