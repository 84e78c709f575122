package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how quota rejections are retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// InitialBackoff is the first wait; each further wait doubles it. A
	// larger retry-after hint from the provider wins.
	InitialBackoff time.Duration
	// Deadline bounds all attempts and waits together. Zero means no
	// deadline beyond the caller's context.
	Deadline time.Duration
}

// DefaultPolicy returns 3 attempts, 5s initial backoff and a 90s deadline.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: 5 * time.Second, Deadline: 90 * time.Second}
}

// Complete calls g, retrying only ErrQuotaExceeded failures. When retries
// run out, or the next wait would pass the deadline, the last quota error is
// returned. Cancellation of ctx itself is returned as ctx.Err(). Once an
// attempt has hit the quota, any later failure reports that quota error;
// before that, the policy deadline expiring mid-call is ErrUnavailable.
func (p Policy) Complete(ctx context.Context, g Generator, prompt string, maxTokens int) (string, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	callCtx := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	backoff := p.InitialBackoff
	var lastQuota error
	for attempt := 1; ; attempt++ {
		out, err := g.Complete(callCtx, prompt, maxTokens)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			if lastQuota != nil {
				slog.Warn("generation retry after quota failed", "attempt", attempt, "error", err)
				return "", lastQuota
			}
			if callCtx.Err() != nil {
				return "", &UnavailableError{Err: err}
			}
			return "", err
		}
		lastQuota = err

		if attempt >= attempts {
			return "", err
		}

		wait := backoff
		if hint := RetryAfter(err); hint > wait {
			wait = hint
		}
		if dl, ok := callCtx.Deadline(); ok && time.Until(dl) < wait {
			slog.Warn("generation quota retry would pass deadline", "attempt", attempt, "wait", wait)
			return "", err
		}
		slog.Warn("generation quota exceeded, retrying", "attempt", attempt, "max_attempts", attempts, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-callCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		case <-timer.C:
		}
		backoff *= 2
	}
}
