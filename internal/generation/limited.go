package generation

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls to another Generator on the client side.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls per second with a burst of one. A
// non-positive perSecond returns next unchanged.
func NewLimited(next Generator, perSecond float64) Generator {
	if perSecond <= 0 {
		return next
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (l *Limited) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return l.next.Complete(ctx, prompt, maxTokens)
}
