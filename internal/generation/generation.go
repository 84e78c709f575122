// Package generation adapts text-generation backends to a single Complete
// call with a two-kind error taxonomy: quota rejections and everything else.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded marks transient quota or rate-limit rejections.
	ErrQuotaExceeded = errors.New("generation quota exceeded")
	// ErrUnavailable marks any other generation failure.
	ErrUnavailable = errors.New("generation unavailable")
)

// Generator returns a text completion for a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// QuotaError wraps a provider quota rejection. It matches ErrQuotaExceeded
// with errors.Is and keeps the provider error reachable with errors.As.
type QuotaError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%v: %v", ErrQuotaExceeded, e.Err)
}

func (e *QuotaError) Unwrap() []error { return []error{ErrQuotaExceeded, e.Err} }

// UnavailableError wraps a non-quota provider failure.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// RetryAfter returns the provider's retry hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.RetryAfter
	}
	return 0
}

// classify wraps a provider error. Context errors pass through unchanged so
// callers can tell cancellation from provider failure.
func classify(err error, rateLimited bool, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if rateLimited {
		return &QuotaError{RetryAfter: retryAfter, Err: err}
	}
	return &UnavailableError{Err: err}
}
