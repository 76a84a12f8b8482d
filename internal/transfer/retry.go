package transfer

import (
	"context"
	"errors"
	"log"
	"time"
)

// Retrying wraps a Client and re-attempts transient failures with a linear
// backoff. Permanent failures and ErrAlreadyApplied pass through untouched.
type Retrying struct {
	inner    Client
	attempts int
	backoff  time.Duration
}

func WithRetry(inner Client, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff}
}

func (r *Retrying) Anchor(ctx context.Context) (string, error) {
	var anchor string
	err := r.retry(ctx, "anchor", func() error {
		var err error
		anchor, err = r.inner.Anchor(ctx)
		return err
	})
	return anchor, err
}

func (r *Retrying) Submit(ctx context.Context, t Transfer) (*Receipt, error) {
	var receipt *Receipt
	err := r.retry(ctx, "submit "+t.Reference, func() error {
		var err error
		receipt, err = r.inner.Submit(ctx, t)
		return err
	})
	return receipt, err
}

func (r *Retrying) Lookup(ctx context.Context, reference string) (*Receipt, error) {
	return r.inner.Lookup(ctx, reference)
}

func (r *Retrying) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTemporarilyUnavailable) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		log.Printf("[TRANSFER] %s attempt %d/%d failed: %v", op, attempt, r.attempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return err
}
