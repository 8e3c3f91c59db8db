package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/metrics"
	"github.com/rl1809/baller-exchange/internal/port"
)

const maxBackoff = 250 * time.Millisecond

// UnitOfWork performs all reads and writes of one logical operation inside
// tx. It may run several times, so it must not touch anything outside tx.
// Returning an error other than port.ErrConflict aborts without retry.
type UnitOfWork[T any] func(ctx context.Context, tx port.Tx) (T, error)

// Coordinator runs units of work in optimistic transactions and retries them
// from scratch when the store reports a conflict.
type Coordinator struct {
	store       port.DocumentStore
	maxAttempts int
	backoff     time.Duration
	log         logrus.FieldLogger
}

func NewCoordinator(store port.DocumentStore, maxAttempts int, backoff time.Duration, log logrus.FieldLogger) *Coordinator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Coordinator{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
	}
}

func (c *Coordinator) Store() port.DocumentStore {
	return c.store
}

// RunInTx executes work until it commits, aborts, or exhausts the attempt
// bound, in which case the error wraps ErrConflictExhausted.
func RunInTx[T any](ctx context.Context, c *Coordinator, operation string, work UnitOfWork[T]) (T, error) {
	var zero T
	start := time.Now()
	defer func() { metrics.RecordTxDuration(operation, time.Since(start)) }()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := runOnce(ctx, c.store, work)
		switch {
		case err == nil:
			metrics.RecordAttempt(operation, metrics.OutcomeCommitted)
			return result, nil
		case errors.Is(err, port.ErrConflict):
			metrics.RecordAttempt(operation, metrics.OutcomeConflict)
			c.log.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
			}).Debug("transaction conflict, retrying")
			if err := c.wait(ctx, attempt); err != nil {
				return zero, err
			}
		default:
			metrics.RecordAttempt(operation, metrics.OutcomeAborted)
			return zero, err
		}
	}

	metrics.RecordAttempt(operation, metrics.OutcomeExhausted)
	c.log.WithFields(logrus.Fields{
		"operation": operation,
		"attempts":  c.maxAttempts,
	}).Warn("transaction retries exhausted")
	return zero, fmt.Errorf("%s: %w after %d attempts", operation, ErrConflictExhausted, c.maxAttempts)
}

func runOnce[T any](ctx context.Context, store port.DocumentStore, work UnitOfWork[T]) (T, error) {
	var zero T

	tx, err := store.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}

	result, err := work(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return result, nil
}

// wait sleeps for a jittered exponential backoff before the next attempt.
func (c *Coordinator) wait(ctx context.Context, attempt int) error {
	if c.backoff <= 0 || attempt >= c.maxAttempts {
		return nil
	}
	d := c.backoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	d = d/2 + rand.N(d/2+1)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
