package progress

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryStore decorates another Store with bounded retries around
// PersistEvents and AdvanceCursor. A store error is fatal for the segment,
// but transient infrastructure blips (a dropped connection, a replica
// election) shouldn't abort a whole segment by themselves.
type RetryStore struct {
	inner    Store
	attempts int
	delay    time.Duration
	log      *logrus.Entry
}

func NewRetryStore(inner Store, attempts int, delay time.Duration) Store {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}
	return &RetryStore{
		inner:    inner,
		attempts: attempts,
		delay:    delay,
		log:      logrus.WithField("component", "progress-store"),
	}
}

func (r *RetryStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	return r.inner.LoadCursor(ctx, contract)
}

func (r *RetryStore) InitCursor(ctx context.Context, contract string, height uint64) error {
	return r.inner.InitCursor(ctx, contract, height)
}

func (r *RetryStore) AdvanceCursor(ctx context.Context, contract string, height uint64) error {
	return r.retry(ctx, func() error { return r.inner.AdvanceCursor(ctx, contract, height) })
}

func (r *RetryStore) PersistEvents(ctx context.Context, batch []DecodedEvent) error {
	return r.retry(ctx, func() error { return r.inner.PersistEvents(ctx, batch) })
}

func (r *RetryStore) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

func (r *RetryStore) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		r.log.WithError(err).Warnf("store operation failed (attempt %d/%d)", attempt, r.attempts)
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return err
}
