package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	failures  int
	calls     int
	advanced  []uint64
	persisted int
}

func (f *flakyStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	return 0, false, nil
}
func (f *flakyStore) InitCursor(ctx context.Context, contract string, height uint64) error {
	return nil
}
func (f *flakyStore) AdvanceCursor(ctx context.Context, contract string, height uint64) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	f.advanced = append(f.advanced, height)
	return nil
}
func (f *flakyStore) PersistEvents(ctx context.Context, batch []DecodedEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	f.persisted += len(batch)
	return nil
}
func (f *flakyStore) Close(ctx context.Context) error { return nil }

func TestRetryStoreSucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyStore{failures: 2}
	store := NewRetryStore(inner, 3, time.Millisecond)

	err := store.AdvanceCursor(context.Background(), "0xabc", 100)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100}, inner.advanced)
}

func TestRetryStoreGivesUpAfterExhaustingAttempts(t *testing.T) {
	inner := &flakyStore{failures: 5}
	store := NewRetryStore(inner, 2, time.Millisecond)

	err := store.PersistEvents(context.Background(), []DecodedEvent{{BlockHeight: 1}})
	require.Error(t, err)
	assert.Equal(t, 0, inner.persisted)
}

func TestRetryStoreDefaultsClampAttemptsAndDelay(t *testing.T) {
	inner := &flakyStore{}
	store := NewRetryStore(inner, 0, 0).(*RetryStore)
	assert.Equal(t, 1, store.attempts)
	assert.Equal(t, time.Second, store.delay)
}

func TestRetryStorePassesThroughNonRetriedMethods(t *testing.T) {
	inner := &flakyStore{}
	store := NewRetryStore(inner, 3, time.Millisecond)

	_, ok, err := store.LoadCursor(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, ok)
}
