package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsweep/internal/chain"
	"chainsweep/internal/metrics"
)

// oracleClient rejects any query whose range exceeds maxWidth, simulating a
// node that caps eth_getLogs responses by block-range width. It otherwise
// returns one log per block in the requested range.
type oracleClient struct {
	maxWidth uint64
	calls    []chain.Filter
}

func (o *oracleClient) LatestHeight(ctx context.Context) (uint64, error) { return 0, nil }
func (o *oracleClient) BlockHeader(ctx context.Context, height uint64) (*chain.BlockHeader, error) {
	return nil, nil
}
func (o *oracleClient) CodeAt(ctx context.Context, address common.Address, height uint64) ([]byte, error) {
	return nil, nil
}
func (o *oracleClient) DecodeLog(schema *chain.EventSchema, lg types.Log) (chain.DecodedEvent, error) {
	return chain.DecodedEvent{}, nil
}

func (o *oracleClient) QueryLogs(ctx context.Context, f chain.Filter) ([]types.Log, error) {
	o.calls = append(o.calls, f)
	if f.To-f.From+1 > o.maxWidth {
		return nil, errors.New("query exceeds node limit, too many results returned")
	}
	logs := make([]types.Log, 0, f.To-f.From+1)
	for h := f.From; h <= f.To; h++ {
		logs = append(logs, types.Log{BlockNumber: h})
	}
	return logs, nil
}

func TestFetchConvergesAfterShrink(t *testing.T) {
	oc := &oracleClient{maxWidth: 50}
	f := New(oc, 10, time.Microsecond)

	actualTo, logs, err := f.Fetch(context.Background(), 100, 300, common.Address{}, common.Hash{})
	require.NoError(t, err)
	assert.LessOrEqual(t, actualTo-100+1, uint64(50))
	assert.Equal(t, int(actualTo-100+1), len(logs))
}

func TestFetchAlwaysReanchorsToOriginalFrom(t *testing.T) {
	oc := &oracleClient{maxWidth: 50}
	f := New(oc, 10, time.Microsecond)

	_, _, err := f.Fetch(context.Background(), 100, 300, common.Address{}, common.Hash{})
	require.NoError(t, err)

	for _, call := range oc.calls {
		assert.Equal(t, uint64(100), call.From, "every retry must keep the original from")
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	oc := &oracleClient{maxWidth: 0}
	f := New(oc, 3, time.Microsecond)

	_, _, err := f.Fetch(context.Background(), 1, 100, common.Address{}, common.Hash{})
	require.Error(t, err)
}

// rejectingClient always fails with an error chain.Classify has no reason to
// treat as transient — malformed input, not a node-side size/timeout limit.
type rejectingClient struct {
	calls int
}

func (r *rejectingClient) LatestHeight(ctx context.Context) (uint64, error) { return 0, nil }
func (r *rejectingClient) BlockHeader(ctx context.Context, height uint64) (*chain.BlockHeader, error) {
	return nil, nil
}
func (r *rejectingClient) CodeAt(ctx context.Context, address common.Address, height uint64) ([]byte, error) {
	return nil, nil
}
func (r *rejectingClient) DecodeLog(schema *chain.EventSchema, lg types.Log) (chain.DecodedEvent, error) {
	return chain.DecodedEvent{}, nil
}
func (r *rejectingClient) QueryLogs(ctx context.Context, f chain.Filter) ([]types.Log, error) {
	r.calls++
	return nil, errors.New("invalid topic filter")
}

func TestFetchAbortsImmediatelyOnPermanentError(t *testing.T) {
	rc := &rejectingClient{}
	f := New(rc, 10, time.Microsecond)

	_, _, err := f.Fetch(context.Background(), 1, 100, common.Address{}, common.Hash{})
	require.Error(t, err)
	assert.Equal(t, 1, rc.calls, "a permanent error must not burn the rest of the retry budget")
}

func TestFetchRecordsRetryMetricOnShrink(t *testing.T) {
	oc := &oracleClient{maxWidth: 50}
	f := New(oc, 10, time.Microsecond)

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	f.SetMetrics(rec)

	addr := common.HexToAddress("0x00000000000000000000000000000000000042")
	_, _, err := f.Fetch(context.Background(), 100, 300, addr, common.Hash{})
	require.NoError(t, err)

	var m dto.Metric
	require.NoError(t, rec.RetriesTotal.WithLabelValues(addr.Hex()).Write(&m))
	assert.Greater(t, m.GetCounter().GetValue(), float64(0))
}

func TestFetchWithNilMetricsDoesNotPanic(t *testing.T) {
	oc := &oracleClient{maxWidth: 50}
	f := New(oc, 10, time.Microsecond)

	_, _, err := f.Fetch(context.Background(), 100, 300, common.Address{}, common.Hash{})
	require.NoError(t, err)
}

func TestFetchSingleBlockSucceeds(t *testing.T) {
	oc := &oracleClient{maxWidth: 50}
	f := New(oc, 10, time.Microsecond)

	actualTo, logs, err := f.Fetch(context.Background(), 42, 42, common.Address{}, common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), actualTo)
	assert.Len(t, logs, 1)
}
