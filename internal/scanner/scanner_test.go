package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsweep/internal/chain"
	"chainsweep/internal/fetcher"
	"chainsweep/internal/progress"
	"chainsweep/internal/sizer"
)

// fakeChain serves a fixed set of logs per range and a fixed set of block
// timestamps, with configurable "not found" heights standing in for blocks
// whose timestamp couldn't be resolved this cycle.
type fakeChain struct {
	logs        []types.Log
	timestamps  map[uint64]time.Time
	notFoundAt  map[uint64]bool
}

func (f *fakeChain) LatestHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) BlockHeader(ctx context.Context, height uint64) (*chain.BlockHeader, error) {
	if f.notFoundAt[height] {
		return nil, chain.ErrBlockNotFound
	}
	ts, ok := f.timestamps[height]
	if !ok {
		ts = time.Unix(int64(height), 0).UTC()
	}
	return &chain.BlockHeader{Height: height, Timestamp: ts}, nil
}

func (f *fakeChain) CodeAt(ctx context.Context, address common.Address, height uint64) ([]byte, error) {
	return nil, nil
}

func (f *fakeChain) QueryLogs(ctx context.Context, flt chain.Filter) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= flt.From && lg.BlockNumber <= flt.To {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeChain) DecodeLog(schema *chain.EventSchema, lg types.Log) (chain.DecodedEvent, error) {
	return chain.DecodedEvent{
		EventName:       "Transfer",
		ContractAddress: lg.Address.Hex(),
		BlockHeight:     lg.BlockNumber,
		TxHash:          lg.TxHash.Hex(),
		TxIndex:         lg.TxIndex,
		LogIndex:        lg.Index,
		Args:            map[string]string{"value": "1"},
	}, nil
}

type fakeStore struct {
	persisted []progress.DecodedEvent
	advances  []uint64
}

func (s *fakeStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	return 0, false, nil
}
func (s *fakeStore) InitCursor(ctx context.Context, contract string, height uint64) error { return nil }
func (s *fakeStore) AdvanceCursor(ctx context.Context, contract string, height uint64) error {
	s.advances = append(s.advances, height)
	return nil
}
func (s *fakeStore) PersistEvents(ctx context.Context, batch []progress.DecodedEvent) error {
	s.persisted = append(s.persisted, batch...)
	return nil
}
func (s *fakeStore) Close(ctx context.Context) error { return nil }

func logAt(h uint64) types.Log {
	return types.Log{BlockNumber: h, BlockHash: common.HexToHash("0xabc")}
}

func newTestScanner(fc *fakeChain, st *fakeStore) *Scanner {
	f := fetcher.New(fc, 3, time.Millisecond)
	return New(Deps{
		Chain:   fc,
		Store:   st,
		Fetcher: f,
		Sizer:   sizer.New(10, 1000),
		Schema:  &chain.EventSchema{Name: "Transfer"},
		Address: common.HexToAddress("0x0000000000000000000000000000000000000001"),
	}, 1000)
}

func TestRunSegmentPersistsAllResolvedLogs(t *testing.T) {
	fc := &fakeChain{logs: []types.Log{logAt(10), logAt(11), logAt(12)}}
	st := &fakeStore{}
	sc := newTestScanner(fc, st)

	advanced := []uint64{}
	advance := func(ctx context.Context, actualTo uint64) error {
		advanced = append(advanced, actualTo)
		return nil
	}

	n, safe, err := sc.RunSegment(context.Background(), 10, 12, advance)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(12), safe)
	assert.Equal(t, []uint64{12}, advanced)
	assert.Len(t, st.persisted, 3)
}

func TestRunSegmentStopsAtUnresolvedTimestamp(t *testing.T) {
	fc := &fakeChain{
		logs:       []types.Log{logAt(10), logAt(11), logAt(12)},
		notFoundAt: map[uint64]bool{12: true},
	}
	st := &fakeStore{}
	sc := newTestScanner(fc, st)

	advance := func(ctx context.Context, actualTo uint64) error { return nil }

	n, safe, err := sc.RunSegment(context.Background(), 10, 12, advance)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only heights 10 and 11 should be persisted")
	assert.Equal(t, uint64(11), safe)
	assert.Len(t, st.persisted, 2)
	for _, e := range st.persisted {
		assert.LessOrEqual(t, e.BlockHeight, uint64(11))
	}
}

func TestRunSegmentOrderingWithinChunkDoesNotMatter(t *testing.T) {
	// Logs arrive out of height order; block 10's timestamp is unresolved.
	// A naive single-pass decode would have already persisted 11 and 12
	// before discovering the gap at 10 — this must not happen.
	fc := &fakeChain{
		logs:       []types.Log{logAt(12), logAt(11), logAt(10)},
		notFoundAt: map[uint64]bool{10: true},
	}
	st := &fakeStore{}
	sc := newTestScanner(fc, st)

	advance := func(ctx context.Context, actualTo uint64) error { return nil }

	n, safe, err := sc.RunSegment(context.Background(), 10, 12, advance)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(9), safe)
	assert.Empty(t, st.persisted)
}

// alwaysFailChain fails every QueryLogs call with a message chain.Classify
// recognizes as transient, simulating a node that never stops timing out.
type alwaysFailChain struct {
	fakeChain
}

func (f *alwaysFailChain) QueryLogs(ctx context.Context, flt chain.Filter) ([]types.Log, error) {
	return nil, errors.New("upstream request timed out")
}

func TestRunSegmentStopsNonFatallyWhenFetchExhaustsRetries(t *testing.T) {
	fc := &alwaysFailChain{}
	st := &fakeStore{}
	f := fetcher.New(fc, 2, time.Microsecond)
	sc := New(Deps{
		Chain:   fc,
		Store:   st,
		Fetcher: f,
		Sizer:   sizer.New(10, 1000),
		Schema:  &chain.EventSchema{Name: "Transfer"},
		Address: common.HexToAddress("0x0000000000000000000000000000000000000001"),
	}, 1000)

	advance := func(ctx context.Context, actualTo uint64) error { return nil }

	n, safe, err := sc.RunSegment(context.Background(), 10, 12, advance)
	require.NoError(t, err, "a transient fetch failure must stop the segment, not abort it")
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(9), safe)
}

// badDecodeChain accepts logs but can never decode them, the Go-idiomatic
// equivalent of a log that doesn't match the configured event schema.
type badDecodeChain struct {
	fakeChain
}

func (f *badDecodeChain) DecodeLog(schema *chain.EventSchema, lg types.Log) (chain.DecodedEvent, error) {
	return chain.DecodedEvent{}, errors.New("log does not match schema")
}

func TestRunSegmentAbortsOnFatalDecodeError(t *testing.T) {
	fc := &badDecodeChain{fakeChain: fakeChain{logs: []types.Log{logAt(10)}}}
	st := &fakeStore{}
	sc := newTestScanner(&fc.fakeChain, st)
	sc.deps.Chain = fc

	advance := func(ctx context.Context, actualTo uint64) error { return nil }

	_, _, err := sc.RunSegment(context.Background(), 10, 12, advance)
	require.Error(t, err, "a decode error is a fatal condition, not a retry-next-cycle one")
}
