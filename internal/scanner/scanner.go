// Package scanner drives a single segment of a scan cycle: ask LogFetcher
// for chunks of adaptively-sized width, decode and timestamp each log, hand
// decoded events to ProgressStore, and report each chunk boundary through a
// caller-supplied AdvanceFunc.
package scanner

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/chain"
	"chainsweep/internal/fetcher"
	"chainsweep/internal/metrics"
	"chainsweep/internal/progress"
	"chainsweep/internal/scanerr"
	"chainsweep/internal/sink"
	"chainsweep/internal/sizer"
)

// AdvanceFunc is invoked once a chunk's events are durably persisted. The
// caller decides what "advance" means: ScanCoordinator's watermark strategy
// may buffer it, the sequential fallback calls ProgressStore.AdvanceCursor
// directly.
type AdvanceFunc func(ctx context.Context, actualTo uint64) error

// Deps bundles a Scanner's collaborators.
type Deps struct {
	Chain    chain.ChainClient
	Store    progress.Store
	Fetcher  *fetcher.LogFetcher
	Sizer    sizer.Sizer
	Schema   *chain.EventSchema
	Address  common.Address
	Metrics  *metrics.Recorder // optional, nil-safe
	Exporter sink.Exporter     // optional secondary export, nil-safe
}

// Scanner drives one segment at a time; it holds no state between calls to
// RunSegment beyond its Deps, so one Scanner can be reused across segments
// or shared (read-only) across goroutines.
type Scanner struct {
	deps             Deps
	initialChunkSize uint64
	log              *logrus.Entry
}

func New(deps Deps, initialChunkSize uint64) *Scanner {
	if initialChunkSize == 0 {
		initialChunkSize = 20
	}
	return &Scanner{
		deps:             deps,
		initialChunkSize: initialChunkSize,
		log:              logrus.WithField("component", "scanner"),
	}
}

// RunSegment walks [from, to] inclusive, returning the number of events
// persisted and the highest height it is safe to resume from. It returns as
// soon as it hits a Fatal error, a cancelled context, or an unresolvable
// block-timestamp gap (the latter is not an error — a future cycle will
// reach it).
func (s *Scanner) RunSegment(ctx context.Context, from, to uint64, advance AdvanceFunc) (int, uint64, error) {
	contract := s.deps.Address.Hex()
	blockTimeCache := make(map[uint64]chain.BlockHeader)

	current := from
	size := s.initialChunkSize
	lastSafe := from - 1
	totalEvents := 0

	for current <= to {
		select {
		case <-ctx.Done():
			return totalEvents, lastSafe, ctx.Err()
		default:
		}

		tentativeTo := current + size
		if tentativeTo > to {
			tentativeTo = to
		}

		actualTo, logs, err := s.deps.Fetcher.Fetch(ctx, current, tentativeTo, s.deps.Address, s.deps.Schema.Topic0)
		if err != nil {
			s.recordChunk(contract, "failed")
			if !fatal(err) {
				s.log.WithError(err).WithFields(logrus.Fields{"contract": contract, "from": current}).
					Warn("non-fatal fetch error, stopping segment for the next cycle")
				return totalEvents, lastSafe, nil
			}
			return totalEvents, lastSafe, err
		}

		batch, cutoff, err := s.decodeChunk(ctx, logs, actualTo, blockTimeCache)
		if err != nil {
			if !fatal(err) {
				s.log.WithError(err).WithFields(logrus.Fields{"contract": contract, "from": current}).
					Warn("non-fatal decode error, stopping segment for the next cycle")
				return totalEvents, lastSafe, nil
			}
			return totalEvents, lastSafe, err
		}

		if err := s.deps.Store.PersistEvents(ctx, batch); err != nil {
			return totalEvents, lastSafe, scanerr.New(scanerr.KindStoreError, contract, lastSafe, current, actualTo, err)
		}
		totalEvents += len(batch)
		s.recordEvents(contract, batch)
		s.exportEvents(batch)

		if err := advance(ctx, cutoff); err != nil {
			return totalEvents, lastSafe, scanerr.New(scanerr.KindStoreError, contract, lastSafe, current, actualTo, err)
		}
		lastSafe = cutoff
		s.recordChunk(contract, "succeeded")

		size = s.deps.Sizer.Next(size, len(logs))

		if cutoff < actualTo {
			// A block's timestamp couldn't be resolved this cycle; stop
			// here so a future cycle re-attempts it.
			return totalEvents, lastSafe, nil
		}

		current = cutoff + 1
	}

	return totalEvents, lastSafe, nil
}

// decodeChunk decodes every log in the chunk, hydrating block timestamps
// from the per-segment cache. It returns the events safe to persist and the
// cutoff height: the chunk's actualTo, unless some block's timestamp came
// back NotFound, in which case cutoff is one below the lowest such block so
// the cursor never advances past a block whose events weren't all handed to
// ProgressStore.
func (s *Scanner) decodeChunk(ctx context.Context, logs []types.Log, actualTo uint64, cache map[uint64]chain.BlockHeader) ([]progress.DecodedEvent, uint64, error) {
	contract := s.deps.Address.Hex()

	// First pass: resolve every distinct block's timestamp. The node gives
	// no ordering guarantee on logs within a chunk, so the cutoff
	// height must be known before any event is decoded, not discovered
	// mid-iteration.
	unresolved := actualTo + 1
	for _, lg := range logs {
		if _, ok := cache[lg.BlockNumber]; ok {
			continue
		}
		if lg.BlockNumber >= unresolved {
			continue
		}
		h, err := s.deps.Chain.BlockHeader(ctx, lg.BlockNumber)
		switch {
		case errors.Is(err, chain.ErrBlockNotFound):
			if lg.BlockNumber < unresolved {
				unresolved = lg.BlockNumber
			}
		case err != nil:
			return nil, 0, scanerr.New(scanerr.KindBlockNotFound, contract, 0, lg.BlockNumber, lg.BlockNumber, err)
		default:
			cache[lg.BlockNumber] = *h
		}
	}

	cutoff := actualTo
	if unresolved <= actualTo {
		cutoff = unresolved - 1
	}

	// Second pass: decode and persist only events at or below the cutoff.
	batch := make([]progress.DecodedEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.BlockNumber > cutoff {
			continue
		}

		if err := chain.CheckMined(lg); err != nil {
			return nil, 0, scanerr.New(scanerr.KindPendingLog, contract, 0, lg.BlockNumber, lg.BlockNumber, err)
		}

		decoded, err := s.deps.Chain.DecodeLog(s.deps.Schema, lg)
		if err != nil {
			return nil, 0, scanerr.New(scanerr.KindDecodeError, contract, 0, lg.BlockNumber, lg.BlockNumber, err)
		}
		decoded.BlockTime = cache[lg.BlockNumber].Timestamp

		batch = append(batch, progress.DecodedEvent{
			EventName:       decoded.EventName,
			ContractAddress: decoded.ContractAddress,
			BlockHeight:     decoded.BlockHeight,
			TxHash:          decoded.TxHash,
			TxIndex:         decoded.TxIndex,
			LogIndex:        decoded.LogIndex,
			Args:            decoded.Args,
			BlockTime:       decoded.BlockTime,
		})
	}

	return batch, cutoff, nil
}

// fatal reports whether err should abort the whole segment (and, via
// ScanCoordinator, the whole cycle) rather than just stopping this segment
// short for a future cycle to pick up. An error with no classified Kind
// (a programming error, not a scan condition) is treated as fatal.
func fatal(err error) bool {
	kind, ok := scanerr.KindOf(err)
	if !ok {
		return true
	}
	return kind.Fatal()
}

func (s *Scanner) recordChunk(contract, outcome string) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.ChunksTotal.WithLabelValues(contract, outcome).Inc()
}

// exportEvents best-effort mirrors a persisted batch to the optional
// secondary exporter. Export failures are logged, never fatal: the
// ProgressStore write already succeeded and is the system of record.
func (s *Scanner) exportEvents(batch []progress.DecodedEvent) {
	if s.deps.Exporter == nil {
		return
	}
	for _, e := range batch {
		if err := s.deps.Exporter.Write(e); err != nil {
			s.log.WithError(err).WithField("event", e.EventName).Warn("secondary export failed")
		}
	}
}

func (s *Scanner) recordEvents(contract string, batch []progress.DecodedEvent) {
	if s.deps.Metrics == nil {
		return
	}
	for _, e := range batch {
		s.deps.Metrics.EventsPersistedTotal.WithLabelValues(contract, e.EventName).Inc()
	}
}
