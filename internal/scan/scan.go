// Package scan wires ChainClient, ProgressStore, CreationLocator, Scanner
// and ScanCoordinator into the single entrypoint: run one
// scan cycle for a configured contract/event, resuming from its durable
// cursor or locating its creation block on a first run.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/chain"
	"chainsweep/internal/config"
	"chainsweep/internal/coordinator"
	"chainsweep/internal/fetcher"
	"chainsweep/internal/locator"
	"chainsweep/internal/metrics"
	"chainsweep/internal/progress"
	"chainsweep/internal/scanner"
	"chainsweep/internal/sink"
	"chainsweep/internal/sizer"
)

// Result summarizes one completed (or partially-completed) scan cycle.
type Result struct {
	Contract      string
	FromHeight    uint64
	ToHeight      uint64
	EventsWritten int
	CursorHeight  uint64
}

// Service runs scan cycles against one chain/store/cache combination for
// however many contracts a caller asks it to scan.
type Service struct {
	chain    chain.ChainClient
	store    progress.Store
	locator  *locator.Locator
	metrics  *metrics.Recorder
	exporter sink.Exporter
	cfg      config.ScanConfig
	log      *logrus.Entry
}

func NewService(chainClient chain.ChainClient, store progress.Store, loc *locator.Locator, rec *metrics.Recorder, exporter sink.Exporter, cfg config.ScanConfig) *Service {
	return &Service{
		chain:    chainClient,
		store:    store,
		locator:  loc,
		metrics:  rec,
		exporter: exporter,
		cfg:      cfg,
		log:      logrus.WithField("component", "scan-service"),
	}
}

// Run performs one scan cycle: resolve the effective start
// height (durable cursor minus reorg safety, or a located creation block on
// a first run), resolve the effective end height (latest-1, or an explicit
// end if provided), and drive the range through a ScanCoordinator.
//
// end == 0 means "scan to latest-1", avoiding a pointer for the
// zero-is-never-valid height 0.
func (s *Service) Run(ctx context.Context, address common.Address, schema *chain.EventSchema, explicitStart, end uint64) (*Result, error) {
	contract := address.Hex()

	from, err := s.resolveStart(ctx, contract, address, explicitStart)
	if err != nil {
		return nil, fmt.Errorf("scan: resolving start height: %w", err)
	}

	to := end
	if to == 0 {
		latest, err := s.chain.LatestHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: fetching latest height: %w", err)
		}
		if latest == 0 {
			return &Result{Contract: contract, FromHeight: from, ToHeight: from - 1}, nil
		}
		to = latest - 1
	}

	if from > to {
		s.log.WithFields(logrus.Fields{"contract": contract, "from": from, "to": to}).
			Info("nothing new to scan")
		return &Result{Contract: contract, FromHeight: from, ToHeight: to}, nil
	}

	fetch := fetcher.New(s.chain, s.cfg.MaxRetries, time.Duration(s.cfg.RetryDelaySeconds)*time.Second)
	fetch.SetMetrics(s.metrics)
	sz := sizer.New(s.cfg.MinChunk, s.cfg.MaxChunk)

	sc := scanner.New(scanner.Deps{
		Chain:    s.chain,
		Store:    s.store,
		Fetcher:  fetch,
		Sizer:    sz,
		Schema:   schema,
		Address:  address,
		Metrics:  s.metrics,
		Exporter: s.exporter,
	}, s.cfg.InitialChunkSize)

	coord := coordinator.New(sc, s.store, s.cfg.SegmentWidth, coordinator.ModeWatermark)

	n, safe, err := coord.Run(ctx, contract, from, to)
	if s.metrics != nil {
		s.metrics.CursorHeight.WithLabelValues(contract).Set(float64(safe))
	}
	if err != nil {
		return &Result{Contract: contract, FromHeight: from, ToHeight: to, EventsWritten: n, CursorHeight: safe}, err
	}

	return &Result{Contract: contract, FromHeight: from, ToHeight: to, EventsWritten: n, CursorHeight: safe}, nil
}

// resolveStart picks the effective start height: if a cursor exists, resume from
// cursor-REORG_SAFETY (clamped to 1); otherwise locate the contract's
// creation block, initialize the cursor one block below it and start the
// scan at the creation block. An explicit start
// overrides both, for operator-triggered backfills.
func (s *Service) resolveStart(ctx context.Context, contract string, address common.Address, explicitStart uint64) (uint64, error) {
	if explicitStart != 0 {
		return explicitStart, nil
	}

	cursor, ok, err := s.store.LoadCursor(ctx, contract)
	if err != nil {
		return 0, err
	}
	if ok {
		if cursor <= s.cfg.ReorgSafety {
			return 1, nil
		}
		return cursor - s.cfg.ReorgSafety, nil
	}

	latest, err := s.chain.LatestHeight(ctx)
	if err != nil {
		return 0, err
	}

	creation, err := s.locator.Locate(ctx, address, 1, latest)
	if err != nil {
		return 0, err
	}

	if err := s.store.InitCursor(ctx, contract, creation-1); err != nil && err != progress.ErrCursorExists {
		return 0, err
	}

	return creation, nil
}
