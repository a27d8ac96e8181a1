// Package fetcher implements retry-and-shrink log retrieval: the sole
// reaction this scanner has to a node rejecting an oversized eth_getLogs
// response, grounded on the original scanner's _retry_web3_call.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/chain"
	"chainsweep/internal/metrics"
	"chainsweep/internal/scanerr"
)

// LogFetcher fetches a single chunk of logs for [from, to], retrying with a
// halved range on every failure since an oversized response and a transport
// timeout are indistinguishable from here.
type LogFetcher struct {
	chain      chain.ChainClient
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Recorder // optional, nil-safe
	log        *logrus.Entry
}

func New(client chain.ChainClient, maxRetries int, retryDelay time.Duration) *LogFetcher {
	if maxRetries <= 0 {
		maxRetries = 4
	}
	if retryDelay <= 0 {
		retryDelay = 12 * time.Second
	}
	return &LogFetcher{
		chain:      client,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        logrus.WithField("component", "log-fetcher"),
	}
}

// SetMetrics attaches a Recorder after construction so callers that build a
// LogFetcher before their Recorder exists (or don't have one at all) aren't
// forced through a wider constructor.
func (f *LogFetcher) SetMetrics(rec *metrics.Recorder) {
	f.metrics = rec
}

func (f *LogFetcher) recordRetry(contract string) {
	if f.metrics == nil {
		return
	}
	f.metrics.RetriesTotal.WithLabelValues(contract).Inc()
}

// Fetch returns (actualTo, logs) for the widest range ending at or before to
// that the node accepted. actualTo may be less than to; the caller must use
// it, not the requested to, to advance its cursor.
//
// Every attempt re-anchors to the original from (the conservative choice
// this scanner always takes): a repeated
// shrink never re-anchors to a prior partial success. chain.Classify decides
// whether a failure is worth retrying at all: a permanent error (malformed
// request, bad address) aborts immediately instead of burning the rest of
// the attempt budget shrinking a range that was never the problem.
func (f *LogFetcher) Fetch(ctx context.Context, from, to uint64, address common.Address, topic0 common.Hash) (uint64, []types.Log, error) {
	curTo := to
	var lastErr error

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		logs, err := f.chain.QueryLogs(ctx, chain.Filter{From: from, To: curTo, Address: address, Topic0: topic0})
		if err == nil {
			return curTo, logs, nil
		}

		lastErr = err
		kind := chain.Classify(err)
		f.log.WithError(err).WithFields(logrus.Fields{
			"from": from, "to": curTo, "attempt": attempt + 1, "max_attempts": f.maxRetries, "kind": kind,
		}).Warn("log query failed, shrinking range")

		if kind == chain.ErrorKindPermanent {
			return 0, nil, fmt.Errorf("fetcher: permanent log query error for [%d,%d]: %w", from, curTo, err)
		}
		f.recordRetry(address.Hex())

		if attempt == f.maxRetries-1 {
			break
		}

		curTo = from + (curTo-from)/2

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}

	return 0, nil, scanerr.New(scanerr.KindTransientRPC, address.Hex(), 0, from, to, lastErr)
}
