// Package locator finds the block at which a contract's bytecode first
// exists, via binary search over historical CodeAt queries, so a first scan
// can start near deployment instead of at genesis.
package locator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"chainsweep/internal/cache"
	"chainsweep/internal/chain"
	"chainsweep/internal/scanerr"
)

// Locator runs the creation-block binary search.
type Locator struct {
	chain chain.ChainClient
	cache cache.CreationBlockCache
	log   *logrus.Entry
}

func New(client chain.ChainClient, creationCache cache.CreationBlockCache) *Locator {
	if creationCache == nil {
		creationCache = cache.NoopCreationBlockCache{}
	}
	return &Locator{
		chain: client,
		cache: creationCache,
		log:   logrus.WithField("component", "creation-locator"),
	}
}

// Locate finds the smallest h in [lo, hi] such that CodeAt(address, h) is
// non-empty and CodeAt(address, h-1) is empty. Preconditions: CodeAt(lo) is
// empty and CodeAt(hi) is non-empty; violating either fails with
// scanerr.KindContractNotFound.
func (l *Locator) Locate(ctx context.Context, address common.Address, lo, hi uint64) (uint64, error) {
	addrHex := address.Hex()

	if cached, ok, err := l.cache.Get(ctx, addrHex); err != nil {
		l.log.WithError(err).Warn("creation block cache read failed, falling back to binary search")
	} else if ok {
		return cached, nil
	}

	loCode, err := l.chain.CodeAt(ctx, address, lo)
	if err != nil {
		return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi, err)
	}
	hiCode, err := l.chain.CodeAt(ctx, address, hi)
	if err != nil {
		return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi, err)
	}
	if len(loCode) != 0 {
		return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi,
			fmt.Errorf("locator: precondition violated, code already present at lo=%d", lo))
	}
	if len(hiCode) == 0 {
		return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi,
			fmt.Errorf("locator: precondition violated, no code present at hi=%d", hi))
	}

	for lo < hi {
		mid := lo + (hi-lo)/2
		if mid == lo {
			mid++
		}

		midCode, err := l.chain.CodeAt(ctx, address, mid)
		if err != nil {
			return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi, err)
		}
		prevCode, err := l.chain.CodeAt(ctx, address, mid-1)
		if err != nil {
			return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi, err)
		}

		switch {
		case len(midCode) != 0 && len(prevCode) == 0:
			l.log.WithFields(logrus.Fields{"contract": addrHex, "creation_block": mid}).Info("located creation block")
			if err := l.cache.Set(ctx, addrHex, mid); err != nil {
				l.log.WithError(err).Warn("creation block cache write failed")
			}
			return mid, nil
		case len(midCode) != 0 && len(prevCode) != 0:
			hi = mid
		default:
			lo = mid
		}
	}

	return 0, scanerr.New(scanerr.KindContractNotFound, addrHex, 0, lo, hi,
		fmt.Errorf("locator: search exhausted without finding a transition"))
}
