package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the capability surface LogFetcher, CreationLocator and
// Scanner depend on. *Client satisfies it; tests supply fakes.
type ChainClient interface {
	LatestHeight(ctx context.Context) (uint64, error)
	BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error)
	CodeAt(ctx context.Context, address common.Address, height uint64) ([]byte, error)
	QueryLogs(ctx context.Context, f Filter) ([]types.Log, error)
	DecodeLog(schema *EventSchema, lg types.Log) (DecodedEvent, error)
}

var _ ChainClient = (*Client)(nil)
