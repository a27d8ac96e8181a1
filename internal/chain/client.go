package chain

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// DialRetry controls how many times and how often Dial retries a failed
// connection attempt.
type DialRetry struct {
	Attempts int
	Delay    time.Duration
}

// Client is the thin capability surface a scan needs: latest block,
// block header, bytecode-at-height, raw log query and log decoding. It
// wraps *ethclient.Client and only retries at the connection level — the
// retry-and-shrink behaviour for log queries belongs to LogFetcher, not here.
type Client struct {
	eth *ethclient.Client
	log *logrus.Entry
}

// Dial establishes the RPC connection with bounded retry.
func Dial(ctx context.Context, url string, retry DialRetry) (*Client, error) {
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}
	if retry.Delay <= 0 {
		retry.Delay = 1500 * time.Millisecond
	}

	log := logrus.WithField("component", "chain")

	var (
		cli *ethclient.Client
		err error
	)
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		cli, err = ethclient.DialContext(ctx, url)
		if err == nil {
			return &Client{eth: cli, log: log}, nil
		}
		log.WithError(err).Warnf("rpc dial failed (attempt %d/%d)", attempt, retry.Attempts)
		if attempt < retry.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retry.Delay):
			}
		}
	}
	return nil, err
}

// LatestHeight returns the chain's current highest block number.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockHeader fetches a block header by height. A missing header (re-org or
// unmined height) is reported as ErrBlockNotFound.
func (c *Client) BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error) {
	h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if errors.Is(err, geth.NotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return headerFromGeth(h), nil
}

// CodeAt returns the contract bytecode deployed at address as of height.
// Empty bytes mean no contract existed at that height.
func (c *Client) CodeAt(ctx context.Context, address common.Address, height uint64) ([]byte, error) {
	return c.eth.CodeAt(ctx, address, new(big.Int).SetUint64(height))
}

// QueryLogs issues a single eth_getLogs call for the given inclusive range,
// address and topic-0. It makes no retry attempt of its own; LogFetcher owns
// that.
func (c *Client) QueryLogs(ctx context.Context, f Filter) ([]types.Log, error) {
	q := geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(f.From),
		ToBlock:   new(big.Int).SetUint64(f.To),
		Addresses: []common.Address{f.Address},
		Topics:    [][]common.Hash{{f.Topic0}},
	}
	return c.eth.FilterLogs(ctx, q)
}

// DecodeLog decodes a raw log against schema: non-indexed fields come from
// log.Data, indexed fields come from topics[1:].
func (c *Client) DecodeLog(schema *EventSchema, lg types.Log) (DecodedEvent, error) {
	args := make(map[string]string, len(schema.Indexed)+len(schema.NonIndexed))

	if len(schema.NonIndexed) > 0 {
		raw := make(map[string]interface{})
		if err := schema.NonIndexed.UnpackIntoMap(raw, lg.Data); err != nil {
			return DecodedEvent{}, err
		}
		for k, v := range raw {
			args[k] = RenderArg(v)
		}
	}

	for i, in := range schema.Indexed {
		topicIdx := i + 1
		if topicIdx >= len(lg.Topics) {
			break
		}
		raw := make(map[string]interface{})
		if err := abi.ParseTopicsIntoMap(raw, abi.Arguments{in}, []common.Hash{lg.Topics[topicIdx]}); err != nil {
			return DecodedEvent{}, err
		}
		args[in.Name] = RenderArg(raw[in.Name])
	}

	return DecodedEvent{
		EventName:       schema.Name,
		ContractAddress: lg.Address.Hex(),
		BlockHeight:     lg.BlockNumber,
		TxHash:          lg.TxHash.Hex(),
		TxIndex:         lg.TxIndex,
		LogIndex:        lg.Index,
		Args:            args,
	}, nil
}

// ErrorKind distinguishes a transient RPC failure (timeout, oversized
// response, node-side cancellation — indistinguishable from one another)
// from a permanent one (malformed request, decode error).
type ErrorKind int

const (
	ErrorKindPermanent ErrorKind = iota
	ErrorKindTransient
)

// Classify guesses whether err is worth retrying. go-ethereum / net/http
// report oversized responses and timeouts with the same generic shapes, so
// this intentionally lumps them together.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"timeout", "timed out", "context canceled", "context deadline",
		"connection reset", "too many", "exceeds", "limit exceeded",
		"response too large", "read tcp", "eof",
	} {
		if strings.Contains(msg, needle) {
			return ErrorKindTransient
		}
	}
	return ErrorKindPermanent
}
