package chain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrBlockNotFound signals that a header lookup for a known height failed —
// a re-org or an unmined height. Callers treat it as transient.
var ErrBlockNotFound = errors.New("chain: block not found")

// ErrPendingLog signals that a log arrived with no block hash, meaning it
// belongs to a pending (unmined) block. The scanner promises never to query
// the tip, so seeing one is a programming-invariant violation.
var ErrPendingLog = errors.New("chain: log belongs to a pending block")

// BlockHeader is the minimal header shape the scanner needs. Timestamp is
// always UTC, second precision, per the data model's requirement.
type BlockHeader struct {
	Height    uint64
	Timestamp time.Time
}

func headerFromGeth(h *types.Header) *BlockHeader {
	return &BlockHeader{
		Height:    h.Number.Uint64(),
		Timestamp: time.Unix(int64(h.Time), 0).UTC(),
	}
}

// Filter is the inclusive-range, single-address, single-topic log query the
// scanner ever issues. Both bounds are required.
type Filter struct {
	From    uint64
	To      uint64
	Address common.Address
	Topic0  common.Hash
}

// DecodedEvent is the canonical decoded-event shape, uniquely keyed by
// (ContractAddress, BlockHeight, TxHash, LogIndex). Values are rendered as
// strings so 256-bit integers never round-trip through float64.
type DecodedEvent struct {
	EventName       string
	ContractAddress string
	BlockHeight     uint64
	TxHash          string
	TxIndex         uint
	LogIndex        uint
	Args            map[string]string
	BlockTime       time.Time
}

// CheckMined rejects logs belonging to an unmined block. go-ethereum's
// client zeroes BlockHash for logs it hasn't attached to a mined block yet,
// which is the wire-level equivalent of the JSON-RPC "logIndex: null"
// convention this scanner refuses to process.
func CheckMined(lg types.Log) error {
	if lg.BlockHash == (common.Hash{}) {
		return ErrPendingLog
	}
	return nil
}

// RenderArg stringifies a decoded ABI value without ever passing it through
// a float: integers become base-10 strings, addresses become checksum hex,
// byte slices become hex without a 0x prefix, everything else uses its
// default string form.
func RenderArg(v interface{}) string {
	switch val := v.(type) {
	case *big.Int:
		return val.String()
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case []byte:
		return common.Bytes2Hex(val)
	case [32]byte:
		return common.Bytes2Hex(val[:])
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
