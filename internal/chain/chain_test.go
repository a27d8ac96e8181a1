package chain

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderArgBigIntNeverRoundTripsThroughFloat(t *testing.T) {
	// A value well beyond float64's 53-bit mantissa; if this ever passed
	// through a float the low digits would be lost.
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", RenderArg(huge))
}

func TestRenderArgAddress(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000ff")
	assert.Equal(t, addr.Hex(), RenderArg(addr))
}

func TestRenderArgBytes(t *testing.T) {
	assert.Equal(t, "deadbeef", RenderArg([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestRenderArgBool(t *testing.T) {
	assert.Equal(t, "true", RenderArg(true))
	assert.Equal(t, "false", RenderArg(false))
}

func TestRenderArgString(t *testing.T) {
	assert.Equal(t, "hello", RenderArg("hello"))
}

func TestCheckMinedRejectsZeroBlockHash(t *testing.T) {
	lg := types.Log{BlockHash: common.Hash{}}
	assert.ErrorIs(t, CheckMined(lg), ErrPendingLog)
}

func TestCheckMinedAcceptsMinedLog(t *testing.T) {
	lg := types.Log{BlockHash: common.HexToHash("0xabc")}
	assert.NoError(t, CheckMined(lg))
}

func TestClassifyTransientCases(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	assert.Equal(t, ErrorKindTransient, Classify(ctx.Err()))
	assert.Equal(t, ErrorKindTransient, Classify(io.ErrUnexpectedEOF))
	assert.Equal(t, ErrorKindTransient, Classify(errors.New("query returned more than 10000 results, exceeds limit")))
	assert.Equal(t, ErrorKindTransient, Classify(&net.DNSError{IsTimeout: true}))
}

func TestClassifyPermanentCase(t *testing.T) {
	assert.Equal(t, ErrorKindPermanent, Classify(errors.New("invalid address checksum")))
	assert.Equal(t, ErrorKindPermanent, Classify(nil))
}

func TestNewEventSchemaSplitsIndexedArgs(t *testing.T) {
	const rawABI = `[{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]}]`
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	require.NoError(t, err)

	schema, err := NewEventSchema(&parsed, "Transfer")
	require.NoError(t, err)
	assert.Equal(t, "Transfer", schema.Name)
	assert.Len(t, schema.Indexed, 2)
	assert.Len(t, schema.NonIndexed, 1)
	assert.Equal(t, "value", schema.NonIndexed[0].Name)
}

func TestNewEventSchemaUnknownEventErrors(t *testing.T) {
	const rawABI = `[{"type":"event","name":"Transfer","inputs":[]}]`
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	require.NoError(t, err)

	_, err = NewEventSchema(&parsed, "Approval")
	assert.Error(t, err)
}
