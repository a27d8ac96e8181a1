package scanerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	inner := New(KindBlockNotFound, "0xabc", 10, 11, 20, errors.New("boom"))
	wrapped := fmt.Errorf("segment failed: %w", inner)

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindBlockNotFound, kind)
}

func TestKindOfReturnsFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestFatalClassifiesTransientKinds(t *testing.T) {
	assert.False(t, KindTransientRPC.Fatal())
	assert.False(t, KindBlockNotFound.Fatal())
	assert.True(t, KindPendingLog.Fatal())
	assert.True(t, KindDecodeError.Fatal())
	assert.True(t, KindStoreError.Fatal())
	assert.True(t, KindContractNotFound.Fatal())
}

func TestErrorIsMatchesOnKindOnly(t *testing.T) {
	a := New(KindStoreError, "0xabc", 1, 2, 3, errors.New("a"))
	b := New(KindStoreError, "0xdef", 9, 9, 9, errors.New("b"))
	c := New(KindDecodeError, "0xabc", 1, 2, 3, errors.New("a"))

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestErrorMessageIncludesContext(t *testing.T) {
	e := New(KindTransientRPC, "0xabc", 100, 101, 200, errors.New("rpc timeout"))
	msg := e.Error()
	assert.Contains(t, msg, "transient_rpc")
	assert.Contains(t, msg, "0xabc")
	assert.Contains(t, msg, "rpc timeout")
}
