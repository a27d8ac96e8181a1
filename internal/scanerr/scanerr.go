// Package scanerr classifies the errors a scan cycle can produce so callers
// can tell a transient hiccup from a fatal condition without string matching.
package scanerr

import "fmt"

// Kind names one of the error classes a scan cycle can surface.
type Kind string

const (
	// KindTransientRPC covers timeouts, oversized responses and node-side
	// cancellation. LogFetcher absorbs these internally; they only reach a
	// caller once retries are exhausted.
	KindTransientRPC Kind = "transient_rpc"
	// KindBlockNotFound means a header lookup for a known height failed.
	// Treated as transient: the scanner holds the cursor and retries next cycle.
	KindBlockNotFound Kind = "block_not_found"
	// KindPendingLog means a log arrived with no block hash (pending block).
	// This is a programming-invariant violation: the scanner promised never
	// to query the tip.
	KindPendingLog Kind = "pending_log"
	// KindDecodeError means a log didn't match the configured event schema.
	KindDecodeError Kind = "decode_error"
	// KindStoreError means ProgressStore persistence failed.
	KindStoreError Kind = "store_error"
	// KindContractNotFound means CreationLocator's preconditions didn't hold.
	KindContractNotFound Kind = "contract_not_found"
)

// Error wraps a classified scan failure with enough context for an operator
// to act on it: the contract, the last height it is still safe to resume
// from, and the block range in flight when the failure happened.
type Error struct {
	Kind           Kind
	Contract       string
	LastSafeHeight uint64
	RangeFrom      uint64
	RangeTo        uint64
	Err            error
}

func New(kind Kind, contract string, lastSafeHeight, from, to uint64, err error) *Error {
	return &Error{
		Kind:           kind,
		Contract:       contract,
		LastSafeHeight: lastSafeHeight,
		RangeFrom:      from,
		RangeTo:        to,
		Err:            err,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan[%s] contract=%s range=[%d,%d] last_safe=%d: %v",
			e.Kind, e.Contract, e.RangeFrom, e.RangeTo, e.LastSafeHeight, e.Err)
	}
	return fmt.Sprintf("scan[%s] contract=%s range=[%d,%d] last_safe=%d",
		e.Kind, e.Contract, e.RangeFrom, e.RangeTo, e.LastSafeHeight)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, scanerr.New(scanerr.KindDecodeError, ...)) style
// checks, or more commonly compare the Kind returned by KindOf below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Fatal reports whether the Kind aborts the current segment outright
// (everything except the two kinds LogFetcher/Scanner already treat as
// recoverable-next-cycle).
func (k Kind) Fatal() bool {
	switch k {
	case KindTransientRPC, KindBlockNotFound:
		return false
	default:
		return true
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
