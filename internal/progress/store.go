// Package progress implements durable, per-contract scan-cursor tracking and
// decoded-event persistence, with two storage
// backends (MongoDB, SQLite) sharing one interface.
package progress

import (
	"context"
	"errors"
	"time"
)

// ErrCursorExists is returned by InitCursor when a cursor for the contract
// is already present.
var ErrCursorExists = errors.New("progress: cursor already exists")

// DecodedEvent is the persisted shape of a decoded log, matching the
// canonical decoded-event field set: every value-bearing
// field is a string so 256-bit integers survive round-trips losslessly.
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

// Store is the capability surface a ProgressStore backend must provide: a
// per-contract cursor plus a decoded-event sink. Implementations must be
// safe for concurrent PersistEvents/AdvanceCursor calls — ScanCoordinator
// fans segments out across goroutines that share one Store.
type Store interface {
	// LoadCursor returns the last-scanned height for contract, or ok=false
	// if no cursor has been created yet.
	LoadCursor(ctx context.Context, contract string) (height uint64, ok bool, err error)

	// InitCursor creates a cursor at height. It fails with ErrCursorExists
	// if one is already present.
	InitCursor(ctx context.Context, contract string, height uint64) error

	// AdvanceCursor sets the cursor to exactly height. It does not enforce
	// monotonicity itself — Scanner/ScanCoordinator do.
	AdvanceCursor(ctx context.Context, contract string, height uint64) error

	// PersistEvents inserts a batch of decoded events. Implementations
	// SHOULD dedupe on (ContractAddress, BlockHeight, TxHash, LogIndex) but
	// are not required to.
	PersistEvents(ctx context.Context, batch []DecodedEvent) error

	// Close releases any held connections.
	Close(ctx context.Context) error
}
