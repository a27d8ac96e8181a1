package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded ProgressStore backend for single-node
// deployments, exercising a second storage driver against the same
// interface MongoStore satisfies.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("progress: sqlite open: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS scan_cursors (
	contract_address TEXT PRIMARY KEY,
	block_number      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS decoded_events (
	contract_address TEXT NOT NULL,
	block_height      INTEGER NOT NULL,
	tx_hash           TEXT NOT NULL,
	tx_index          INTEGER NOT NULL,
	log_index         INTEGER NOT NULL,
	event_name        TEXT NOT NULL,
	args_json         TEXT NOT NULL,
	block_time        INTEGER NOT NULL,
	UNIQUE(contract_address, block_height, tx_hash, log_index)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("progress: sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadCursor(ctx context.Context, contract string) (uint64, bool, error) {
	var height uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT block_number FROM scan_cursors WHERE contract_address = ?`, contract,
	).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (s *SQLiteStore) InitCursor(ctx context.Context, contract string, height uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (contract_address, block_number) VALUES (?, ?)`, contract, height)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrCursorExists
	}
	return err
}

func (s *SQLiteStore) AdvanceCursor(ctx context.Context, contract string, height uint64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scan_cursors (contract_address, block_number) VALUES (?, ?)
ON CONFLICT(contract_address) DO UPDATE SET block_number = excluded.block_number`,
		contract, height)
	return err
}

func (s *SQLiteStore) PersistEvents(ctx context.Context, batch []DecodedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO decoded_events
	(contract_address, block_height, tx_hash, tx_index, log_index, event_name, args_json, block_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		argsJSON, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("progress: marshal args: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ContractAddress, e.BlockHeight, e.TxHash, e.TxIndex, e.LogIndex,
			e.EventName, string(argsJSON), e.BlockTime.Unix(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
