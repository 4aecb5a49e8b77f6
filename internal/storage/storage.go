// Package storage defines the persistence contract the pipeline commits
// through. All batch mutations run inside a single transaction; replaying a
// committed batch must be a no-op.
package storage

import (
	"context"

	"swapscope/internal/model"
)

// Cursor is the persisted ingestion position for one (chain, dex) pair.
// BlockHash is the canonical hash observed at Block when the batch
// committed; it drives reorg detection on the next batch.
type Cursor struct {
	Block     uint64
	BlockHash string
}

// Tx is the mutation surface available inside one batch transaction.
type Tx interface {
	// UpsertPool inserts the pool or, on conflict, updates only the
	// mutable fields (liquidity, sqrt_price_x96, tick, updated_at).
	UpsertPool(ctx context.Context, pool model.Pool) error

	// InsertSwap inserts with ON CONFLICT DO NOTHING and reports whether
	// a row was actually written.
	InsertSwap(ctx context.Context, swap model.Swap) (bool, error)

	// SetCursor upserts the cursor for (chainID, dexName).
	SetCursor(ctx context.Context, chainID uint64, dexName string, cursor Cursor) error
}

// Store is the read surface plus the transaction entry point.
type Store interface {
	// LoadPools returns every pool for the chain/dex, for registry bootstrap.
	LoadPools(ctx context.Context, chainID uint64, dexName string) ([]model.Pool, error)

	// GetCursor returns the persisted cursor, if any.
	GetCursor(ctx context.Context, chainID uint64, dexName string) (Cursor, bool, error)

	// Transact runs fn inside a single transaction, rolling back on error.
	Transact(ctx context.Context, fn func(Tx) error) error
}
