// Package postgres implements the storage contract on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapscope/internal/model"
	"swapscope/internal/storage"
)

// Store provides Postgres persistence for pools, swaps and the cursor.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres using the given DSN.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates tables and indexes if they do not exist. amount_in and
// amount_out are numeric(78,0) so full int256 magnitudes fit without loss.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			id BIGSERIAL PRIMARY KEY,
			pool_address VARCHAR(42) NOT NULL,
			token0_address VARCHAR(42) NOT NULL,
			token1_address VARCHAR(42) NOT NULL,
			token0_symbol VARCHAR(64),
			token1_symbol VARCHAR(64),
			token0_decimals SMALLINT,
			token1_decimals SMALLINT,
			fee_tier INTEGER NOT NULL,
			tick_spacing INTEGER NOT NULL,
			liquidity NUMERIC(39, 0) NOT NULL DEFAULT 0,
			sqrt_price_x96 VARCHAR(100) NOT NULL DEFAULT '0',
			tick INTEGER NOT NULL DEFAULT 0,
			chain_id BIGINT NOT NULL,
			dex_name VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (chain_id, pool_address)
		)`,
		`CREATE TABLE IF NOT EXISTS swaps (
			id BIGSERIAL PRIMARY KEY,
			tx_hash VARCHAR(66) NOT NULL,
			pool_address VARCHAR(42) NOT NULL,
			token_in VARCHAR(10) NOT NULL,
			token_out VARCHAR(10) NOT NULL,
			amount_in NUMERIC(78, 0) NOT NULL,
			amount_out NUMERIC(78, 0) NOT NULL,
			amount_in_usd DECIMAL(20, 2),
			amount_out_usd DECIMAL(20, 2),
			timestamp BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			log_index INTEGER NOT NULL,
			chain_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (chain_id, tx_hash, log_index)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_cursor (
			chain_id BIGINT NOT NULL,
			dex_name VARCHAR(50) NOT NULL,
			last_committed_block BIGINT NOT NULL,
			last_block_hash VARCHAR(66),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (chain_id, dex_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_address ON pools (pool_address)`,
		`CREATE INDEX IF NOT EXISTS idx_pools_tokens ON pools (token0_address, token1_address)`,
		`CREATE INDEX IF NOT EXISTS idx_swaps_tx_hash ON swaps (tx_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_swaps_pool ON swaps (pool_address)`,
		`CREATE INDEX IF NOT EXISTS idx_swaps_timestamp ON swaps (timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LoadPools returns every pool for the chain/dex pair.
func (s *Store) LoadPools(ctx context.Context, chainID uint64, dexName string) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, token0_address, token1_address,
		       token0_symbol, token1_symbol, token0_decimals, token1_decimals,
		       fee_tier, tick_spacing, liquidity::text, sqrt_price_x96, tick,
		       chain_id, dex_name, created_at, updated_at
		FROM pools
		WHERE chain_id = $1 AND dex_name = $2
		ORDER BY pool_address
	`, int64(chainID), dexName)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var (
			pool                 model.Pool
			chainID              int64
			feeTier              int32
			decimals0, decimals1 *int16
		)
		if err := rows.Scan(
			&pool.Address, &pool.Token0, &pool.Token1,
			&pool.Token0Symbol, &pool.Token1Symbol, &decimals0, &decimals1,
			&feeTier, &pool.TickSpacing, &pool.Liquidity, &pool.SqrtPriceX96, &pool.Tick,
			&chainID, &pool.DexName, &pool.CreatedAt, &pool.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pool.ChainID = uint64(chainID)
		pool.FeeTier = uint32(feeTier)
		pool.Token0Decimals = uint8Ptr(decimals0)
		pool.Token1Decimals = uint8Ptr(decimals1)
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	return pools, nil
}

// GetCursor returns the persisted cursor for (chainID, dexName).
func (s *Store) GetCursor(ctx context.Context, chainID uint64, dexName string) (storage.Cursor, bool, error) {
	var (
		block int64
		hash  *string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT last_committed_block, last_block_hash
		FROM ingestion_cursor
		WHERE chain_id = $1 AND dex_name = $2
	`, int64(chainID), dexName)
	if err := row.Scan(&block, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Cursor{}, false, nil
		}
		return storage.Cursor{}, false, fmt.Errorf("get cursor: %w", err)
	}

	cursor := storage.Cursor{Block: uint64(block)}
	if hash != nil {
		cursor.BlockHash = *hash
	}
	return cursor, true, nil
}

// Transact runs fn inside one transaction; any error rolls everything back.
func (s *Store) Transact(ctx context.Context, fn func(storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

// UpsertPool inserts the pool; on conflict only the mutable state columns
// are overwritten.
func (t *txStore) UpsertPool(ctx context.Context, pool model.Pool) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pools (
			pool_address, token0_address, token1_address,
			token0_symbol, token1_symbol, token0_decimals, token1_decimals,
			fee_tier, tick_spacing, liquidity, sqrt_price_x96, tick,
			chain_id, dex_name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, now(), now())
		ON CONFLICT (chain_id, pool_address) DO UPDATE SET
			liquidity = EXCLUDED.liquidity,
			sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
			tick = EXCLUDED.tick,
			updated_at = now()
	`,
		pool.Address,
		pool.Token0,
		pool.Token1,
		pool.Token0Symbol,
		pool.Token1Symbol,
		int16Ptr(pool.Token0Decimals),
		int16Ptr(pool.Token1Decimals),
		int32(pool.FeeTier),
		pool.TickSpacing,
		nonEmpty(pool.Liquidity, "0"),
		nonEmpty(pool.SqrtPriceX96, "0"),
		pool.Tick,
		int64(pool.ChainID),
		pool.DexName,
	)
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", pool.Address, err)
	}
	return nil
}

// InsertSwap inserts with ON CONFLICT DO NOTHING and reports whether a row
// was written.
func (t *txStore) InsertSwap(ctx context.Context, swap model.Swap) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO swaps (
			tx_hash, pool_address, token_in, token_out,
			amount_in, amount_out, amount_in_usd, amount_out_usd,
			timestamp, block_number, log_index, chain_id
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
	`,
		swap.TxHash,
		swap.PoolAddress,
		swap.TokenIn,
		swap.TokenOut,
		swap.AmountIn,
		swap.AmountOut,
		swap.AmountInUSD,
		swap.AmountOutUSD,
		int64(swap.Timestamp),
		int64(swap.BlockNumber),
		int64(swap.LogIndex),
		int64(swap.ChainID),
	)
	if err != nil {
		return false, fmt.Errorf("insert swap %s#%d: %w", swap.TxHash, swap.LogIndex, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetCursor upserts the ingestion cursor.
func (t *txStore) SetCursor(ctx context.Context, chainID uint64, dexName string, cursor storage.Cursor) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ingestion_cursor (chain_id, dex_name, last_committed_block, last_block_hash, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (chain_id, dex_name) DO UPDATE SET
			last_committed_block = EXCLUDED.last_committed_block,
			last_block_hash = EXCLUDED.last_block_hash,
			updated_at = now()
	`, int64(chainID), dexName, int64(cursor.Block), nullable(cursor.BlockHash))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func int16Ptr(v *uint8) *int16 {
	if v == nil {
		return nil
	}
	out := int16(*v)
	return &out
}

func uint8Ptr(v *int16) *uint8 {
	if v == nil {
		return nil
	}
	out := uint8(*v)
	return &out
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
