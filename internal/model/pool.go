package model

import "time"

// Pool is a concentrated-liquidity pool row.
//
// Token0/Token1, FeeTier and TickSpacing are immutable once set by the
// factory; Liquidity, SqrtPriceX96 and Tick track the latest committed
// on-chain state. Wide integers travel as decimal strings so values up to
// uint160 survive storage round-trips.
type Pool struct {
	ChainID        uint64     `json:"chain_id"`
	Address        string     `json:"pool_address"`
	Token0         string     `json:"token0_address"`
	Token1         string     `json:"token1_address"`
	Token0Symbol   *string    `json:"token0_symbol,omitempty"`
	Token1Symbol   *string    `json:"token1_symbol,omitempty"`
	Token0Decimals *uint8     `json:"token0_decimals,omitempty"`
	Token1Decimals *uint8     `json:"token1_decimals,omitempty"`
	FeeTier        uint32     `json:"fee_tier"`
	TickSpacing    int32      `json:"tick_spacing"`
	Liquidity      string     `json:"liquidity"`
	SqrtPriceX96   string     `json:"sqrt_price_x96"`
	Tick           int32      `json:"tick"`
	DexName        string     `json:"dex_name"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// PoolState is a point-in-time snapshot of a pool's mutable fields.
type PoolState struct {
	Liquidity    string `json:"liquidity"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
}

// ApplyState overwrites the pool's mutable fields from a snapshot.
func (p *Pool) ApplyState(state PoolState) {
	p.Liquidity = state.Liquidity
	p.SqrtPriceX96 = state.SqrtPriceX96
	p.Tick = state.Tick
}
