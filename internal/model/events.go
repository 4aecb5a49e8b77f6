package model

import "math/big"

// PoolCreated is the decoded factory PoolCreated event.
type PoolCreated struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`
	Pool        string `json:"pool"`
}

// SwapEvent is the decoded pool Swap event payload. Amount0 and Amount1 are
// the pool's signed token deltas and keep full int256 precision.
type SwapEvent struct {
	Sender       string   `json:"sender"`
	Recipient    string   `json:"recipient"`
	Amount0      *big.Int `json:"amount0"`
	Amount1      *big.Int `json:"amount1"`
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Liquidity    *big.Int `json:"liquidity"`
	Tick         int32    `json:"tick"`
}
