package model

// TokenSide names one side of a pool in the pool's own token ordering.
const (
	Token0 = "token0"
	Token1 = "token1"
)

// Swap is a persisted swap row, identified by (chain_id, tx_hash, log_index).
//
// AmountIn/AmountOut are raw on-chain units as decimal strings; they can be
// full int256 magnitudes. The USD fields are populated by a separate
// enricher and stay nil here.
type Swap struct {
	ChainID      uint64   `json:"chain_id"`
	TxHash       string   `json:"tx_hash"`
	PoolAddress  string   `json:"pool_address"`
	TokenIn      string   `json:"token_in"`
	TokenOut     string   `json:"token_out"`
	AmountIn     string   `json:"amount_in"`
	AmountOut    string   `json:"amount_out"`
	AmountInUSD  *float64 `json:"amount_in_usd,omitempty"`
	AmountOutUSD *float64 `json:"amount_out_usd,omitempty"`
	Timestamp    uint64   `json:"timestamp"`
	BlockNumber  uint64   `json:"block_number"`
	LogIndex     uint64   `json:"log_index"`
}
