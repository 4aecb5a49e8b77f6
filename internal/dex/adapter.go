package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"swapscope/internal/model"
)

// ErrMalformedLog reports a log whose topics or data disagree with the ABI.
// The pipeline skips malformed swap logs instead of halting.
var ErrMalformedLog = errors.New("malformed log")

// Caller issues read-only contract calls. Satisfied by chain.Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Adapter binds one DEX deployment to the pipeline: which factory to watch,
// which event signatures to filter on, and how to decode and enrich them.
type Adapter interface {
	// Name is the dex_name carried on every persisted row.
	Name() string
	FactoryAddress() common.Address
	PoolCreatedTopic() common.Hash
	SwapTopic() common.Hash

	DecodePoolCreated(log types.Log) (model.PoolCreated, error)
	DecodeSwap(log types.Log) (model.SwapEvent, error)

	// EnrichTokens fills token symbol/decimals on the pool, degrading to
	// nil symbol and 18 decimals when a token contract misbehaves. Only a
	// cancelled context is returned as an error.
	EnrichTokens(ctx context.Context, pool *model.Pool) error

	// RefreshPoolState reads the pool's current liquidity and slot0.
	RefreshPoolState(ctx context.Context, pool common.Address) (model.PoolState, error)
}
