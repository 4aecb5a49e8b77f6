package pipeline

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"swapscope/internal/dex"
	"swapscope/internal/model"
)

// swapFromEvent derives the persisted swap row from a decoded Swap event.
//
// amount0/amount1 are the pool's signed deltas: the positive side is what
// the pool received (token_in), the other side negated is what it paid out.
// Exactly one side must be positive; anything else is a malformed log.
func swapFromEvent(chainID uint64, log types.Log, event model.SwapEvent, timestamp uint64) (model.Swap, error) {
	sign0 := event.Amount0.Sign()
	sign1 := event.Amount1.Sign()

	var tokenIn, tokenOut string
	var amountIn, amountOut *big.Int
	switch {
	case sign0 > 0 && sign1 <= 0:
		tokenIn, tokenOut = model.Token0, model.Token1
		amountIn = event.Amount0
		amountOut = new(big.Int).Neg(event.Amount1)
	case sign1 > 0 && sign0 <= 0:
		tokenIn, tokenOut = model.Token1, model.Token0
		amountIn = event.Amount1
		amountOut = new(big.Int).Neg(event.Amount0)
	default:
		return model.Swap{}, fmt.Errorf("%w: swap deltas amount0=%s amount1=%s", dex.ErrMalformedLog, event.Amount0, event.Amount1)
	}

	return model.Swap{
		ChainID:     chainID,
		TxHash:      log.TxHash.Hex(),
		PoolAddress: strings.ToLower(log.Address.Hex()),
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn.String(),
		AmountOut:   amountOut.String(),
		Timestamp:   timestamp,
		BlockNumber: log.BlockNumber,
		LogIndex:    uint64(log.Index),
	}, nil
}

// poolFromCreated builds the pool row for a freshly discovered pool.
func poolFromCreated(chainID uint64, dexName string, created model.PoolCreated) model.Pool {
	return model.Pool{
		ChainID:      chainID,
		Address:      created.Pool,
		Token0:       created.Token0,
		Token1:       created.Token1,
		FeeTier:      created.Fee,
		TickSpacing:  created.TickSpacing,
		Liquidity:    "0",
		SqrtPriceX96: "0",
		DexName:      dexName,
	}
}
