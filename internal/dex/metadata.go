package dex

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

// defaultDecimals is assumed when a token contract does not answer
// decimals(). 18 is the overwhelmingly common value.
const defaultDecimals uint8 = 18

// EnrichTokens fills symbol/decimals for both pool tokens. Token contracts
// that revert or return garbage degrade to nil symbol and 18 decimals; only
// context cancellation is an error.
func (m *Moonshot) EnrichTokens(ctx context.Context, pool *model.Pool) error {
	symbol0, decimals0 := m.tokenMetadata(ctx, common.HexToAddress(pool.Token0))
	if err := ctx.Err(); err != nil {
		return err
	}
	symbol1, decimals1 := m.tokenMetadata(ctx, common.HexToAddress(pool.Token1))
	if err := ctx.Err(); err != nil {
		return err
	}

	pool.Token0Symbol = symbol0
	pool.Token1Symbol = symbol1
	pool.Token0Decimals = &decimals0
	pool.Token1Decimals = &decimals1
	return nil
}

func (m *Moonshot) tokenMetadata(ctx context.Context, token common.Address) (*string, uint8) {
	stringABI, err := erc20StringABI()
	if err != nil {
		return nil, defaultDecimals
	}

	decimals := defaultDecimals
	if values, err := m.call(ctx, token, stringABI, "decimals"); err == nil {
		if d, err := asBigInt(values[0]); err == nil && d.IsUint64() && d.Uint64() <= 255 {
			decimals = uint8(d.Uint64())
		}
	} else {
		m.logger.Debug("decimals call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := m.call(ctx, token, stringABI, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok && symbol != "" {
			return &symbol, decimals
		}
	}
	// Some pre-standard tokens (e.g. MKR) expose symbol() as bytes32.
	if bytes32ABI, err := erc20Bytes32ABI(); err == nil {
		if values, err := m.call(ctx, token, bytes32ABI, "symbol"); err == nil {
			if symbol, ok := bytes32ToString(values[0]); ok && symbol != "" {
				return &symbol, decimals
			}
		}
	}

	m.logger.Debug("symbol unavailable", zap.String("token", token.Hex()))
	return nil, decimals
}

// RefreshPoolState reads liquidity() and slot0() at the latest block. The
// immutable pool fields are already known, so only the mutable state is
// fetched, once per pool per batch.
func (m *Moonshot) RefreshPoolState(ctx context.Context, pool common.Address) (model.PoolState, error) {
	values, err := m.call(ctx, pool, m.poolABI, "liquidity")
	if err != nil {
		return model.PoolState{}, fmt.Errorf("liquidity %s: %w", pool.Hex(), err)
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("liquidity %s: %w", pool.Hex(), err)
	}

	values, err = m.call(ctx, pool, m.poolABI, "slot0")
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 %s: %w", pool.Hex(), err)
	}
	if len(values) < 2 {
		return model.PoolState{}, fmt.Errorf("slot0 %s: %d outputs", pool.Hex(), len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 %s: sqrtPriceX96: %w", pool.Hex(), err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 %s: tick: %w", pool.Hex(), err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 %s: tick: %w", pool.Hex(), err)
	}

	return model.PoolState{
		Liquidity:    liquidity.String(),
		SqrtPriceX96: sqrtPrice.String(),
		Tick:         tick,
	}, nil
}

func (m *Moonshot) call(ctx context.Context, to common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := m.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}
