package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

// DexName is the dex_name value carried on every moonshot row.
const DexName = "moonshot"

// Moonshot is the Adapter for the Moonshot concentrated-liquidity factory
// and its pools.
type Moonshot struct {
	factory    common.Address
	factoryABI abi.ABI
	poolABI    abi.ABI
	caller     Caller
	logger     *zap.Logger
}

// NewMoonshot builds the moonshot adapter for one factory deployment.
func NewMoonshot(factory common.Address, caller Caller, logger *zap.Logger) (*Moonshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fABI, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pABI, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &Moonshot{
		factory:    factory,
		factoryABI: fABI,
		poolABI:    pABI,
		caller:     caller,
		logger:     logger,
	}, nil
}

func (m *Moonshot) Name() string { return DexName }

func (m *Moonshot) FactoryAddress() common.Address { return m.factory }

func (m *Moonshot) PoolCreatedTopic() common.Hash {
	return m.factoryABI.Events["PoolCreated"].ID
}

func (m *Moonshot) SwapTopic() common.Hash {
	return m.poolABI.Events["Swap"].ID
}

// DecodePoolCreated decodes a factory PoolCreated log.
func (m *Moonshot) DecodePoolCreated(log types.Log) (model.PoolCreated, error) {
	event := m.factoryABI.Events["PoolCreated"]
	if err := checkTopics(event, log); err != nil {
		return model.PoolCreated{}, err
	}

	var indexed struct {
		Token0 common.Address
		Token1 common.Address
		Fee    *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return model.PoolCreated{}, fmt.Errorf("%w: parse PoolCreated topics: %v", ErrMalformedLog, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.PoolCreated{}, fmt.Errorf("%w: unpack PoolCreated data: %v", ErrMalformedLog, err)
	}
	if len(values) != 2 {
		return model.PoolCreated{}, fmt.Errorf("%w: unexpected PoolCreated values: %d", ErrMalformedLog, len(values))
	}

	tickSpacingInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolCreated{}, fmt.Errorf("%w: tickSpacing: %v", ErrMalformedLog, err)
	}
	tickSpacing, err := int24FromBig(tickSpacingInt)
	if err != nil {
		return model.PoolCreated{}, fmt.Errorf("%w: tickSpacing: %v", ErrMalformedLog, err)
	}
	pool, err := asAddress(values[1])
	if err != nil {
		return model.PoolCreated{}, fmt.Errorf("%w: pool: %v", ErrMalformedLog, err)
	}

	// token0 == token1 breaks a pool invariant; this is not a shape
	// problem, so the caller must abort the batch rather than skip.
	if indexed.Token0 == indexed.Token1 {
		return model.PoolCreated{}, fmt.Errorf("pool %s: token0 equals token1 (%s)", pool.Hex(), indexed.Token0.Hex())
	}

	return model.PoolCreated{
		Token0:      strings.ToLower(indexed.Token0.Hex()),
		Token1:      strings.ToLower(indexed.Token1.Hex()),
		Fee:         uint32(indexed.Fee.Uint64()),
		TickSpacing: tickSpacing,
		Pool:        strings.ToLower(pool.Hex()),
	}, nil
}

// DecodeSwap decodes a pool Swap log, preserving full int256 amounts.
func (m *Moonshot) DecodeSwap(log types.Log) (model.SwapEvent, error) {
	event := m.poolABI.Events["Swap"]
	if err := checkTopics(event, log); err != nil {
		return model.SwapEvent{}, err
	}

	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: parse Swap topics: %v", ErrMalformedLog, err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: unpack Swap data: %v", ErrMalformedLog, err)
	}
	if len(values) != 5 {
		return model.SwapEvent{}, fmt.Errorf("%w: unexpected Swap values: %d", ErrMalformedLog, len(values))
	}

	amount0, err := asBigInt(values[0])
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: amount0: %v", ErrMalformedLog, err)
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: amount1: %v", ErrMalformedLog, err)
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: sqrtPriceX96: %v", ErrMalformedLog, err)
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: liquidity: %v", ErrMalformedLog, err)
	}
	tickInt, err := asBigInt(values[4])
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: tick: %v", ErrMalformedLog, err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%w: tick: %v", ErrMalformedLog, err)
	}

	return model.SwapEvent{
		Sender:       indexed.Sender.Hex(),
		Recipient:    indexed.Recipient.Hex(),
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		Tick:         tick,
	}, nil
}

func checkTopics(event abi.Event, log types.Log) error {
	want := len(indexedArguments(event.Inputs)) + 1
	if len(log.Topics) != want {
		return fmt.Errorf("%w: %s expects %d topics, got %d", ErrMalformedLog, event.Name, want, len(log.Topics))
	}
	if log.Topics[0] != event.ID {
		return fmt.Errorf("%w: topic0 %s is not %s", ErrMalformedLog, log.Topics[0].Hex(), event.Name)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
