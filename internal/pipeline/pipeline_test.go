package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swapscope/internal/chain"
	"swapscope/internal/dex"
	"swapscope/internal/model"
	"swapscope/internal/storage"
)

var (
	factoryAddr = common.HexToAddress("0xfac7fac7fac7fac7fac7fac7fac7fac7fac7fac7")
	poolAddr    = common.HexToAddress("0x9001900190019001900190019001900190019001")
	tokenA      = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB      = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// ---- fake chain ----

type fakeChain struct {
	mu          sync.Mutex
	head        uint64
	headerTags  map[uint64]string
	logs        []types.Log
	maxRange    uint64
	failFilters int
	filterCalls int
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, headerTags: make(map[uint64]string)}
}

func makeHeader(number uint64, tag string) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(0),
		Time:       number * 10,
		Extra:      []byte(tag),
	}
}

func (f *fakeChain) headerFor(number uint64) *types.Header {
	tag, ok := f.headerTags[number]
	if !ok {
		tag = fmt.Sprintf("b%d", number)
	}
	return makeHeader(number, tag)
}

func (f *fakeChain) LatestBlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headerFor(number.Uint64()), nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return number * 10, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filterCalls++
	if f.failFilters > 0 {
		f.failFilters--
		return nil, errors.New("read tcp: connection reset by peer")
	}
	if f.maxRange > 0 && toBlock-fromBlock+1 > f.maxRange {
		return nil, fmt.Errorf("eth_getLogs [%d,%d]: %w", fromBlock, toBlock, chain.ErrRangeTooLarge)
	}

	wantAddr := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		wantAddr[a] = struct{}{}
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(wantAddr) > 0 {
			if _, ok := wantAddr[log.Address]; !ok {
				continue
			}
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || log.Topics[0] != topic0[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeChain) SubscribeNewHeads(_ context.Context, _ chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (f *fakeChain) addLog(log types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, log)
	f.mu.Unlock()
}

func (f *fakeChain) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterCalls
}

// ---- fake store ----

type storeState struct {
	pools  map[string]model.Pool
	swaps  map[string]model.Swap
	order  []model.Swap
	cursor map[string]storage.Cursor
}

func (s storeState) clone() storeState {
	out := storeState{
		pools:  make(map[string]model.Pool, len(s.pools)),
		swaps:  make(map[string]model.Swap, len(s.swaps)),
		order:  append([]model.Swap(nil), s.order...),
		cursor: make(map[string]storage.Cursor, len(s.cursor)),
	}
	for k, v := range s.pools {
		out.pools[k] = v
	}
	for k, v := range s.swaps {
		out.swaps[k] = v
	}
	for k, v := range s.cursor {
		out.cursor[k] = v
	}
	return out
}

type fakeStore struct {
	mu          sync.Mutex
	state       storeState
	failCommits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: storeState{
		pools:  make(map[string]model.Pool),
		swaps:  make(map[string]model.Swap),
		cursor: make(map[string]storage.Cursor),
	}}
}

func cursorKey(chainID uint64, dexName string) string {
	return fmt.Sprintf("%d:%s", chainID, dexName)
}

func swapKey(s model.Swap) string {
	return fmt.Sprintf("%d:%s:%d", s.ChainID, s.TxHash, s.LogIndex)
}

func (f *fakeStore) LoadPools(_ context.Context, chainID uint64, dexName string) ([]model.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Pool
	for _, p := range f.state.pools {
		if p.ChainID == chainID && p.DexName == dexName {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCursor(_ context.Context, chainID uint64, dexName string) (storage.Cursor, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.state.cursor[cursorKey(chainID, dexName)]
	return c, ok, nil
}

// Transact stages mutations on a copy and only publishes them when fn and
// the commit both succeed, mirroring a real transaction rollback.
func (f *fakeStore) Transact(_ context.Context, fn func(storage.Tx) error) error {
	f.mu.Lock()
	staged := f.state.clone()
	f.mu.Unlock()

	if err := fn(&fakeTx{state: &staged}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommits > 0 {
		f.failCommits--
		return errors.New("pg: connection closed during commit")
	}
	f.state = staged
	return nil
}

type fakeTx struct {
	state *storeState
}

func (t *fakeTx) UpsertPool(_ context.Context, pool model.Pool) error {
	key := strings.ToLower(pool.Address)
	if existing, ok := t.state.pools[key]; ok {
		existing.Liquidity = pool.Liquidity
		existing.SqrtPriceX96 = pool.SqrtPriceX96
		existing.Tick = pool.Tick
		t.state.pools[key] = existing
		return nil
	}
	t.state.pools[key] = pool
	return nil
}

func (t *fakeTx) InsertSwap(_ context.Context, swap model.Swap) (bool, error) {
	key := swapKey(swap)
	if _, ok := t.state.swaps[key]; ok {
		return false, nil
	}
	if _, ok := t.state.pools[strings.ToLower(swap.PoolAddress)]; !ok {
		return false, fmt.Errorf("foreign key violation: pool %s", swap.PoolAddress)
	}
	t.state.swaps[key] = swap
	t.state.order = append(t.state.order, swap)
	return true, nil
}

func (t *fakeTx) SetCursor(_ context.Context, chainID uint64, dexName string, cursor storage.Cursor) error {
	t.state.cursor[cursorKey(chainID, dexName)] = cursor
	return nil
}

func (f *fakeStore) cursorOf(chainID uint64, dexName string) (storage.Cursor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.state.cursor[cursorKey(chainID, dexName)]
	return c, ok
}

func (f *fakeStore) swapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.swaps)
}

func (f *fakeStore) poolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.pools)
}

func (f *fakeStore) pool(address common.Address) (model.Pool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.state.pools[strings.ToLower(address.Hex())]
	return p, ok
}

func (f *fakeStore) swaps() []model.Swap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Swap(nil), f.state.order...)
}

func (f *fakeStore) seedPool(pool model.Pool) {
	f.mu.Lock()
	f.state.pools[strings.ToLower(pool.Address)] = pool
	f.mu.Unlock()
}

func (f *fakeStore) seedCursor(chainID uint64, dexName string, cursor storage.Cursor) {
	f.mu.Lock()
	f.state.cursor[cursorKey(chainID, dexName)] = cursor
	f.mu.Unlock()
}

func (f *fakeStore) seedSwap(swap model.Swap) {
	f.mu.Lock()
	f.state.swaps[swapKey(swap)] = swap
	f.mu.Unlock()
}

// ---- fake contract caller ----

type stubCaller struct {
	mu        sync.Mutex
	responses map[string][]byte
}

func stubKey(to common.Address, selector []byte) string {
	return strings.ToLower(to.Hex()) + ":" + hex.EncodeToString(selector)
}

func (s *stubCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[stubKey(*msg.To, msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return resp, nil
}

func (s *stubCaller) setPoolState(t *testing.T, pool common.Address, liquidity *big.Int, sqrtPrice *big.Int, tick int64) {
	t.Helper()
	poolABI, err := dex.PoolABI()
	require.NoError(t, err)

	liquidityOut, err := poolABI.Methods["liquidity"].Outputs.Pack(liquidity)
	require.NoError(t, err)
	slot0Out, err := poolABI.Methods["slot0"].Outputs.Pack(
		sqrtPrice, big.NewInt(tick), uint16(0), uint16(1), uint16(1), uint8(0), true,
	)
	require.NoError(t, err)

	s.mu.Lock()
	if s.responses == nil {
		s.responses = make(map[string][]byte)
	}
	s.responses[stubKey(pool, poolABI.Methods["liquidity"].ID)] = liquidityOut
	s.responses[stubKey(pool, poolABI.Methods["slot0"].ID)] = slot0Out
	s.mu.Unlock()
}

// ---- log builders ----

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func poolCreatedLog(t *testing.T, adapter dex.Adapter, block uint64, index uint, token0, token1 common.Address, fee uint64, spacing int64, pool common.Address) types.Log {
	t.Helper()
	factoryABI, err := dex.FactoryABI()
	require.NoError(t, err)

	data, err := factoryABI.Events["PoolCreated"].Inputs.NonIndexed().Pack(big.NewInt(spacing), pool)
	require.NoError(t, err)

	return types.Log{
		Address:     adapter.FactoryAddress(),
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Topics: []common.Hash{
			adapter.PoolCreatedTopic(),
			addressTopic(token0),
			addressTopic(token1),
			common.BigToHash(new(big.Int).SetUint64(fee)),
		},
		Data: data,
	}
}

func swapEventLog(t *testing.T, adapter dex.Adapter, block uint64, index uint, pool common.Address, amount0, amount1 *big.Int) types.Log {
	t.Helper()
	poolABI, err := dex.PoolABI()
	require.NoError(t, err)

	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		amount0, amount1, big.NewInt(1), big.NewInt(1), big.NewInt(0),
	)
	require.NoError(t, err)

	return types.Log{
		Address:     pool,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Topics: []common.Hash{
			adapter.SwapTopic(),
			addressTopic(common.HexToAddress("0x2222222222222222222222222222222222222222")),
			addressTopic(common.HexToAddress("0x3333333333333333333333333333333333333333")),
		},
		Data: data,
	}
}

// ---- harness ----

func testConfig() Config {
	return Config{
		ChainID:        1,
		BatchSize:      100,
		PollInterval:   5 * time.Millisecond,
		SafetyLag:      3,
		RewindOnBoot:   100,
		ReorgRewind:    12,
		FetchInFlight:  4,
		FailureBackoff: 10 * time.Millisecond,
	}
}

func newAdapter(t *testing.T, caller dex.Caller) dex.Adapter {
	t.Helper()
	adapter, err := dex.NewMoonshot(factoryAddr, caller, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func startPipeline(t *testing.T, cfg Config, fc ChainClient, fs storage.Store, adapter dex.Adapter) (context.CancelFunc, chan error) {
	t.Helper()
	p, err := New(cfg, fc, fs, adapter, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("pipeline did not stop")
		}
	})
	return cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

// ---- scenarios ----

func TestColdStartNoActivity(t *testing.T) {
	fc := newFakeChain(1000)
	fs := newFakeStore()
	adapter := newAdapter(t, &stubCaller{})

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block == 997
	})
	require.Equal(t, 0, fs.poolCount())
	require.Equal(t, 0, fs.swapCount())
}

func TestDiscoveryThenSwapSameBatch(t *testing.T) {
	fc := newFakeChain(913)
	fs := newFakeStore()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(5000), new(big.Int).Lsh(big.NewInt(1), 96), 100)
	adapter := newAdapter(t, caller)

	fc.addLog(poolCreatedLog(t, adapter, 902, 0, tokenA, tokenB, 3000, 60, poolAddr))
	fc.addLog(swapEventLog(t, adapter, 905, 1, poolAddr, big.NewInt(1000), big.NewInt(-950)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	require.Equal(t, 1, fs.poolCount())
	pool, ok := fs.pool(poolAddr)
	require.True(t, ok)
	require.Equal(t, strings.ToLower(tokenA.Hex()), pool.Token0)
	require.Equal(t, strings.ToLower(tokenB.Hex()), pool.Token1)
	require.Equal(t, uint32(3000), pool.FeeTier)
	require.Equal(t, int32(60), pool.TickSpacing)
	require.Equal(t, "5000", pool.Liquidity)
	require.Equal(t, new(big.Int).Lsh(big.NewInt(1), 96).String(), pool.SqrtPriceX96)
	require.Equal(t, int32(100), pool.Tick)
	require.Equal(t, dex.DexName, pool.DexName)
	// Token contracts revert in this test: metadata degrades to defaults.
	require.Nil(t, pool.Token0Symbol)
	require.NotNil(t, pool.Token0Decimals)
	require.Equal(t, uint8(18), *pool.Token0Decimals)

	swaps := fs.swaps()
	require.Len(t, swaps, 1)
	require.Equal(t, model.Token0, swaps[0].TokenIn)
	require.Equal(t, model.Token1, swaps[0].TokenOut)
	require.Equal(t, "1000", swaps[0].AmountIn)
	require.Equal(t, "950", swaps[0].AmountOut)
	require.Equal(t, uint64(905), swaps[0].BlockNumber)
	require.Equal(t, uint64(9050), swaps[0].Timestamp)
	require.Equal(t, strings.ToLower(poolAddr.Hex()), swaps[0].PoolAddress)
}

func TestMalformedSwapSkipped(t *testing.T) {
	fc := newFakeChain(913)
	fs := newFakeStore()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})
	fs.seedPool(model.Pool{
		ChainID: 1, Address: strings.ToLower(poolAddr.Hex()),
		Token0: strings.ToLower(tokenA.Hex()), Token1: strings.ToLower(tokenB.Hex()),
		FeeTier: 3000, TickSpacing: 60, DexName: dex.DexName,
	})

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(1), big.NewInt(1), 0)
	adapter := newAdapter(t, caller)

	fc.addLog(swapEventLog(t, adapter, 903, 0, poolAddr, big.NewInt(500), big.NewInt(-400)))
	// Both deltas positive: the pool cannot receive on both sides.
	fc.addLog(swapEventLog(t, adapter, 904, 1, poolAddr, big.NewInt(7), big.NewInt(7)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	swaps := fs.swaps()
	require.Len(t, swaps, 1)
	require.Equal(t, "500", swaps[0].AmountIn)
}

func TestTransientRPCFailureRetries(t *testing.T) {
	fc := newFakeChain(913)
	fc.failFilters = 3
	fs := newFakeStore()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})
	fs.seedPool(model.Pool{
		ChainID: 1, Address: strings.ToLower(poolAddr.Hex()),
		Token0: strings.ToLower(tokenA.Hex()), Token1: strings.ToLower(tokenB.Hex()),
		DexName: dex.DexName,
	})

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(1), big.NewInt(1), 0)
	adapter := newAdapter(t, caller)

	fc.addLog(swapEventLog(t, adapter, 905, 0, poolAddr, big.NewInt(10), big.NewInt(-9)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	require.Equal(t, 1, fs.swapCount())
	require.Greater(t, fc.calls(), 3)
}

func TestCommitFailureReplaysIdentically(t *testing.T) {
	fc := newFakeChain(913)
	fs := newFakeStore()
	fs.failCommits = 1
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(5000), big.NewInt(1), 0)
	adapter := newAdapter(t, caller)

	fc.addLog(poolCreatedLog(t, adapter, 902, 0, tokenA, tokenB, 3000, 60, poolAddr))
	fc.addLog(swapEventLog(t, adapter, 905, 1, poolAddr, big.NewInt(1000), big.NewInt(-950)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	// The first commit was discarded wholesale; the replay produced the
	// same rows exactly once.
	require.Equal(t, 1, fs.poolCount())
	require.Equal(t, 1, fs.swapCount())
}

func TestReorgRewindsAndReingests(t *testing.T) {
	fc := newFakeChain(1013)
	fs := newFakeStore()

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(7777), big.NewInt(42), -5)
	adapter := newAdapter(t, caller)

	pool := model.Pool{
		ChainID: 1, Address: strings.ToLower(poolAddr.Hex()),
		Token0: strings.ToLower(tokenA.Hex()), Token1: strings.ToLower(tokenB.Hex()),
		FeeTier: 3000, TickSpacing: 60, Liquidity: "1", SqrtPriceX96: "1",
		DexName: dex.DexName,
	}
	fs.seedPool(pool)

	// A swap committed before the reorg; re-ingesting it must be a no-op.
	existing := swapEventLog(t, adapter, 992, 0, poolAddr, big.NewInt(10), big.NewInt(-9))
	fc.addLog(existing)
	fs.seedSwap(model.Swap{
		ChainID: 1, TxHash: existing.TxHash.Hex(), LogIndex: uint64(existing.Index),
		PoolAddress: strings.ToLower(poolAddr.Hex()),
		TokenIn:     model.Token0, TokenOut: model.Token1,
		AmountIn: "10", AmountOut: "9", BlockNumber: 992, Timestamp: 9920,
	})

	// Cursor points at a block whose hash is no longer canonical.
	staleHash := makeHeader(999, "pre-reorg").Hash().Hex()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 999, BlockHash: staleHash})

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 1010
	})

	// No duplicate swap row after the rewind replay.
	require.Equal(t, 1, fs.swapCount())

	// Pool state reflects the post-reorg chain.
	got, ok := fs.pool(poolAddr)
	require.True(t, ok)
	require.Equal(t, "7777", got.Liquidity)
	require.Equal(t, int32(-5), got.Tick)

	// Immutable fields survived the upserts.
	require.Equal(t, uint32(3000), got.FeeTier)
	require.Equal(t, strings.ToLower(tokenA.Hex()), got.Token0)
}

func TestRangeTooLargeBisects(t *testing.T) {
	fc := newFakeChain(913)
	fc.maxRange = 4
	fs := newFakeStore()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(5000), big.NewInt(1), 0)
	adapter := newAdapter(t, caller)

	fc.addLog(poolCreatedLog(t, adapter, 901, 0, tokenA, tokenB, 500, 10, poolAddr))
	fc.addLog(swapEventLog(t, adapter, 902, 1, poolAddr, big.NewInt(3), big.NewInt(-2)))
	fc.addLog(swapEventLog(t, adapter, 909, 2, poolAddr, big.NewInt(-4), big.NewInt(5)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	require.Equal(t, 1, fs.poolCount())
	require.Equal(t, 2, fs.swapCount())
}

func TestSwapCommitOrderIsDeterministic(t *testing.T) {
	// Logs arrive per-pool; the batch must still commit swaps in global
	// (block_number, log_index) order.
	otherPool := common.HexToAddress("0x9002900290029002900290029002900290029002")

	fc := newFakeChain(913)
	fs := newFakeStore()
	fs.seedCursor(1, dex.DexName, storage.Cursor{Block: 899})
	for _, addr := range []common.Address{poolAddr, otherPool} {
		fs.seedPool(model.Pool{
			ChainID: 1, Address: strings.ToLower(addr.Hex()),
			Token0: strings.ToLower(tokenA.Hex()), Token1: strings.ToLower(tokenB.Hex()),
			DexName: dex.DexName,
		})
	}

	caller := &stubCaller{}
	caller.setPoolState(t, poolAddr, big.NewInt(1), big.NewInt(1), 0)
	caller.setPoolState(t, otherPool, big.NewInt(1), big.NewInt(1), 0)
	adapter := newAdapter(t, caller)

	fc.addLog(swapEventLog(t, adapter, 905, 7, poolAddr, big.NewInt(1), big.NewInt(-1)))
	fc.addLog(swapEventLog(t, adapter, 903, 2, otherPool, big.NewInt(2), big.NewInt(-2)))
	fc.addLog(swapEventLog(t, adapter, 903, 1, poolAddr, big.NewInt(3), big.NewInt(-3)))

	startPipeline(t, testConfig(), fc, fs, adapter)

	waitFor(t, func() bool {
		c, ok := fs.cursorOf(1, dex.DexName)
		return ok && c.Block >= 910
	})

	swaps := fs.swaps()
	require.Len(t, swaps, 3)
	for i := 1; i < len(swaps); i++ {
		prev, cur := swaps[i-1], swaps[i]
		if prev.BlockNumber == cur.BlockNumber {
			require.Less(t, prev.LogIndex, cur.LogIndex)
		} else {
			require.Less(t, prev.BlockNumber, cur.BlockNumber)
		}
	}
}
