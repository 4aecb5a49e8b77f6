// Package pipeline drives ingestion for one DEX: discover pools, fetch
// swaps, refresh pool state, commit, advance the cursor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swapscope/internal/chain"
	"swapscope/internal/dex"
	"swapscope/internal/model"
	"swapscope/internal/registry"
	"swapscope/internal/storage"
)

// ChainClient is the subset of chain.Client the pipeline needs.
type ChainClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Config holds runtime settings for one pipeline.
type Config struct {
	ChainID        uint64
	BatchSize      uint64
	PollInterval   time.Duration
	SafetyLag      uint64
	RewindOnBoot   uint64
	ReorgRewind    uint64
	FetchInFlight  int
	FailureBackoff time.Duration
}

const (
	defaultFetchInFlight  = 8
	defaultFailureBackoff = 5 * time.Second
)

// Pipeline ingests one DEX's events into the store. It is the only writer
// for its (chain_id, dex_name) cursor and owns its registry.
type Pipeline struct {
	cfg      Config
	chain    ChainClient
	store    storage.Store
	adapter  dex.Adapter
	registry *registry.Registry
	logger   *zap.Logger
	workers  pond.Pool

	cursor     uint64
	cursorHash string

	headSignal chan struct{}
}

// New builds a pipeline for one adapter.
func New(cfg Config, chainClient ChainClient, store storage.Store, adapter dex.Adapter, logger *zap.Logger) (*Pipeline, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if adapter == nil {
		return nil, fmt.Errorf("adapter is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than zero")
	}
	if cfg.FetchInFlight <= 0 {
		cfg.FetchInFlight = defaultFetchInFlight
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = defaultFailureBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:        cfg,
		chain:      chainClient,
		store:      store,
		adapter:    adapter,
		registry:   registry.New(),
		logger:     logger.With(zap.String("dex", adapter.Name())),
		workers:    pond.NewPool(cfg.FetchInFlight),
		headSignal: make(chan struct{}, 1),
	}, nil
}

// Cursor returns the last committed block.
func (p *Pipeline) Cursor() uint64 {
	return p.cursor
}

// Run resolves the cursor, loads the registry and executes the batch loop
// until the context is cancelled. Batch failures roll back and retry; only
// startup failures are returned as errors.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.bootstrap(ctx); err != nil {
		return err
	}

	go p.watchHeads(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := p.checkReorg(ctx); err != nil {
			p.logger.Warn("reorg probe failed", zap.Error(err))
			if err := p.sleep(ctx, p.cfg.FailureBackoff); err != nil {
				return nil
			}
			continue
		}

		head, err := p.chain.LatestBlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("head fetch failed", zap.Error(err))
			if err := p.sleep(ctx, p.cfg.FailureBackoff); err != nil {
				return nil
			}
			continue
		}

		var target uint64
		if head > p.cfg.SafetyLag {
			target = head - p.cfg.SafetyLag
		}
		if target <= p.cursor {
			if err := p.waitNext(ctx); err != nil {
				return nil
			}
			continue
		}

		from := p.cursor + 1
		to := target
		if max := from + p.cfg.BatchSize - 1; to > max {
			to = max
		}

		committedHash, err := p.processBatch(ctx, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("batch failed, will retry",
				zap.Uint64("from", from),
				zap.Uint64("to", to),
				zap.Error(err))
			if err := p.sleep(ctx, p.cfg.FailureBackoff); err != nil {
				return nil
			}
			continue
		}

		p.cursor = to
		p.cursorHash = committedHash
	}
}

func (p *Pipeline) bootstrap(ctx context.Context) error {
	pools, err := p.store.LoadPools(ctx, p.cfg.ChainID, p.adapter.Name())
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	p.registry.Load(pools)

	cursor, ok, err := p.store.GetCursor(ctx, p.cfg.ChainID, p.adapter.Name())
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}
	if ok {
		p.cursor = cursor.Block
		p.cursorHash = cursor.BlockHash
		p.logger.Info("resume from cursor",
			zap.Uint64("cursor", p.cursor),
			zap.Int("pools", p.registry.Len()))
		return nil
	}

	head, err := p.chain.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	if head > p.cfg.RewindOnBoot {
		p.cursor = head - p.cfg.RewindOnBoot
	}
	p.logger.Info("no persisted cursor, starting behind head",
		zap.Uint64("head", head),
		zap.Uint64("cursor", p.cursor),
		zap.Int("pools", p.registry.Len()))
	return nil
}

// checkReorg compares the stored hash at the cursor height against the
// chain; on mismatch the cursor rewinds and the range is re-ingested.
// Idempotent writes make the replay safe.
func (p *Pipeline) checkReorg(ctx context.Context) error {
	if p.cursorHash == "" {
		return nil
	}
	header, err := p.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(p.cursor))
	if err != nil {
		return fmt.Errorf("probe block %d: %w", p.cursor, err)
	}
	if strings.EqualFold(header.Hash().Hex(), p.cursorHash) {
		return nil
	}

	rewound := uint64(0)
	if p.cursor > p.cfg.ReorgRewind {
		rewound = p.cursor - p.cfg.ReorgRewind
	}
	p.logger.Warn("reorg detected, rewinding",
		zap.Uint64("cursor", p.cursor),
		zap.String("expected_hash", p.cursorHash),
		zap.String("canonical_hash", header.Hash().Hex()),
		zap.Uint64("rewound_to", rewound))
	p.cursor = rewound
	p.cursorHash = ""
	return nil
}

// processBatch runs discovery, swap ingestion and state refresh for one
// block range and commits everything in a single transaction. It returns
// the canonical hash of the batch's last block.
func (p *Pipeline) processBatch(ctx context.Context, from, to uint64) (string, error) {
	p.logger.Info("process batch", zap.Uint64("from", from), zap.Uint64("to", to))

	toHeader, err := p.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(to))
	if err != nil {
		return "", fmt.Errorf("fetch batch head %d: %w", to, err)
	}

	discovered, err := p.discoverPools(ctx, from, to)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	swapLogs, err := p.fetchSwapLogs(ctx, from, to, discovered)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	swaps, touched, err := p.buildSwaps(ctx, swapLogs)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	refreshed, err := p.refreshPools(ctx, discovered, touched)
	if err != nil {
		return "", err
	}

	err = p.store.Transact(ctx, func(tx storage.Tx) error {
		for _, pool := range discovered {
			if err := tx.UpsertPool(ctx, pool); err != nil {
				return err
			}
		}
		for _, swap := range swaps {
			if _, err := tx.InsertSwap(ctx, swap); err != nil {
				return err
			}
		}
		for _, pool := range refreshed {
			if err := tx.UpsertPool(ctx, pool); err != nil {
				return err
			}
		}
		return tx.SetCursor(ctx, p.cfg.ChainID, p.adapter.Name(), storage.Cursor{
			Block:     to,
			BlockHash: toHeader.Hash().Hex(),
		})
	})
	if err != nil {
		return "", fmt.Errorf("commit batch [%d,%d]: %w", from, to, err)
	}

	for _, pool := range discovered {
		p.registry.Add(pool)
	}
	for _, pool := range refreshed {
		p.registry.Add(pool)
	}

	p.logger.Info("batch committed",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("pools_discovered", len(discovered)),
		zap.Int("swaps", len(swaps)),
		zap.Int("pools_refreshed", len(refreshed)))
	return toHeader.Hash().Hex(), nil
}

// discoverPools decodes PoolCreated logs from the factory and enriches the
// new pools with token metadata and an initial state snapshot. Freshly
// discovered pools are swept for swaps in the same batch.
func (p *Pipeline) discoverPools(ctx context.Context, from, to uint64) ([]model.Pool, error) {
	logs, err := p.fetchLogs(ctx, from, to, []common.Address{p.adapter.FactoryAddress()}, p.adapter.PoolCreatedTopic())
	if err != nil {
		return nil, fmt.Errorf("fetch PoolCreated logs: %w", err)
	}

	pools := make([]model.Pool, 0, len(logs))
	for _, log := range logs {
		created, err := p.adapter.DecodePoolCreated(log)
		if err != nil {
			// A factory log we cannot decode means the batch cannot be
			// trusted; abort instead of silently dropping a pool.
			return nil, fmt.Errorf("decode PoolCreated %s#%d: %w", log.TxHash.Hex(), log.Index, err)
		}

		pool := poolFromCreated(p.cfg.ChainID, p.adapter.Name(), created)
		if err := p.adapter.EnrichTokens(ctx, &pool); err != nil {
			return nil, err
		}

		state, err := p.adapter.RefreshPoolState(ctx, common.HexToAddress(pool.Address))
		if err != nil {
			// A brand-new pool may not answer state reads yet; keep the
			// zero snapshot and let the next swap refresh it.
			p.logger.Warn("initial state read failed",
				zap.String("pool", pool.Address),
				zap.Error(err))
		} else {
			pool.ApplyState(state)
		}

		p.logger.Info("pool discovered",
			zap.String("pool", pool.Address),
			zap.String("token0", pool.Token0),
			zap.String("token1", pool.Token1),
			zap.Uint32("fee_tier", pool.FeeTier),
			zap.Uint64("block", log.BlockNumber))
		pools = append(pools, pool)
	}
	return pools, nil
}

// fetchSwapLogs queries Swap logs per known pool with bounded concurrency
// and merges the results into (block_number, log_index) order.
func (p *Pipeline) fetchSwapLogs(ctx context.Context, from, to uint64, discovered []model.Pool) ([]types.Log, error) {
	addresses := p.registry.Addresses()
	for _, pool := range discovered {
		if !p.registry.Has(common.HexToAddress(pool.Address)) {
			addresses = append(addresses, common.HexToAddress(pool.Address))
		}
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	results := make([][]types.Log, len(addresses))
	group := p.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, address := range addresses {
		i, address := i, address
		group.SubmitErr(func() error {
			logs, err := p.fetchLogs(groupCtx, from, to, []common.Address{address}, p.adapter.SwapTopic())
			if err != nil {
				return fmt.Errorf("fetch Swap logs for %s: %w", address.Hex(), err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []types.Log
	for _, logs := range results {
		merged = append(merged, logs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].Index < merged[j].Index
	})
	return merged, nil
}

// buildSwaps decodes swap logs into rows. Malformed logs are logged and
// skipped; they never abort the batch. Returns the rows in commit order and
// the set of pools that swapped.
func (p *Pipeline) buildSwaps(ctx context.Context, logs []types.Log) ([]model.Swap, map[common.Address]struct{}, error) {
	swaps := make([]model.Swap, 0, len(logs))
	touched := make(map[common.Address]struct{})
	for _, log := range logs {
		event, err := p.adapter.DecodeSwap(log)
		if err != nil {
			if errors.Is(err, dex.ErrMalformedLog) {
				p.logMalformed(log, err)
				continue
			}
			return nil, nil, fmt.Errorf("decode Swap %s#%d: %w", log.TxHash.Hex(), log.Index, err)
		}

		timestamp, err := p.chain.BlockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return nil, nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}

		swap, err := swapFromEvent(p.cfg.ChainID, log, event, timestamp)
		if err != nil {
			if errors.Is(err, dex.ErrMalformedLog) {
				p.logMalformed(log, err)
				continue
			}
			return nil, nil, err
		}

		swaps = append(swaps, swap)
		touched[log.Address] = struct{}{}
	}
	return swaps, touched, nil
}

// refreshPools issues one state read per pool that swapped this batch.
// Pools discovered in the same batch already carry a fresh snapshot and are
// only re-read when they also swapped.
func (p *Pipeline) refreshPools(ctx context.Context, discovered []model.Pool, touched map[common.Address]struct{}) ([]model.Pool, error) {
	addresses := make([]common.Address, 0, len(touched))
	for address := range touched {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Hex() < addresses[j].Hex()
	})

	fresh := make(map[common.Address]model.Pool, len(discovered))
	for _, pool := range discovered {
		fresh[common.HexToAddress(pool.Address)] = pool
	}

	refreshed := make([]model.Pool, 0, len(addresses))
	for _, address := range addresses {
		pool, ok := p.registry.Get(address)
		if !ok {
			pool, ok = fresh[address]
		}
		if !ok {
			// Filters are registry-driven, so this would be a bug.
			return nil, fmt.Errorf("swap from unknown pool %s", address.Hex())
		}

		state, err := p.adapter.RefreshPoolState(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("refresh pool %s: %w", address.Hex(), err)
		}
		pool.ApplyState(state)
		refreshed = append(refreshed, pool)
	}
	return refreshed, nil
}

// fetchLogs wraps FilterLogs with range bisection: when the provider
// rejects the span, split it in half and recurse. A singleton block that
// still fails surfaces the error.
func (p *Pipeline) fetchLogs(ctx context.Context, from, to uint64, addresses []common.Address, topic0 common.Hash) ([]types.Log, error) {
	logs, err := p.chain.FilterLogs(ctx, from, to, addresses, []common.Hash{topic0})
	if err == nil {
		return logs, nil
	}
	if !errors.Is(err, chain.ErrRangeTooLarge) || from >= to {
		return nil, err
	}

	mid := from + (to-from)/2
	p.logger.Debug("bisecting log range",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Uint64("mid", mid))

	left, err := p.fetchLogs(ctx, from, mid, addresses, topic0)
	if err != nil {
		return nil, err
	}
	right, err := p.fetchLogs(ctx, mid+1, to, addresses, topic0)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (p *Pipeline) logMalformed(log types.Log, err error) {
	p.logger.Warn("malformed log skipped",
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Uint("log_index", log.Index),
		zap.Uint64("block", log.BlockNumber),
		zap.String("address", log.Address.Hex()),
		zap.String("data", common.Bytes2Hex(log.Data)),
		zap.Error(err))
}

// watchHeads keeps a newHeads subscription alive to wake the loop early.
// On any subscription failure the loop still polls at the configured
// interval, so losing the stream only costs latency.
func (p *Pipeline) watchHeads(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ch := make(chan *types.Header, 1)
		sub, err := p.chain.SubscribeNewHeads(ctx, ch)
		if err != nil {
			p.logger.Debug("head subscription unavailable, polling only", zap.Error(err))
			return
		}

		alive := true
		for alive {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				p.logger.Warn("head subscription lost", zap.Error(err))
				sub.Unsubscribe()
				alive = false
			case <-ch:
				select {
				case p.headSignal <- struct{}{}:
				default:
				}
			}
		}

		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return
		}
	}
}

// waitNext idles until the next poll tick or an early head notification.
func (p *Pipeline) waitNext(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-p.headSignal:
		return nil
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
