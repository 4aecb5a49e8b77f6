package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"swapscope/internal/chain"
	"swapscope/internal/config"
	"swapscope/internal/dex"
	"swapscope/internal/pipeline"
	"swapscope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Moonshot DEX event indexer",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := root.Flags()
	flags.String("rpc-url", "", "websocket or http RPC endpoint (env RPC_URL)")
	flags.String("database-url", "", "postgres connection string (env DATABASE_URL)")
	flags.Uint64("chain-id", 1, "chain id tagged on every row (env CHAIN_ID)")
	flags.String("factory-address", "", "factory contract emitting PoolCreated (env FACTORY_ADDRESS)")
	flags.Uint64("batch-size", 100, "max blocks per batch (env BATCH_SIZE)")
	flags.Uint64("poll-interval-ms", 1000, "head poll interval in ms (env POLL_INTERVAL_MS)")
	flags.Uint64("safety-lag", 3, "blocks held back from head (env SAFETY_LAG)")
	flags.Uint64("rewind-on-boot", 100, "cold start rewind from head (env REWIND_ON_BOOT)")
	flags.Uint64("reorg-rewind", 12, "rewind depth on reorg (env REORG_REWIND)")
	flags.String("log-level", "info", "trace, debug, info, warn or error (env LOG_LEVEL)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres failed", zap.Error(err))
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		logger.Error("init schema failed", zap.Error(err))
		return err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, logger)
	if err != nil {
		logger.Error("connect rpc failed", zap.Error(err))
		return err
	}
	defer chainClient.Close()

	if reported, err := chainClient.ChainID(ctx); err == nil {
		if reported.IsUint64() && reported.Uint64() != cfg.ChainID {
			logger.Warn("provider chain id differs from CHAIN_ID",
				zap.Uint64("configured", cfg.ChainID),
				zap.String("reported", reported.String()))
		}
	} else {
		logger.Warn("chain id check failed", zap.Error(err))
	}

	moonshot, err := dex.NewMoonshot(common.HexToAddress(cfg.FactoryAddress), chainClient, logger)
	if err != nil {
		logger.Error("build adapter failed", zap.Error(err))
		return err
	}
	adapters := []dex.Adapter{moonshot}

	pipelineCfg := pipeline.Config{
		ChainID:      cfg.ChainID,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		SafetyLag:    cfg.SafetyLag,
		RewindOnBoot: cfg.RewindOnBoot,
		ReorgRewind:  cfg.ReorgRewind,
	}

	logger.Info("indexer start",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("factory", cfg.FactoryAddress),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Uint64("safety_lag", cfg.SafetyLag),
		zap.Int("adapters", len(adapters)))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, adapter := range adapters {
		p, err := pipeline.New(pipelineCfg, chainClient, store, adapter, logger)
		if err != nil {
			logger.Error("build pipeline failed", zap.String("dex", adapter.Name()), zap.Error(err))
			return err
		}
		group.Go(func() error {
			return p.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("pipeline failed", zap.Error(err))
		return err
	}

	logger.Info("indexer shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	// zap has no trace level; treat it as debug.
	if level == "trace" {
		level = "debug"
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
