// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Stamp-service is the issuance and verification daemon. It loads the
// stamp configuration, opens the SQLite store, the identifier
// allocator, the replica sinks, and the shard manager, derives the
// sealing key, and serves the CBOR socket API until SIGINT or SIGTERM.
//
// A seal sweep runs every shards.seal_sweep_interval: shards of elapsed
// time buckets are sealed and failed finalizations are retried.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/lib/batch"
	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/compress"
	"github.com/bureau-foundation/stamp/lib/config"
	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/process"
	"github.com/bureau-foundation/stamp/lib/replica"
	"github.com/bureau-foundation/stamp/lib/seal"
	"github.com/bureau-foundation/stamp/lib/secret"
	"github.com/bureau-foundation/stamp/lib/service"
	"github.com/bureau-foundation/stamp/lib/shard"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
	"github.com/bureau-foundation/stamp/lib/verify"
	"github.com/bureau-foundation/stamp/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("stamp-service", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", os.Getenv("STAMP_CONFIG"), "path to stamp.yaml (default $STAMP_CONFIG)")
	flags.BoolVar(&debug, "debug", false, "log at debug level")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("stamp-service %s\n", version.Info())
		return nil
	}

	if configPath == "" {
		return fmt.Errorf("--config is required (or set STAMP_CONFIG)")
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s:\n%w", configPath, err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stamp, cleanup, err := open(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer cleanup()

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger)
	stamp.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		stamp.runSweeps(ctx, cfg.Shards.SealSweepInterval)
	}()

	logger.Info("stamp service running",
		"authority", cfg.Authority,
		"environment", string(cfg.Environment),
		"socket", cfg.Paths.Socket,
		"allocator", cfg.Issuance.Allocator,
		"replicas", stamp.shards.Replicas(),
		"version", version.Info(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	<-sweepDone

	return nil
}

// open builds the service from cfg. The returned cleanup closes
// everything open opened, in reverse order.
func open(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*StampService, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*StampService, func(), error) {
		cleanup()
		return nil, nil, err
	}

	masterKey, err := secret.ReadKeyFile(cfg.Paths.SealingKey)
	if err != nil {
		return fail(fmt.Errorf("loading sealing key (run 'stamp keygen' to create one): %w", err))
	}
	sealer, err := seal.NewSealer(masterKey)
	masterKey.Close()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { sealer.Close() })

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return fail(fmt.Errorf("opening database: %w", err))
	}
	closers = append(closers, func() { pool.Close() })

	var allocator ident.Allocator
	switch cfg.Issuance.Allocator {
	case config.AllocatorRedis:
		allocator, err = ident.NewRedisAllocator(ctx, cfg.Issuance.RedisAddr, logger)
	default:
		allocator, err = ident.NewSQLiteAllocator(ctx, pool, logger)
	}
	if err != nil {
		return fail(fmt.Errorf("opening %s allocator: %w", cfg.Issuance.Allocator, err))
	}
	closers = append(closers, func() { allocator.Close() })

	sinks, err := replica.Open(ctx, cfg.Replication, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if err := replica.CloseAll(sinks); err != nil {
			logger.Error("closing replicas", "error", err)
		}
	})

	shards, err := shard.NewManager(ctx, shard.Config{
		Pool:       pool,
		Clock:      clk,
		Logger:     logger,
		MaxBytes:   cfg.Shards.MaxBytes,
		TimeBucket: cfg.Shards.TimeBucket,
		Replicas:   sinks,
		Factor:     cfg.Replication.Factor,
		ExportDir:  cfg.Paths.Exports,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { shards.Close() })

	generator, err := batch.NewGenerator(batch.Config{
		Authority:        cfg.Authority,
		Allocator:        allocator,
		Builder:          build.NewBuilder(sealer, clk),
		Store:            shards,
		Clock:            clk,
		Logger:           logger,
		SubBatchSize:     cfg.Issuance.SubBatchSize,
		ConcurrencyLimit: cfg.Issuance.ConcurrencyLimit,
		CallTimeout:      cfg.Issuance.CallTimeout,
	})
	if err != nil {
		return fail(err)
	}

	compression, err := compress.ParseTag(cfg.Export.Compression)
	if err != nil {
		return fail(err)
	}

	stamp := &StampService{
		authority: cfg.Authority,
		generator: generator,
		shards:    shards,
		verifier:  verify.NewService(cfg.Authority, shards, sealer, clk, logger),
		export: shard.ExportOptions{
			Compression: compression,
			Recipients:  cfg.Export.Recipients,
		},
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}
	return stamp, cleanup, nil
}
