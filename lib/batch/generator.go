// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// Defaults for zero Config fields.
const (
	DefaultSubBatchSize = 1000
	DefaultCallTimeout  = 5 * time.Second
)

// Store is the durable destination for built artifacts. shard.Manager
// implements it.
type Store interface {
	Append(ctx context.Context, bucketTime time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error)
}

// Config holds the collaborators and limits of a Generator.
type Config struct {
	// Authority prefixes every identifier.
	Authority string

	Allocator ident.Allocator
	Builder   *build.Builder
	Store     Store
	Clock     clock.Clock
	Logger    *slog.Logger

	// SubBatchSize is the number of requests per sub-batch.
	SubBatchSize int

	// ConcurrencyLimit bounds the number of sub-batches in flight.
	// Defaults to GOMAXPROCS.
	ConcurrencyLimit int

	// CallTimeout bounds each allocate and append call.
	CallTimeout time.Duration
}

// Options override Config for one Generate call.
type Options struct {
	// BatchID names the batch. A fresh random id is used when empty.
	// Reusing the id of an interrupted batch makes default tokens,
	// and so identifiers, stable across the retry.
	BatchID string

	SubBatchSize     int
	ConcurrencyLimit int
}

// Generator runs issuance batches. Safe for concurrent use.
type Generator struct {
	authority        string
	allocator        ident.Allocator
	builder          *build.Builder
	store            Store
	clock            clock.Clock
	logger           *slog.Logger
	subBatchSize     int
	concurrencyLimit int
	callTimeout      time.Duration
}

// NewGenerator validates cfg and fills defaults.
func NewGenerator(cfg Config) (*Generator, error) {
	if !ident.ValidAuthority(cfg.Authority) {
		return nil, fmt.Errorf("batch: invalid authority %q", cfg.Authority)
	}
	if cfg.Allocator == nil || cfg.Builder == nil || cfg.Store == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("batch: Allocator, Builder, Store, and Clock are required")
	}
	generator := &Generator{
		authority:        cfg.Authority,
		allocator:        cfg.Allocator,
		builder:          cfg.Builder,
		store:            cfg.Store,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		subBatchSize:     cfg.SubBatchSize,
		concurrencyLimit: cfg.ConcurrencyLimit,
		callTimeout:      cfg.CallTimeout,
	}
	if generator.logger == nil {
		generator.logger = slog.New(slog.DiscardHandler)
	}
	if generator.subBatchSize <= 0 {
		generator.subBatchSize = DefaultSubBatchSize
	}
	if generator.concurrencyLimit <= 0 {
		generator.concurrencyLimit = runtime.GOMAXPROCS(0)
	}
	if generator.callTimeout <= 0 {
		generator.callTimeout = DefaultCallTimeout
	}
	return generator, nil
}

// subBatch is a contiguous run of request positions.
type subBatch struct {
	index int
	start int
	end   int
}

// collector accumulates outcomes from concurrent workers.
type collector struct {
	mu        sync.Mutex
	succeeded []issuance.Issued
	failed    []issuance.Failure
}

func (c *collector) succeed(issued ...issuance.Issued) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succeeded = append(c.succeeded, issued...)
}

func (c *collector) fail(failures ...issuance.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, failures...)
}

// Generate issues an artifact for every request. See the package
// documentation for dispatch, cancellation, and failure semantics.
func (g *Generator) Generate(ctx context.Context, requests []issuance.Request, options Options) (*issuance.Batch, error) {
	batchID := options.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	subBatchSize := g.subBatchSize
	if options.SubBatchSize > 0 {
		subBatchSize = options.SubBatchSize
	}
	concurrencyLimit := g.concurrencyLimit
	if options.ConcurrencyLimit > 0 {
		concurrencyLimit = options.ConcurrencyLimit
	}

	batch := &issuance.Batch{
		BatchID:        batchID,
		RequestedCount: len(requests),
		StartedAt:      g.clock.Now().UTC(),
	}
	logger := g.logger.With("batch_id", batchID)
	logger.Info("batch started",
		"requests", len(requests),
		"sub_batch_size", subBatchSize,
		"concurrency_limit", concurrencyLimit,
	)

	var subBatches []subBatch
	for start := 0; start < len(requests); start += subBatchSize {
		subBatches = append(subBatches, subBatch{
			index: len(subBatches),
			start: start,
			end:   min(start+subBatchSize, len(requests)),
		})
	}

	// In-flight work must finish after cancellation, so workers run on
	// a context that keeps ctx's values but not its cancellation.
	detached := context.WithoutCancel(ctx)

	var (
		results   collector
		waitGroup sync.WaitGroup
		abortMu   sync.Mutex
		abortErr  error
	)
	aborted := func() error {
		abortMu.Lock()
		defer abortMu.Unlock()
		return abortErr
	}
	abort := func(err error) {
		abortMu.Lock()
		defer abortMu.Unlock()
		if abortErr == nil {
			abortErr = err
		}
	}

	slots := make(chan struct{}, concurrencyLimit)
	skipFrom := len(subBatches)
	var skipErr error

dispatch:
	for _, sub := range subBatches {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			skipFrom, skipErr = sub.index, fmt.Errorf("batch: %w before dispatch: %w", issuance.ErrCancelled, ctx.Err())
			break dispatch
		}
		if err := ctx.Err(); err != nil {
			<-slots
			skipFrom, skipErr = sub.index, fmt.Errorf("batch: %w before dispatch: %w", issuance.ErrCancelled, err)
			break dispatch
		}
		if err := aborted(); err != nil {
			<-slots
			skipFrom, skipErr = sub.index, fmt.Errorf("batch: not dispatched after storage failure: %w", err)
			break dispatch
		}

		batch.SubBatches++
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			defer func() { <-slots }()
			if err := g.process(detached, logger, batchID, requests, sub, &results); err != nil {
				abort(err)
			}
		}()
	}

	for _, sub := range subBatches[skipFrom:] {
		for position := sub.start; position < sub.end; position++ {
			results.fail(issuance.NewFailure(position, requests[position], skipErr))
		}
	}
	waitGroup.Wait()

	sort.Slice(results.succeeded, func(i, j int) bool {
		return results.succeeded[i].Position < results.succeeded[j].Position
	})
	sort.Slice(results.failed, func(i, j int) bool {
		return results.failed[i].Position < results.failed[j].Position
	})
	batch.Succeeded = results.succeeded
	batch.Failed = results.failed
	batch.CompletedAt = g.clock.Now().UTC()

	duration := batch.CompletedAt.Sub(batch.StartedAt)
	rate := 0.0
	if duration > 0 {
		rate = float64(len(batch.Succeeded)) / duration.Seconds()
	}
	logger.Info("batch finished",
		"requests", batch.RequestedCount,
		"succeeded", len(batch.Succeeded),
		"failed", len(batch.Failed),
		"sub_batches", batch.SubBatches,
		"duration", duration,
		"artifacts_per_second", rate,
	)
	if !batch.Complete() {
		return batch, fmt.Errorf("batch: %d requests, %d outcomes", batch.RequestedCount, len(batch.Succeeded)+len(batch.Failed))
	}
	return batch, nil
}

// process runs one sub-batch and records an outcome for each of its
// requests. It returns an error only when the store is unavailable,
// which stops further dispatch.
func (g *Generator) process(ctx context.Context, logger *slog.Logger, batchID string, requests []issuance.Request, sub subBatch, results *collector) error {
	issuedAt := g.clock.Now().UTC().Truncate(time.Second)
	day := ident.DayKey(issuedAt)

	var (
		positions []int
		tokens    []string
	)
	for position := sub.start; position < sub.end; position++ {
		request := requests[position]
		if err := request.Validate(issuedAt); err != nil {
			results.fail(issuance.NewFailure(position, request, err))
			continue
		}
		token := request.Token
		if token == "" {
			token = fmt.Sprintf("%s/%d", batchID, position)
		}
		positions = append(positions, position)
		tokens = append(tokens, token)
	}
	if len(positions) == 0 {
		return nil
	}

	failAll := func(positions []int, err error) {
		for _, position := range positions {
			results.fail(issuance.NewFailure(position, requests[position], err))
		}
	}

	allocateCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	sequences, err := g.allocator.AllocateBatch(allocateCtx, day, tokens)
	cancel()
	if err != nil && !errors.Is(err, issuance.ErrAllocationExhausted) {
		logger.Warn("allocation failed", "sub_batch", sub.index, "day", day, "error", err)
		failAll(positions, err)
		if errors.Is(err, issuance.ErrStorageUnavailable) {
			return err
		}
		return nil
	}
	if len(sequences) != len(positions) {
		failAll(positions, fmt.Errorf("batch: allocator returned %d sequences for %d tokens: %w", len(sequences), len(positions), err))
		return nil
	}

	var (
		artifacts      []issuance.Artifact
		builtPositions []int
	)
	for i, position := range positions {
		if sequences[i] == 0 {
			results.fail(issuance.NewFailure(position, requests[position], err))
			continue
		}
		artifact, buildErr := g.builder.BuildAt(
			requests[position],
			ident.FormatID(g.authority, day, sequences[i]),
			build.Provenance{BatchID: batchID, SequenceInBatch: position},
			issuedAt,
		)
		if buildErr != nil {
			results.fail(issuance.NewFailure(position, requests[position], buildErr))
			continue
		}
		artifacts = append(artifacts, artifact)
		builtPositions = append(builtPositions, position)
	}
	if len(artifacts) == 0 {
		return nil
	}

	appendCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	stored, err := g.store.Append(appendCtx, issuedAt, artifacts...)
	cancel()
	if err != nil {
		logger.Warn("append failed", "sub_batch", sub.index, "artifacts", len(artifacts), "error", err)
		failAll(builtPositions, err)
		if errors.Is(err, issuance.ErrStorageUnavailable) {
			return err
		}
		return nil
	}

	issued := make([]issuance.Issued, len(stored))
	for i, result := range stored {
		issued[i] = issuance.Issued{
			Position:  builtPositions[i],
			Artifact:  result.Artifact,
			Placement: result.Placement,
		}
	}
	results.succeed(issued...)
	return nil
}
