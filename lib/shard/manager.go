// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/keylock"
	"github.com/bureau-foundation/stamp/lib/replica"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
)

// ErrShardNotFound reports an unknown shard id.
var ErrShardNotFound = errors.New("shard not found")

// ErrNotSealed reports an export of a shard that is not SEALED.
var ErrNotSealed = errors.New("shard is not sealed")

// Config holds the parameters for a Manager.
type Config struct {
	// Pool is the stamp database. Borrowed: Close does not close it.
	Pool *sqlitepool.Pool

	Clock  clock.Clock
	Logger *slog.Logger

	// MaxBytes is the capacity of one shard in encoded record bytes.
	MaxBytes int64

	// TimeBucket is the bucket width. It must be at least a minute
	// and divide 24 hours.
	TimeBucket time.Duration

	// Replicas receive a copy of every append. Borrowed: Close does
	// not close them.
	Replicas []replica.Sink

	// Factor is the replication factor: the primary plus Factor-1
	// copies. A majority of those copies must acknowledge each append;
	// replicas beyond Factor-1 are written but never waited on. Zero
	// means one plus the number of Replicas.
	Factor int

	// ExportDir is where Export writes bundle files.
	ExportDir string
}

// Manager owns shard state. All shard state transitions go through it.
type Manager struct {
	pool       *sqlitepool.Pool
	clock      clock.Clock
	logger     *slog.Logger
	maxBytes   int64
	timeBucket time.Duration
	replicas   []replica.Sink
	factor     int
	exportDir  string

	buckets keylock.Map

	partitionMu     sync.Mutex
	knownPartitions map[string]bool // day suffix → exists

	// finalizeHook, when set, runs before a shard is marked SEALED.
	// A non-nil error aborts the finalize.
	finalizeHook func(shardID string) error
}

// NewManager creates the shard tables if needed and discovers
// existing artifact partitions.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("shard: Pool is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("shard: Clock is required")
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("shard: MaxBytes must be positive, got %d", cfg.MaxBytes)
	}
	if err := validateTimeBucket(cfg.TimeBucket); err != nil {
		return nil, err
	}
	factor := cfg.Factor
	if factor == 0 {
		factor = len(cfg.Replicas) + 1
	}
	if factor < 1 {
		return nil, fmt.Errorf("shard: Factor must be at least 1, got %d", cfg.Factor)
	}
	if len(cfg.Replicas) < factor-1 {
		return nil, fmt.Errorf("shard: replication factor %d needs %d replicas, got %d",
			factor, factor-1, len(cfg.Replicas))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	manager := &Manager{
		pool:            cfg.Pool,
		clock:           cfg.Clock,
		logger:          logger,
		maxBytes:        cfg.MaxBytes,
		timeBucket:      cfg.TimeBucket,
		replicas:        cfg.Replicas,
		factor:          factor,
		exportDir:       cfg.ExportDir,
		knownPartitions: make(map[string]bool),
	}
	if err := manager.initialize(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// MaxBytes returns the shard capacity.
func (m *Manager) MaxBytes() int64 { return m.maxBytes }

// Quorum returns the number of replica acknowledgements an append
// needs: a majority of the Factor-1 copies.
func (m *Manager) Quorum() int {
	copies := m.factor - 1
	if copies == 0 {
		return 0
	}
	return copies/2 + 1
}

// Replicas returns the names of the replica destinations.
func (m *Manager) Replicas() []string {
	names := make([]string, len(m.replicas))
	for i, sink := range m.replicas {
		names[i] = sink.Name()
	}
	return names
}

// Close is a no-op. The pool and replicas are borrowed and closed by
// their owner.
func (m *Manager) Close() error { return nil }

// storageError classifies a primary-store failure.
func storageError(ctx context.Context, operation string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("shard: %s: %w: %w", operation, issuance.ErrTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("shard: %s: %w", operation, ctx.Err())
	default:
		return fmt.Errorf("shard: %s: %w: %w", operation, issuance.ErrStorageUnavailable, err)
	}
}
