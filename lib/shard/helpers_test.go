// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/replica"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
)

// bucketTime is inside bucket 2026101609.
var bucketTime = time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC)

const testBucket = "2026101609"

func openTestPool(t *testing.T) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "stamp.db"),
		PoolSize: 4,
	})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

type testManagerOptions struct {
	pool     *sqlitepool.Pool
	maxBytes int64
	replicas []replica.Sink
	factor   int
}

func newTestManager(t *testing.T, options testManagerOptions) (*Manager, *clock.FakeClock) {
	t.Helper()
	pool := options.pool
	if pool == nil {
		pool = openTestPool(t)
	}
	maxBytes := options.maxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 20
	}
	fake := clock.Fake(bucketTime)
	manager, err := NewManager(context.Background(), Config{
		Pool:       pool,
		Clock:      fake,
		MaxBytes:   maxBytes,
		TimeBucket: time.Hour,
		Replicas:   options.replicas,
		Factor:     options.factor,
		ExportDir:  filepath.Join(t.TempDir(), "exports"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager, fake
}

// testArtifact returns artifact n (1-based) issued at issuedAt. All
// test artifacts encode to the same length.
func testArtifact(n int, issuedAt time.Time) issuance.Artifact {
	var hash issuance.Hash
	for i := range hash {
		hash[i] = byte(n + i)
	}
	return issuance.Artifact{
		ID:              fmt.Sprintf("gov-%s-%08d", issuedAt.UTC().Format("20060102"), n),
		SubjectRef:      fmt.Sprintf("subject-%06d", n),
		Category:        issuance.CategoryProductCert,
		IssuedAt:        issuedAt.UTC().Truncate(time.Second),
		ExpiresAt:       issuedAt.UTC().Truncate(time.Second).Add(24 * time.Hour),
		BatchID:         "batch-0001",
		SequenceInBatch: 1000 + n,
		PayloadHash:     hash,
	}
}

func testArtifacts(first, count int) []issuance.Artifact {
	artifacts := make([]issuance.Artifact, count)
	for i := range artifacts {
		artifacts[i] = testArtifact(first+i, bucketTime)
	}
	return artifacts
}

func recordSize(t *testing.T) int64 {
	t.Helper()
	data, err := codec.Marshal(testArtifact(1, bucketTime))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return int64(len(data))
}

// memorySink is an in-memory replica destination.
type memorySink struct {
	name string

	mu      sync.Mutex
	fail    bool
	records map[string][]byte
}

func newMemorySink(name string) *memorySink {
	return &memorySink{name: name, records: make(map[string][]byte)}
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(ctx context.Context, shardID string, records []replica.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("replica %s: %w", s.name, errors.New("destination down"))
	}
	for _, record := range records {
		if _, ok := s.records[record.ID]; !ok {
			s.records[record.ID] = record.Data
		}
	}
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func mustShard(t *testing.T, manager *Manager, shardID string) issuance.Shard {
	t.Helper()
	shard, err := manager.Shard(context.Background(), shardID)
	if err != nil {
		t.Fatalf("Shard(%s): %v", shardID, err)
	}
	return shard
}
