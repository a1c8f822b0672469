// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/seal"
	"github.com/bureau-foundation/stamp/lib/secret"
	"github.com/bureau-foundation/stamp/lib/shard"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
	"github.com/bureau-foundation/stamp/lib/testutil"
)

var now = time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC)

const testDay = "20261016"

type fixture struct {
	generator *Generator
	manager   *shard.Manager
	clock     *clock.FakeClock
}

func newBuilder(t *testing.T, clk clock.Clock) *build.Builder {
	t.Helper()
	master, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, secret.KeySize))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { master.Close() })
	sealer, err := seal.NewSealer(master)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	t.Cleanup(func() { sealer.Close() })
	return build.NewBuilder(sealer, clk)
}

// newFixture wires a generator to a real allocator and shard store.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "stamp.db"),
		PoolSize: 8,
	})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fake := clock.Fake(now)
	ctx := context.Background()
	allocator, err := ident.NewSQLiteAllocator(ctx, pool, nil)
	if err != nil {
		t.Fatalf("NewSQLiteAllocator: %v", err)
	}
	manager, err := shard.NewManager(ctx, shard.Config{
		Pool:       pool,
		Clock:      fake,
		MaxBytes:   64 << 20,
		TimeBucket: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg.Authority = "gov"
	cfg.Allocator = allocator
	cfg.Builder = newBuilder(t, fake)
	if cfg.Store == nil {
		cfg.Store = manager
	}
	cfg.Clock = fake
	generator, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return &fixture{generator: generator, manager: manager, clock: fake}
}

func productRequests(count int) []issuance.Request {
	requests := make([]issuance.Request, count)
	for i := range requests {
		requests[i] = issuance.Request{
			SubjectRef: fmt.Sprintf("product-%d", i),
			Category:   issuance.CategoryProductCert,
			ExpiresAt:  now.Add(365 * 24 * time.Hour),
		}
	}
	return requests
}

func TestGenerateProductCertBatch(t *testing.T) {
	f := newFixture(t, Config{SubBatchSize: 1000, ConcurrencyLimit: 4})

	batch, err := f.generator.Generate(context.Background(), productRequests(2500), Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Succeeded) != 2500 || len(batch.Failed) != 0 {
		t.Fatalf("succeeded %d, failed %d; first failure: %+v", len(batch.Succeeded), len(batch.Failed), batch.Failed)
	}
	if batch.SubBatches != 3 {
		t.Errorf("dispatched %d sub-batches, want 3", batch.SubBatches)
	}
	if batch.BatchID == "" || !batch.Complete() {
		t.Errorf("batch id %q, complete %v", batch.BatchID, batch.Complete())
	}

	ids := make(map[string]bool, 2500)
	for i, issued := range batch.Succeeded {
		if issued.Position != i {
			t.Fatalf("succeeded[%d] has position %d", i, issued.Position)
		}
		if issued.Artifact.SequenceInBatch != i || issued.Artifact.BatchID != batch.BatchID {
			t.Errorf("provenance of %d = (%s, %d)", i, issued.Artifact.BatchID, issued.Artifact.SequenceInBatch)
		}
		ids[issued.Artifact.ID] = true
	}
	for sequence := int64(1); sequence <= 2500; sequence++ {
		if id := ident.FormatID("gov", testDay, sequence); !ids[id] {
			t.Fatalf("missing id %s", id)
		}
	}

	stats, err := f.manager.Stats(context.Background(), now)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalArtifacts != 2500 {
		t.Errorf("store holds %d artifacts, want 2500", stats.TotalArtifacts)
	}
}

func TestGenerateMixedValidity(t *testing.T) {
	f := newFixture(t, Config{SubBatchSize: 3, ConcurrencyLimit: 2})

	requests := productRequests(10)
	requests[1].ExpiresAt = now.Add(-time.Hour)
	requests[4].Category = "VISA"
	requests[8].SubjectRef = ""

	batch, err := f.generator.Generate(context.Background(), requests, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Succeeded)+len(batch.Failed) != len(requests) {
		t.Fatalf("outcomes = %d, want %d", len(batch.Succeeded)+len(batch.Failed), len(requests))
	}
	if len(batch.Failed) != 3 {
		t.Fatalf("failed = %d, want 3", len(batch.Failed))
	}
	for i, position := range []int{1, 4, 8} {
		failure := batch.Failed[i]
		if failure.Position != position || failure.Kind != issuance.KindInvalidRequest || failure.Retryable {
			t.Errorf("failure %d = %+v", i, failure)
		}
	}

	seen := make(map[string]bool)
	for _, issued := range batch.Succeeded {
		if seen[issued.Artifact.ID] {
			t.Errorf("duplicate id %s", issued.Artifact.ID)
		}
		seen[issued.Artifact.ID] = true
	}
	// Invalid requests consume no identifiers.
	for sequence := int64(1); sequence <= 7; sequence++ {
		if !seen[ident.FormatID("gov", testDay, sequence)] {
			t.Errorf("identifier %d not issued; invalid requests left a gap", sequence)
		}
	}
}

func TestGenerateSinglePastExpiry(t *testing.T) {
	f := newFixture(t, Config{})
	requests := []issuance.Request{{
		SubjectRef: "passport-holder",
		Category:   issuance.CategoryPassport,
		ExpiresAt:  now.Add(-24 * time.Hour),
	}}
	batch, err := f.generator.Generate(context.Background(), requests, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Succeeded) != 0 || len(batch.Failed) != 1 {
		t.Fatalf("succeeded %d, failed %d", len(batch.Succeeded), len(batch.Failed))
	}
	if batch.Failed[0].Kind != issuance.KindInvalidRequest {
		t.Errorf("failure kind = %s, want %s", batch.Failed[0].Kind, issuance.KindInvalidRequest)
	}
}

func TestGenerateEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	batch, err := f.generator.Generate(context.Background(), nil, Options{BatchID: "empty"})
	if err != nil {
		t.Fatalf("Generate(nil): %v", err)
	}
	if !batch.Complete() || batch.RequestedCount != 0 || batch.SubBatches != 0 {
		t.Errorf("batch = %+v, want an empty complete batch", batch)
	}
	if len(batch.Succeeded) != 0 || len(batch.Failed) != 0 {
		t.Errorf("succeeded %d, failed %d, want none", len(batch.Succeeded), len(batch.Failed))
	}
	if batch.BatchID != "empty" {
		t.Errorf("BatchID = %q, want empty", batch.BatchID)
	}
}

func TestGenerateRerunIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{SubBatchSize: 4})
	requests := productRequests(10)
	requests[3].Token = testutil.UniqueID("client-token")

	first, err := f.generator.Generate(context.Background(), requests, Options{BatchID: "fixed-batch"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Later the same hour, the batch is resubmitted.
	f.clock.Advance(10 * time.Minute)
	second, err := f.generator.Generate(context.Background(), requests, Options{BatchID: "fixed-batch"})
	if err != nil {
		t.Fatalf("Generate rerun: %v", err)
	}
	if len(second.Succeeded) != 10 {
		t.Fatalf("rerun succeeded %d, want 10", len(second.Succeeded))
	}
	for i := range first.Succeeded {
		a, b := first.Succeeded[i], second.Succeeded[i]
		if a.Artifact.ID != b.Artifact.ID || a.Placement != b.Placement || a.Artifact.PayloadHash != b.Artifact.PayloadHash {
			t.Errorf("rerun of position %d: %s@%+v vs %s@%+v", i, a.Artifact.ID, a.Placement, b.Artifact.ID, b.Placement)
		}
	}

	stats, err := f.manager.Stats(context.Background(), f.clock.Now())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalArtifacts != 10 {
		t.Errorf("store holds %d artifacts after rerun, want 10", stats.TotalArtifacts)
	}
}

// storeFunc adapts a function to Store.
type storeFunc func(ctx context.Context, bucketTime time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error)

func (f storeFunc) Append(ctx context.Context, bucketTime time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
	return f(ctx, bucketTime, artifacts...)
}

func placeAll(artifacts []issuance.Artifact) []issuance.StoredArtifact {
	stored := make([]issuance.StoredArtifact, len(artifacts))
	for i, artifact := range artifacts {
		stored[i] = issuance.StoredArtifact{
			Artifact:  artifact,
			Placement: issuance.Placement{ShardID: "2026101609-0001", Position: i},
		}
	}
	return stored
}

func TestGenerateStorageFailureStopsDispatch(t *testing.T) {
	store := storeFunc(func(ctx context.Context, _ time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
		return nil, fmt.Errorf("disk gone: %w", issuance.ErrStorageUnavailable)
	})
	f := newFixture(t, Config{SubBatchSize: 2, ConcurrencyLimit: 1, Store: store})

	batch, err := f.generator.Generate(context.Background(), productRequests(6), Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if batch.SubBatches != 1 {
		t.Errorf("dispatched %d sub-batches after storage failure, want 1", batch.SubBatches)
	}
	if len(batch.Failed) != 6 {
		t.Fatalf("failed = %d, want 6", len(batch.Failed))
	}
	for _, failure := range batch.Failed {
		if failure.Kind != issuance.KindStorageUnavailable || !failure.Retryable {
			t.Errorf("failure = %+v", failure)
		}
	}
}

func TestGenerateReplicationFailureIsPerSubBatch(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	store := storeFunc(func(ctx context.Context, _ time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("quorum lost: %w", issuance.ErrReplicationIncomplete)
		}
		return placeAll(artifacts), nil
	})
	f := newFixture(t, Config{SubBatchSize: 2, ConcurrencyLimit: 1, Store: store})

	batch, err := f.generator.Generate(context.Background(), productRequests(6), Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if batch.SubBatches != 3 || len(batch.Succeeded) != 4 || len(batch.Failed) != 2 {
		t.Fatalf("sub-batches %d, succeeded %d, failed %d", batch.SubBatches, len(batch.Succeeded), len(batch.Failed))
	}
	if batch.Failed[0].Kind != issuance.KindReplicationIncomplete || !batch.Failed[0].Retryable {
		t.Errorf("failure = %+v", batch.Failed[0])
	}
}

func TestGenerateCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store := storeFunc(func(ctx context.Context, _ time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return placeAll(artifacts), nil
	})
	f := newFixture(t, Config{SubBatchSize: 2, ConcurrencyLimit: 1, Store: store, CallTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *issuance.Batch, 1)
	go func() {
		batch, err := f.generator.Generate(ctx, productRequests(6), Options{})
		if err != nil {
			t.Errorf("Generate: %v", err)
		}
		done <- batch
	}()

	testutil.RequireClosed(t, started, 5*time.Second, "first sub-batch never reached the store")
	cancel()
	close(release)
	batch := testutil.RequireReceive(t, done, 5*time.Second, "Generate did not return after cancellation")
	if batch == nil {
		t.Fatal("no batch returned")
	}

	if batch.SubBatches != 1 {
		t.Errorf("dispatched %d sub-batches, want 1", batch.SubBatches)
	}
	if len(batch.Succeeded) != 2 {
		t.Errorf("in-flight sub-batch: succeeded %d, want 2", len(batch.Succeeded))
	}
	if len(batch.Failed) != 4 {
		t.Fatalf("failed = %d, want 4", len(batch.Failed))
	}
	for _, failure := range batch.Failed {
		if failure.Kind != issuance.KindCancelled || !failure.Retryable {
			t.Errorf("failure = %+v", failure)
		}
	}
}

func TestGenerateCallTimeout(t *testing.T) {
	store := storeFunc(func(ctx context.Context, _ time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("append: %w: %w", issuance.ErrTimeout, ctx.Err())
	})
	f := newFixture(t, Config{Store: store, CallTimeout: 20 * time.Millisecond})

	batch, err := f.generator.Generate(context.Background(), productRequests(3), Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Failed) != 3 {
		t.Fatalf("failed = %d, want 3", len(batch.Failed))
	}
	if batch.Failed[0].Kind != issuance.KindTimeout || !batch.Failed[0].Retryable {
		t.Errorf("failure = %+v", batch.Failed[0])
	}
}

// exhaustingAllocator serves sequences up to a limit.
type exhaustingAllocator struct {
	mu    sync.Mutex
	next  int64
	limit int64
}

func (a *exhaustingAllocator) Allocate(ctx context.Context, bucket, token string) (int64, error) {
	sequences, err := a.AllocateBatch(ctx, bucket, []string{token})
	return sequences[0], err
}

func (a *exhaustingAllocator) AllocateBatch(ctx context.Context, bucket string, tokens []string) ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sequences := make([]int64, len(tokens))
	exhausted := 0
	for i := range tokens {
		if a.next >= a.limit {
			exhausted++
			continue
		}
		a.next++
		sequences[i] = a.next
	}
	if exhausted > 0 {
		return sequences, fmt.Errorf("bucket %s: %w", bucket, issuance.ErrAllocationExhausted)
	}
	return sequences, nil
}

func (a *exhaustingAllocator) Close() error { return nil }

func TestGenerateAllocationExhausted(t *testing.T) {
	fake := clock.Fake(now)
	generator, err := NewGenerator(Config{
		Authority: "gov",
		Allocator: &exhaustingAllocator{limit: 3},
		Builder:   newBuilder(t, fake),
		Store: storeFunc(func(ctx context.Context, _ time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
			return placeAll(artifacts), nil
		}),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	batch, err := generator.Generate(context.Background(), productRequests(5), Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Succeeded) != 3 || len(batch.Failed) != 2 {
		t.Fatalf("succeeded %d, failed %d", len(batch.Succeeded), len(batch.Failed))
	}
	for _, failure := range batch.Failed {
		if failure.Kind != issuance.KindAllocationExhausted || failure.Retryable {
			t.Errorf("failure = %+v", failure)
		}
	}
}

func TestNewGeneratorValidates(t *testing.T) {
	if _, err := NewGenerator(Config{Authority: "Not Valid"}); err == nil {
		t.Error("NewGenerator accepted an invalid authority")
	}
	if _, err := NewGenerator(Config{Authority: "gov"}); err == nil {
		t.Error("NewGenerator accepted missing collaborators")
	}
}
