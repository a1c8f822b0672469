// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
)

const testBucket = "20261016"

func TestSQLiteAllocateStartsAtOne(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := allocator.Allocate(ctx, testBucket, "")
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got != want {
			t.Errorf("Allocate = %d, want %d", got, want)
		}
	}

	// Buckets are independent.
	got, err := allocator.Allocate(ctx, "20261017", "")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 1 {
		t.Errorf("first allocation in a new bucket = %d, want 1", got)
	}
}

func TestSQLiteAllocateIdempotentToken(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	ctx := context.Background()

	first, err := allocator.Allocate(ctx, testBucket, "token-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	retried, err := allocator.Allocate(ctx, testBucket, "token-a")
	if err != nil {
		t.Fatalf("Allocate retry: %v", err)
	}
	if retried != first {
		t.Errorf("retry returned %d, want %d", retried, first)
	}

	next, err := allocator.Allocate(ctx, testBucket, "token-b")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if next != first+1 {
		t.Errorf("retry consumed a sequence: next = %d, want %d", next, first+1)
	}

	// The same token in another bucket is a different allocation.
	other, err := allocator.Allocate(ctx, "20261017", "token-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if other != 1 {
		t.Errorf("token-a in new bucket = %d, want 1", other)
	}
}

func TestSQLiteAllocateBatchContiguous(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	ctx := context.Background()

	if _, err := allocator.Allocate(ctx, testBucket, "earlier"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	tokens := []string{"t1", "t2", "earlier", "t3", "t2"}
	sequences, err := allocator.AllocateBatch(ctx, testBucket, tokens)
	if err != nil {
		t.Fatalf("AllocateBatch: %v", err)
	}
	want := []int64{2, 3, 1, 4, 3}
	for index := range want {
		if sequences[index] != want[index] {
			t.Errorf("sequences = %v, want %v", sequences, want)
			break
		}
	}
}

func TestSQLiteAllocateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stamp.db")
	ctx := context.Background()

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 2})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	allocator, err := NewSQLiteAllocator(ctx, pool, nil)
	if err != nil {
		t.Fatalf("NewSQLiteAllocator: %v", err)
	}
	for range 5 {
		if _, err := allocator.Allocate(ctx, testBucket, ""); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	if _, err := allocator.Allocate(ctx, testBucket, "kept"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, _ := openTestAllocator(t, path)
	got, err := reopened.Allocate(ctx, testBucket, "")
	if err != nil {
		t.Fatalf("Allocate after restart: %v", err)
	}
	if got != 7 {
		t.Errorf("Allocate after restart = %d, want 7", got)
	}
	kept, err := reopened.Allocate(ctx, testBucket, "kept")
	if err != nil {
		t.Fatalf("Allocate after restart: %v", err)
	}
	if kept != 6 {
		t.Errorf("token after restart = %d, want 6", kept)
	}
}

func TestSQLiteAllocateConcurrentNoGaps(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	ctx := context.Background()

	const (
		goroutines = 8
		perWorker  = 25
	)
	results := make(chan int64, goroutines*perWorker)
	errs := make(chan error, goroutines*perWorker)

	var waitGroup sync.WaitGroup
	for worker := range goroutines {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for index := range perWorker {
				sequence, err := allocator.Allocate(ctx, testBucket, fmt.Sprintf("w%d-%d", worker, index))
				if err != nil {
					errs <- err
					return
				}
				results <- sequence
			}
		}()
	}
	waitGroup.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Allocate: %v", err)
	}

	var sequences []int64
	for sequence := range results {
		sequences = append(sequences, sequence)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	if len(sequences) != goroutines*perWorker {
		t.Fatalf("got %d sequences, want %d", len(sequences), goroutines*perWorker)
	}
	for index, sequence := range sequences {
		if sequence != int64(index+1) {
			t.Fatalf("sequence at %d = %d: allocations are not contiguous from 1", index, sequence)
		}
	}
}

func TestSQLiteAllocateExhausted(t *testing.T) {
	allocator, pool := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	ctx := context.Background()

	setNext(t, pool, testBucket, MaxSequence)

	sequences, err := allocator.AllocateBatch(ctx, testBucket, []string{"last", "overflow-1", "overflow-2"})
	if !errors.Is(err, issuance.ErrAllocationExhausted) {
		t.Fatalf("AllocateBatch = %v, want ErrAllocationExhausted", err)
	}
	if sequences[0] != MaxSequence || sequences[1] != 0 || sequences[2] != 0 {
		t.Errorf("sequences = %v, want [%d 0 0]", sequences, MaxSequence)
	}

	// The served allocation committed and stays idempotent.
	last, err := allocator.Allocate(ctx, "20261016", "last")
	if err != nil {
		t.Fatalf("retry of served token: %v", err)
	}
	if last != MaxSequence {
		t.Errorf("retry of served token = %d, want %d", last, MaxSequence)
	}

	if _, err := allocator.Allocate(ctx, testBucket, ""); !errors.Is(err, issuance.ErrAllocationExhausted) {
		t.Errorf("Allocate past the end = %v, want ErrAllocationExhausted", err)
	}
	if issuance.Retryable(err) {
		t.Error("exhaustion must not be retryable")
	}
}

func TestSQLiteAllocateDeadline(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))

	// Hold the bucket so the second call waits past its deadline.
	unlock, err := allocator.locks.Lock(context.Background(), testBucket)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = allocator.Allocate(ctx, testBucket, "late")
	if !errors.Is(err, issuance.ErrTimeout) {
		t.Errorf("Allocate = %v, want ErrTimeout", err)
	}
}

func TestSQLiteAllocateRejectsBadBucket(t *testing.T) {
	allocator, _ := openTestAllocator(t, filepath.Join(t.TempDir(), "stamp.db"))
	for _, bucket := range []string{"", "2026-10-16", "20261340"} {
		if _, err := allocator.Allocate(context.Background(), bucket, ""); err == nil {
			t.Errorf("Allocate(%q) should fail", bucket)
		}
	}
}

func openTestAllocator(t *testing.T, path string) (*SQLiteAllocator, *sqlitepool.Pool) {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 4})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	allocator, err := NewSQLiteAllocator(context.Background(), pool, nil)
	if err != nil {
		t.Fatalf("NewSQLiteAllocator: %v", err)
	}
	return allocator, pool
}

func setNext(t *testing.T, pool *sqlitepool.Pool, bucket string, next int64) {
	t.Helper()
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	err = sqlitex.Execute(conn,
		"INSERT INTO sequences (bucket, next) VALUES (?, ?) ON CONFLICT (bucket) DO UPDATE SET next = excluded.next",
		&sqlitex.ExecOptions{Args: []any{bucket, next}})
	if err != nil {
		t.Fatalf("setting counter: %v", err)
	}
}
