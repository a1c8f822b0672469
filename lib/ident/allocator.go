// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// Allocator assigns per-bucket sequence numbers.
type Allocator interface {
	// Allocate returns the sequence for token in bucket, assigning
	// the next one if the token is new. An empty token is never
	// remembered, so every call with it consumes a new sequence.
	Allocate(ctx context.Context, bucket, token string) (int64, error)

	// AllocateBatch allocates for each token in order within one
	// durable commit. Newly assigned sequences are contiguous. If
	// the bucket runs out part way, the entries that could not be
	// served are zero, the rest are committed, and the error wraps
	// issuance.ErrAllocationExhausted.
	AllocateBatch(ctx context.Context, bucket string, tokens []string) ([]int64, error)

	Close() error
}

// allocateOne implements Allocate on top of AllocateBatch.
func allocateOne(ctx context.Context, allocator Allocator, bucket, token string) (int64, error) {
	sequences, err := allocator.AllocateBatch(ctx, bucket, []string{token})
	if err != nil {
		return 0, err
	}
	return sequences[0], nil
}

// storageError classifies a storage failure: the caller's deadline
// becomes ErrTimeout, cancellation is passed through, anything else
// is ErrStorageUnavailable.
func storageError(ctx context.Context, operation string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("ident: %s: %w: %w", operation, issuance.ErrTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("ident: %s: %w", operation, ctx.Err())
	default:
		return fmt.Errorf("ident: %s: %w: %w", operation, issuance.ErrStorageUnavailable, err)
	}
}

func exhaustedError(bucket string, count int) error {
	return fmt.Errorf("ident: bucket %s: %d request(s) past sequence %d: %w",
		bucket, count, MaxSequence, issuance.ErrAllocationExhausted)
}
