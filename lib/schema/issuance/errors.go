// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"context"
	"errors"
)

var (
	// ErrInvalidRequest reports malformed input: unknown category,
	// empty subject, an expiry not after the issue time, or a record
	// too large for any shard. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAllocationExhausted reports that a bucket has no sequence
	// numbers left. Fatal for that bucket; never retried.
	ErrAllocationExhausted = errors.New("allocation exhausted")

	// ErrStorageUnavailable reports that the durable store could not
	// be reached. Retryable with the same idempotency token.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrReplicationIncomplete reports that fewer replica copies than
	// the write quorum acknowledged an append. Nothing was committed
	// to the primary. Retryable.
	ErrReplicationIncomplete = errors.New("replication incomplete")

	// ErrTimeout reports that a call exceeded its deadline. Retryable.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled reports that the batch was cancelled before the
	// request was dispatched. Retryable.
	ErrCancelled = errors.New("cancelled")
)

// Failure kinds as they appear in serialized failure records.
const (
	KindInvalidRequest        = "invalid_request"
	KindAllocationExhausted   = "allocation_exhausted"
	KindStorageUnavailable    = "storage_unavailable"
	KindReplicationIncomplete = "replication_incomplete"
	KindTimeout               = "timeout"
	KindCancelled             = "cancelled"
	KindInternal              = "internal"
)

// FailureKind maps err to its stable kind string. A context deadline
// counts as a timeout and a context cancellation as cancelled. Errors
// outside the taxonomy are "internal".
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrAllocationExhausted):
		return KindAllocationExhausted
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrReplicationIncomplete):
		return KindReplicationIncomplete
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// Retryable reports whether a request that failed with err may be
// resubmitted with the same idempotency token.
func Retryable(err error) bool {
	return RetryableKind(FailureKind(err))
}

// RetryableKind is Retryable for an already-classified kind.
func RetryableKind(kind string) bool {
	switch kind {
	case KindStorageUnavailable, KindReplicationIncomplete, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}
