// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ident formats artifact identifiers and allocates their
// sequence numbers.
//
// An identifier is "<authority>-<YYYYMMDD>-<NNNNNNNN>": the issuing
// authority's prefix, the UTC issue day, and an eight-digit sequence
// that starts at 1 in each day bucket and increases by one per
// allocation with no gaps. A bucket holds at most [MaxSequence]
// identifiers; past that, allocation fails with
// issuance.ErrAllocationExhausted.
//
// An [Allocator] hands out sequences. Counters are durably committed
// before a sequence is returned, so a restart never reissues a
// number. Allocation is idempotent per (bucket, token): a retried
// call with the same client token returns the sequence it received
// the first time without consuming a new one.
//
// Two backends are provided: [SQLiteAllocator] keeps counters in the
// stamp database, and [RedisAllocator] keeps them in Redis for
// deployments where several processes share one counter space.
package ident
