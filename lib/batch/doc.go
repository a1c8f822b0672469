// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch turns a list of issuance requests into sealed, stored
// artifacts.
//
// [Generator.Generate] splits the requests into fixed-size
// sub-batches and runs them on a bounded pool of workers. Dispatch
// blocks while every worker is busy. Each sub-batch, on one worker:
//
//  1. fixes one issue time for all of its requests,
//  2. validates every request (invalid ones fail without consuming an
//     identifier),
//  3. allocates identifiers for the valid ones in one call, keyed by
//     each request's idempotency token,
//  4. builds and seals each artifact, and
//  5. appends them to the shard store in one call.
//
// Every request yields exactly one outcome, tagged with its position
// in the input. Failures are values in the returned Batch, classified
// by issuance.FailureKind. An empty request list yields an empty,
// complete Batch.
//
// Cancelling the context passed to Generate stops dispatch: requests in
// sub-batches not yet started fail as cancelled, while sub-batches
// already running finish on a context detached from the cancellation,
// each store call bounded by the call timeout. A storage outage
// (issuance.ErrStorageUnavailable) likewise stops dispatch, failing the
// remaining requests as storage_unavailable.
//
// Requests without a token get "<batch_id>/<position>", so re-running
// a batch under the same batch id reuses identifiers instead of
// consuming new ones.
package batch
