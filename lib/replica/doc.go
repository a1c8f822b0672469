// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replica writes copies of appended artifacts to replica
// destinations.
//
// A [Sink] receives the records of one append call for one shard. Every
// sink is idempotent by artifact id: writing a record whose id is
// already present is a no-op, so an append retried after a partial
// replication failure never duplicates a copy.
//
// Three sinks are provided:
//
//   - [SegmentSink] appends LZ4-compressed CBOR frames to a per-shard
//     segment file on a local or mounted volume and fsyncs before
//     returning. Duplicates are tolerated on disk and dropped by
//     [ReadSegment].
//   - [RedisSink] stores records in a per-shard Redis hash with HSETNX.
//   - [PostgresSink] inserts rows into stamp_replica_artifacts with
//     ON CONFLICT DO NOTHING.
//
// [Open] builds the sinks named by the replication config.
package replica
