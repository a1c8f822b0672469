// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shard is the append-only, time-partitioned artifact store.
//
// Artifacts are grouped into shards by time bucket: the artifact's
// issue time truncated to the configured bucket width, in UTC. Each
// bucket has at most one OPEN shard at a time. A shard moves through
//
//	OPEN → SEALING → SEALED
//
// and never back. An OPEN shard enters SEALING when the next record
// would push its byte size past the capacity (the append then
// continues in a new generation of the same bucket) or when its
// bucket's time window has elapsed ([Manager.SealElapsed]). A SEALING
// shard becomes SEALED once its checksum is computed and recorded; if
// that fails the shard stays SEALING until [Manager.RetryFinalize]
// succeeds. Neither SEALING nor SEALED shards accept writes.
//
// # Storage
//
// The primary copy lives in SQLite. The shards table holds one row
// per shard, with a partial unique index enforcing one OPEN shard per
// bucket. Artifacts live in day-partitioned tables artifacts_YYYYMMDD
// keyed by id; since an artifact id embeds its issue day, a lookup is
// a single primary-key read in one partition. Partition tables are
// created on first write and discovered on open.
//
// # Replication
//
// Before the primary commit, each append is written to every replica
// [replica.Sink]. The append proceeds only if a majority of the
// replicas acknowledge; otherwise it fails with
// issuance.ErrReplicationIncomplete and nothing is committed. Replica
// writes are idempotent by id, so retrying is safe.
//
// # Concurrency
//
// Writers are serialized per bucket. Appends to different buckets
// proceed concurrently (SQLite serializes the commits themselves).
// Sealing and finalizing hold the bucket lock, so an append that
// arrives mid-seal waits for the roll to complete.
//
// # Export
//
// A SEALED shard can be exported as a bundle file: a CBOR header and
// one compressed CBOR frame per artifact in position order, optionally
// age-encrypted. See [Manager.Export] and [ReadBundle].
package shard
