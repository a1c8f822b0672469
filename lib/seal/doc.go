// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal computes the tamper-evident hashes of artifacts and
// shards.
//
// # Canonical form
//
// An artifact's payload hash covers its canonical serialization: a
// CBOR array (RFC 8949 core deterministic encoding) of exactly
//
//	[version, id, subject_ref, category, issued_at, expires_at,
//	 batch_id, sequence_in_batch]
//
// where version is [CanonicalVersion], timestamps are RFC 3339 text in
// UTC truncated to whole seconds with a "Z" suffix, and every other
// element is text except sequence_in_batch (unsigned integer). There
// are no optional elements, so issuance and verification always
// produce byte-identical input for the same logical artifact.
//
// # Payload hash
//
// [Sealer] hashes canonical bytes with BLAKE3 in keyed mode. The key
// is derived from the operator's master sealing key with HKDF-SHA256,
// so a forger without the master key cannot produce a matching hash
// for altered fields.
//
// # Shard checksum
//
// [ShardChecksum] is a Merkle root over a shard's payload hashes in
// append order under a fixed public domain key, bound to the artifact
// count. Anyone holding an exported bundle can recompute it.
package seal
