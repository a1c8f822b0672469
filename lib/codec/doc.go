// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is stamp's single CBOR configuration.
//
// Two formats cross stamp's boundaries:
//
//   - JSON for the external artifact payload (the QR content) and CLI
//     --json output.
//   - CBOR for everything internal: the canonical form that the sealer
//     hashes, artifact records in the SQLite index and replica sinks,
//     shard export bundles, and the service socket protocol.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, shortest integer forms, no indefinite lengths. The same
// logical value always encodes to the same bytes, which is what lets the
// canonical form double as hash input.
//
// # Struct tags
//
// A `cbor` tag marks a type that is only ever CBOR (records, protocol
// envelopes). A `json` tag marks a type that is serialized as both JSON
// and CBOR; fxamacker/cbor falls back to json tags when no cbor tag is
// present. Never put both tags on one field.
package codec
