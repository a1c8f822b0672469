// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package issuance defines the data model shared by every stamp
// component: issuance requests, sealed artifacts, batches, shards,
// verification outcomes, export bundles, and the error taxonomy.
//
// Types that cross the service socket carry json struct tags; the
// fxamacker/cbor json-tag fallback gives them identical field names
// in CBOR (see lib/codec).
//
// # Errors
//
// Failures are reported with sentinel errors wrapped by %w. Callers
// classify them with errors.Is, or with [FailureKind] and [Retryable]
// when the classification has to survive serialization (for example
// inside a [Batch] failure record).
package issuance
