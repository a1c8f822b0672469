// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for encrypted shard export
// bundles. Bundles are encrypted as a stream to one or more x25519
// recipients; an operator holding any matching identity can read the
// bundle back. Identities are kept in [secret.Buffer] values.
package sealed
