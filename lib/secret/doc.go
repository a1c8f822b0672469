// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// [Buffer] allocates memory via mmap(MAP_ANONYMOUS), locks it into RAM
// with mlock, and excludes it from core dumps with MADV_DONTDUMP. On
// Close the memory is zeroed, unlocked, and unmapped. The stamp master
// sealing key lives in a Buffer for the lifetime of the service; see
// [ReadKeyFile].
package secret
