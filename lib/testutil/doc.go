// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes. [RequireReceive],
// [RequireSend], and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang. [UniqueID] returns distinct
// identifiers without reading the clock.
//
// All helpers call t.Fatalf on failure.
package testutil
