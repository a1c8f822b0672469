// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool shared by the
// stamp allocator and shard store.
//
// It wraps zombiezen.com/go/sqlite with fixed defaults: WAL journal
// mode, a busy timeout for write contention, and a caller-selected
// synchronous level. Callers [Pool.Take] a connection, perform work,
// and [Pool.Put] it back. Connections are not safe for concurrent use.
//
// # Durability
//
// Issued identifiers and sealed artifact records must survive power
// loss, so both stores open their pools with [SynchronousFull]. The
// NORMAL level is available for scratch databases and tests where a
// lost tail of commits after an OS crash is acceptable.
//
// # Pragmas
//
//   - journal_mode=WAL
//   - synchronous=FULL or NORMAL (see [Config.Synchronous])
//   - busy_timeout=5000
//   - foreign_keys=OFF
//   - cache_size=-8192
//   - temp_store=MEMORY
//
// Services write SQL directly, use sqlitex.Execute for cached
// statements, and manage transactions with sqlitex.ImmediateTransaction.
package sqlitepool
