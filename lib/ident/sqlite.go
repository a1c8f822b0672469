// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/keylock"
	"github.com/bureau-foundation/stamp/lib/sqlitepool"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sequences (
		bucket TEXT PRIMARY KEY,
		next   INTEGER NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS allocations (
		bucket   TEXT NOT NULL,
		token    TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		PRIMARY KEY (bucket, token)
	) WITHOUT ROWID;
`

// SQLiteAllocator keeps counters in SQLite. Each call runs in one
// IMMEDIATE transaction; the pool must be opened with
// sqlitepool.SynchronousFull for allocations to survive power loss.
type SQLiteAllocator struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	locks  keylock.Map
}

// NewSQLiteAllocator creates the counter tables if needed. The pool is
// borrowed: Close does not close it.
func NewSQLiteAllocator(ctx context.Context, pool *sqlitepool.Pool, logger *slog.Logger) (*SQLiteAllocator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, storageError(ctx, "opening counters", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return nil, fmt.Errorf("ident: creating counter tables: %w", err)
	}
	return &SQLiteAllocator{pool: pool, logger: logger}, nil
}

// Allocate implements Allocator.
func (a *SQLiteAllocator) Allocate(ctx context.Context, bucket, token string) (int64, error) {
	return allocateOne(ctx, a, bucket, token)
}

// AllocateBatch implements Allocator.
func (a *SQLiteAllocator) AllocateBatch(ctx context.Context, bucket string, tokens []string) ([]int64, error) {
	if err := validateBucket(bucket); err != nil {
		return nil, fmt.Errorf("ident: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	unlock, err := a.locks.Lock(ctx, bucket)
	if err != nil {
		return nil, storageError(ctx, "waiting for bucket "+bucket, err)
	}
	defer unlock()

	conn, err := a.pool.Take(ctx)
	if err != nil {
		return nil, storageError(ctx, "allocate", err)
	}
	defer a.pool.Put(conn)

	sequences, exhausted, err := a.allocate(conn, bucket, tokens)
	if err != nil {
		return nil, storageError(ctx, "allocate", err)
	}
	if exhausted > 0 {
		a.logger.Error("sequence space exhausted",
			"bucket", bucket,
			"requests", exhausted,
		)
		return sequences, exhaustedError(bucket, exhausted)
	}
	return sequences, nil
}

// allocate runs the allocation transaction. Exhaustion is reported by
// count, not error, so that the sequences that were served commit.
func (a *SQLiteAllocator) allocate(conn *sqlite.Conn, bucket string, tokens []string) (sequences []int64, exhausted int, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, 0, err
	}
	defer endTransaction(&err)

	next := int64(1)
	err = sqlitex.Execute(conn, "SELECT next FROM sequences WHERE bucket = ?", &sqlitex.ExecOptions{
		Args: []any{bucket},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			next = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return nil, 0, err
	}
	start := next

	sequences = make([]int64, len(tokens))
	for index, token := range tokens {
		if token != "" {
			existing, found, lookupErr := lookupToken(conn, bucket, token)
			if lookupErr != nil {
				return nil, 0, lookupErr
			}
			if found {
				sequences[index] = existing
				continue
			}
		}
		if next > MaxSequence {
			exhausted++
			continue
		}
		sequences[index] = next
		if token != "" {
			err = sqlitex.Execute(conn,
				"INSERT INTO allocations (bucket, token, sequence) VALUES (?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{bucket, token, next}})
			if err != nil {
				return nil, 0, err
			}
		}
		next++
	}

	if next != start {
		err = sqlitex.Execute(conn,
			`INSERT INTO sequences (bucket, next) VALUES (?, ?)
			 ON CONFLICT (bucket) DO UPDATE SET next = excluded.next`,
			&sqlitex.ExecOptions{Args: []any{bucket, next}})
		if err != nil {
			return nil, 0, err
		}
	}
	return sequences, exhausted, nil
}

func lookupToken(conn *sqlite.Conn, bucket, token string) (int64, bool, error) {
	var (
		sequence int64
		found    bool
	)
	err := sqlitex.Execute(conn,
		"SELECT sequence FROM allocations WHERE bucket = ? AND token = ?",
		&sqlitex.ExecOptions{
			Args: []any{bucket, token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sequence = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	return sequence, found, err
}

// Next returns the sequence the next new allocation in bucket would
// receive.
func (a *SQLiteAllocator) Next(ctx context.Context, bucket string) (int64, error) {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return 0, storageError(ctx, "read counter", err)
	}
	defer a.pool.Put(conn)

	next := int64(1)
	err = sqlitex.Execute(conn, "SELECT next FROM sequences WHERE bucket = ?", &sqlitex.ExecOptions{
		Args: []any{bucket},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			next = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, storageError(ctx, "read counter", err)
	}
	return next, nil
}

// Close releases nothing: the pool belongs to the caller.
func (a *SQLiteAllocator) Close() error {
	return nil
}
