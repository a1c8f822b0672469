// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

const shardsSchema = `
CREATE TABLE IF NOT EXISTS shards (
	shard_id       TEXT PRIMARY KEY,
	bucket         TEXT NOT NULL,
	generation     INTEGER NOT NULL,
	state          TEXT NOT NULL,
	byte_size      INTEGER NOT NULL DEFAULT 0,
	max_bytes      INTEGER NOT NULL,
	artifact_count INTEGER NOT NULL DEFAULT 0,
	opened_at      INTEGER NOT NULL,
	sealed_at      INTEGER NOT NULL DEFAULT 0,
	checksum       TEXT NOT NULL DEFAULT ''
) WITHOUT ROWID;

CREATE UNIQUE INDEX IF NOT EXISTS shards_bucket_generation
	ON shards (bucket, generation);

-- At most one OPEN shard per bucket.
CREATE UNIQUE INDEX IF NOT EXISTS shards_one_open
	ON shards (bucket) WHERE state = 'OPEN';

CREATE INDEX IF NOT EXISTS shards_state ON shards (state);
`

// partitionSchema returns the DDL for one day's artifact table.
func partitionSchema(suffix string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS artifacts_%[1]s (
	id           TEXT PRIMARY KEY,
	shard_id     TEXT NOT NULL,
	position     INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	payload_hash BLOB NOT NULL,
	record       BLOB NOT NULL
) WITHOUT ROWID;

CREATE UNIQUE INDEX IF NOT EXISTS artifacts_%[1]s_shard_position
	ON artifacts_%[1]s (shard_id, position);
`, suffix)
}

func partitionTable(suffix string) string { return "artifacts_" + suffix }

func (m *Manager) initialize(ctx context.Context) error {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return storageError(ctx, "opening store", err)
	}
	defer m.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, shardsSchema, nil); err != nil {
		return fmt.Errorf("shard: creating shard table: %w", err)
	}

	err = sqlitex.Execute(conn,
		"SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'artifacts_%'",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				suffix := strings.TrimPrefix(stmt.ColumnText(0), "artifacts_")
				m.knownPartitions[suffix] = true
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("shard: discovering partitions: %w", err)
	}
	if len(m.knownPartitions) > 0 {
		m.logger.Info("discovered existing partitions", "count", len(m.knownPartitions))
	}
	return nil
}

// ensurePartition creates the artifact table for suffix on first use.
// Must not be called inside a transaction that the caller may roll
// back, since the table is then remembered as created.
func (m *Manager) ensurePartition(conn *sqlite.Conn, suffix string) error {
	m.partitionMu.Lock()
	defer m.partitionMu.Unlock()
	if m.knownPartitions[suffix] {
		return nil
	}

	if err := sqlitex.ExecuteScript(conn, partitionSchema(suffix), nil); err != nil {
		return fmt.Errorf("shard: creating partition %s: %w", suffix, err)
	}
	m.knownPartitions[suffix] = true
	m.logger.Info("partition created", "suffix", suffix)
	return nil
}

func (m *Manager) partitionExists(suffix string) bool {
	m.partitionMu.Lock()
	defer m.partitionMu.Unlock()
	return m.knownPartitions[suffix]
}

const shardColumns = `shard_id, bucket, generation, state, byte_size, max_bytes,
	artifact_count, opened_at, sealed_at, checksum`

func scanShard(stmt *sqlite.Stmt) (issuance.Shard, error) {
	shard := issuance.Shard{
		ShardID:       stmt.ColumnText(0),
		Bucket:        stmt.ColumnText(1),
		Generation:    stmt.ColumnInt(2),
		State:         issuance.ShardState(stmt.ColumnText(3)),
		ByteSize:      stmt.ColumnInt64(4),
		MaxBytes:      stmt.ColumnInt64(5),
		ArtifactCount: stmt.ColumnInt(6),
		OpenedAt:      time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}
	if sealedAt := stmt.ColumnInt64(8); sealedAt != 0 {
		shard.SealedAt = time.Unix(0, sealedAt).UTC()
	}
	if checksum := stmt.ColumnText(9); checksum != "" {
		parsed, err := issuance.ParseHash(checksum)
		if err != nil {
			return issuance.Shard{}, fmt.Errorf("shard %s: stored checksum: %w", shard.ShardID, err)
		}
		shard.Checksum = parsed
	}
	return shard, nil
}

// queryShards runs a query selecting shardColumns and collects rows.
func queryShards(conn *sqlite.Conn, query string, args ...any) ([]issuance.Shard, error) {
	var shards []issuance.Shard
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			shard, err := scanShard(stmt)
			if err != nil {
				return err
			}
			shards = append(shards, shard)
			return nil
		},
	})
	return shards, err
}

func loadShard(conn *sqlite.Conn, shardID string) (issuance.Shard, bool, error) {
	shards, err := queryShards(conn, "SELECT "+shardColumns+" FROM shards WHERE shard_id = ?", shardID)
	if err != nil || len(shards) == 0 {
		return issuance.Shard{}, false, err
	}
	return shards[0], true, nil
}

func loadOpenShard(conn *sqlite.Conn, bucket string) (issuance.Shard, bool, error) {
	shards, err := queryShards(conn,
		"SELECT "+shardColumns+" FROM shards WHERE bucket = ? AND state = 'OPEN'", bucket)
	if err != nil || len(shards) == 0 {
		return issuance.Shard{}, false, err
	}
	return shards[0], true, nil
}

func maxGeneration(conn *sqlite.Conn, bucket string) (int, error) {
	generation := 0
	err := sqlitex.Execute(conn, "SELECT COALESCE(MAX(generation), 0) FROM shards WHERE bucket = ?",
		&sqlitex.ExecOptions{
			Args: []any{bucket},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				generation = stmt.ColumnInt(0)
				return nil
			},
		})
	return generation, err
}
