// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS stamp_replica_artifacts (
	id            TEXT PRIMARY KEY,
	shard_id      TEXT NOT NULL,
	position      INTEGER NOT NULL,
	record        BYTEA NOT NULL,
	replicated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS stamp_replica_artifacts_shard
	ON stamp_replica_artifacts (shard_id, position);
`

const postgresInsert = `
INSERT INTO stamp_replica_artifacts (id, shard_id, position, record)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`

// PostgresSink stores records as rows in stamp_replica_artifacts.
type PostgresSink struct {
	host string
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the replica table if
// needed.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("replica: parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("replica: connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("replica: creating postgres schema: %w", err)
	}
	return &PostgresSink{host: poolConfig.ConnConfig.Host, pool: pool}, nil
}

// Name implements Sink. The DSN is not included since it may carry a
// password.
func (s *PostgresSink) Name() string { return "postgres:" + s.host }

// Write implements Sink. Records are sent as one batch inside one
// transaction.
func (s *PostgresSink) Write(ctx context.Context, shardID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, record := range records {
			batch.Queue(postgresInsert, record.ID, shardID, record.Position, record.Data)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return writeError(ctx, s.Name(), err)
	}
	return nil
}

// Count returns the number of rows replicated for shardID.
func (s *PostgresSink) Count(ctx context.Context, shardID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM stamp_replica_artifacts WHERE shard_id = $1", shardID).Scan(&count)
	if err != nil {
		return 0, writeError(ctx, s.Name(), err)
	}
	return count, nil
}

// Close implements Sink.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
