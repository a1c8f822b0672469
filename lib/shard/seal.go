// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/seal"
)

// finalize moves a SEALING shard to SEALED, recording its checksum.
// Finalizing a SEALED shard is a no-op. The caller holds the bucket
// lock.
func (m *Manager) finalize(conn *sqlite.Conn, shardID string) (err error) {
	if m.finalizeHook != nil {
		if err := m.finalizeHook(shardID); err != nil {
			return err
		}
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endTransaction(&err)

	shard, found, err := loadShard(conn, shardID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("shard %s: %w", shardID, ErrShardNotFound)
	}
	switch shard.State {
	case issuance.ShardSealed:
		return nil
	case issuance.ShardSealing:
	default:
		return fmt.Errorf("shard %s is %s, not SEALING", shardID, shard.State)
	}

	hashes, err := m.shardHashes(conn, shard)
	if err != nil {
		return err
	}
	if len(hashes) != shard.ArtifactCount {
		return fmt.Errorf("shard %s: index has %d artifacts, shard row says %d",
			shardID, len(hashes), shard.ArtifactCount)
	}
	checksum := seal.ShardChecksum(hashes)
	sealedAt := m.clock.Now().UTC()

	err = sqlitex.Execute(conn,
		"UPDATE shards SET state = 'SEALED', sealed_at = ?, checksum = ? WHERE shard_id = ? AND state = 'SEALING'",
		&sqlitex.ExecOptions{Args: []any{sealedAt.UnixNano(), checksum.String(), shardID}})
	if err != nil {
		return fmt.Errorf("recording seal of %s: %w", shardID, err)
	}

	m.logger.Info("shard sealed",
		"shard_id", shardID,
		"artifact_count", shard.ArtifactCount,
		"byte_size", shard.ByteSize,
		"checksum", checksum.String(),
	)
	return nil
}

// shardHashes returns the payload hashes of a shard in position order.
func (m *Manager) shardHashes(conn *sqlite.Conn, shard issuance.Shard) ([]issuance.Hash, error) {
	day := bucketDay(shard.Bucket)
	if !m.partitionExists(day) {
		return nil, nil
	}
	var hashes []issuance.Hash
	err := sqlitex.Execute(conn,
		"SELECT payload_hash FROM "+partitionTable(day)+" WHERE shard_id = ? ORDER BY position",
		&sqlitex.ExecOptions{
			Args: []any{shard.ShardID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stmt.ColumnLen(0) != issuance.HashSize {
					return fmt.Errorf("shard %s: stored payload hash has %d bytes", shard.ShardID, stmt.ColumnLen(0))
				}
				var hash issuance.Hash
				stmt.ColumnBytes(0, hash[:])
				hashes = append(hashes, hash)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("reading hashes of %s: %w", shard.ShardID, err)
	}
	return hashes, nil
}

// SealElapsed seals every OPEN shard whose bucket window has ended and
// returns how many it sealed. A shard whose finalize fails is left
// SEALING and counted; RetryFinalize picks it up.
func (m *Manager) SealElapsed(ctx context.Context) (int, error) {
	now := m.clock.Now()
	open, err := m.ListShards(ctx, Filter{State: issuance.ShardOpen})
	if err != nil {
		return 0, err
	}

	sealed := 0
	var errs []error
	for _, shard := range open {
		start, err := BucketStart(shard.Bucket)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if now.Before(start.Add(m.timeBucket)) {
			continue
		}
		changed, err := m.sealShard(ctx, shard)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			sealed++
		}
	}
	return sealed, errors.Join(errs...)
}

// sealShard moves one OPEN shard to SEALING under its bucket lock and
// finalizes it. It reports false if the shard was no longer OPEN.
func (m *Manager) sealShard(ctx context.Context, shard issuance.Shard) (bool, error) {
	unlock, err := m.buckets.Lock(ctx, shard.Bucket)
	if err != nil {
		return false, storageError(ctx, "waiting for bucket "+shard.Bucket, err)
	}
	defer unlock()

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return false, storageError(ctx, "seal", err)
	}
	defer m.pool.Put(conn)

	err = func() (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)
		return markSealing(conn, shard.ShardID)
	}()
	if errors.Is(err, errShardNotOpen) {
		return false, nil
	}
	if err != nil {
		return false, storageError(ctx, "seal", err)
	}

	m.logger.Info("bucket window elapsed, sealing",
		"shard_id", shard.ShardID,
		"bucket", shard.Bucket,
	)
	if err := m.finalize(conn, shard.ShardID); err != nil {
		m.logger.Error("shard finalize failed, will retry",
			"shard_id", shard.ShardID,
			"error", err,
		)
	}
	return true, nil
}

// RetryFinalize finalizes every shard left SEALING by an earlier
// failure and returns how many it sealed.
func (m *Manager) RetryFinalize(ctx context.Context) (int, error) {
	sealing, err := m.ListShards(ctx, Filter{State: issuance.ShardSealing})
	if err != nil {
		return 0, err
	}

	finalized := 0
	var errs []error
	for _, shard := range sealing {
		if err := m.retryOne(ctx, shard); err != nil {
			errs = append(errs, fmt.Errorf("shard %s: %w", shard.ShardID, err))
			continue
		}
		finalized++
	}
	return finalized, errors.Join(errs...)
}

func (m *Manager) retryOne(ctx context.Context, shard issuance.Shard) error {
	unlock, err := m.buckets.Lock(ctx, shard.Bucket)
	if err != nil {
		return storageError(ctx, "waiting for bucket "+shard.Bucket, err)
	}
	defer unlock()

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return storageError(ctx, "finalize", err)
	}
	defer m.pool.Put(conn)
	return m.finalize(conn, shard.ShardID)
}

// Sweep runs SealElapsed then RetryFinalize. The daemon calls it on
// every sweep tick.
func (m *Manager) Sweep(ctx context.Context) error {
	sealed, sealErr := m.SealElapsed(ctx)
	finalized, retryErr := m.RetryFinalize(ctx)
	if sealed > 0 || finalized > 0 {
		m.logger.Info("seal sweep complete",
			"sealed", sealed,
			"finalized", finalized,
		)
	}
	return errors.Join(sealErr, retryErr)
}
