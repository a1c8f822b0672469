// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/replica"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// errShardNotOpen reports that the shard an append planned to extend
// left the OPEN state between planning and commit.
var errShardNotOpen = errors.New("resolved shard is no longer open")

// plannedShard is one shard touched by an append, with its state after
// the append.
type plannedShard struct {
	shard   issuance.Shard
	isNew   bool
	seal    bool
	indices []int // positions in the append's input
}

// Append stores artifacts in the OPEN shard of the bucket containing
// bucketTime and returns where each one lives. Every artifact must
// have been issued within that bucket.
//
// An artifact whose id is already stored is not written again; its
// result is the stored artifact and placement. When a record would
// push the OPEN shard past capacity, that shard is sealed and the
// remaining records go to the next generation.
//
// Errors: issuance.ErrInvalidRequest for artifacts outside the bucket
// or too large for any shard, issuance.ErrReplicationIncomplete when
// fewer than a quorum of replicas acknowledge, issuance.ErrTimeout on
// deadline, and issuance.ErrStorageUnavailable when the primary store
// fails. On error nothing is committed to the primary.
func (m *Manager) Append(ctx context.Context, bucketTime time.Time, artifacts ...issuance.Artifact) ([]issuance.StoredArtifact, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}

	bucket := m.BucketKey(bucketTime)
	day := bucketDay(bucket)
	records := make([][]byte, len(artifacts))
	for i, artifact := range artifacts {
		data, err := m.encodeForBucket(artifact, bucket, day)
		if err != nil {
			return nil, err
		}
		records[i] = data
	}

	unlock, err := m.buckets.Lock(ctx, bucket)
	if err != nil {
		return nil, storageError(ctx, "waiting for bucket "+bucket, err)
	}
	defer unlock()

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return nil, storageError(ctx, "append", err)
	}
	defer m.pool.Put(conn)

	if err := m.ensurePartition(conn, day); err != nil {
		return nil, storageError(ctx, "append", err)
	}

	results, err := m.appendLocked(ctx, conn, bucket, day, artifacts, records)
	if errors.Is(err, errShardNotOpen) {
		m.logger.Warn("open shard changed state during append, retrying with next generation",
			"bucket", bucket,
		)
		results, err = m.appendLocked(ctx, conn, bucket, day, artifacts, records)
		if errors.Is(err, errShardNotOpen) {
			return nil, fmt.Errorf("shard: bucket %s: %w: %w", bucket, issuance.ErrStorageUnavailable, err)
		}
	}
	return results, err
}

// encodeForBucket checks that artifact belongs to bucket and returns
// its stored record.
func (m *Manager) encodeForBucket(artifact issuance.Artifact, bucket, day string) ([]byte, error) {
	if got := m.BucketKey(artifact.IssuedAt); got != bucket {
		return nil, fmt.Errorf("%w: artifact %s issued in bucket %s, not %s",
			issuance.ErrInvalidRequest, artifact.ID, got, bucket)
	}
	id, err := ident.ParseID(artifact.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", issuance.ErrInvalidRequest, err)
	}
	if id.Day != day {
		return nil, fmt.Errorf("%w: artifact %s does not belong to day %s",
			issuance.ErrInvalidRequest, artifact.ID, day)
	}
	data, err := codec.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("shard: encoding %s: %w", artifact.ID, err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, fmt.Errorf("%w: artifact %s record is %d bytes, shard capacity is %d",
			issuance.ErrInvalidRequest, artifact.ID, len(data), m.maxBytes)
	}
	return data, nil
}

func (m *Manager) appendLocked(ctx context.Context, conn *sqlite.Conn, bucket, day string, artifacts []issuance.Artifact, records [][]byte) ([]issuance.StoredArtifact, error) {
	results := make([]issuance.StoredArtifact, len(artifacts))

	// Already stored, or repeated within this call.
	firstIndex := make(map[string]int, len(artifacts))
	var pending []int
	for i, artifact := range artifacts {
		if _, ok := firstIndex[artifact.ID]; ok {
			continue
		}
		firstIndex[artifact.ID] = i
		existing, found, err := lookupInPartition(conn, day, artifact.ID)
		if err != nil {
			return nil, storageError(ctx, "append", err)
		}
		if found {
			results[i] = existing
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		plan, err := m.plan(conn, bucket, pending, artifacts, records, results)
		if err != nil {
			return nil, storageError(ctx, "planning append", err)
		}

		if err := m.replicate(ctx, plan, artifacts, records); err != nil {
			return nil, err
		}

		if err := m.commit(conn, day, plan, artifacts, records); err != nil {
			if errors.Is(err, errShardNotOpen) {
				return nil, err
			}
			return nil, storageError(ctx, "commit", err)
		}

		for _, planned := range plan {
			if planned.isNew {
				m.logger.Info("shard opened", "shard_id", planned.shard.ShardID, "bucket", bucket)
			}
			if planned.seal {
				m.logger.Info("shard full, sealing",
					"shard_id", planned.shard.ShardID,
					"byte_size", planned.shard.ByteSize,
					"artifact_count", planned.shard.ArtifactCount,
				)
				if err := m.finalize(conn, planned.shard.ShardID); err != nil {
					m.logger.Error("shard finalize failed, will retry",
						"shard_id", planned.shard.ShardID,
						"error", err,
					)
				}
			}
		}
	}

	for i, artifact := range artifacts {
		if first := firstIndex[artifact.ID]; first != i {
			results[i] = results[first]
		}
	}
	return results, nil
}

// plan assigns a placement to each pending record, rolling to new
// generations precisely before any record that would exceed capacity.
// Placements are written into results.
func (m *Manager) plan(conn *sqlite.Conn, bucket string, pending []int, artifacts []issuance.Artifact, records [][]byte, results []issuance.StoredArtifact) ([]*plannedShard, error) {
	generation, err := maxGeneration(conn, bucket)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now().UTC()
	openNext := func() *plannedShard {
		generation++
		return &plannedShard{
			isNew: true,
			shard: issuance.Shard{
				ShardID:    FormatShardID(bucket, generation),
				Bucket:     bucket,
				Generation: generation,
				State:      issuance.ShardOpen,
				MaxBytes:   m.maxBytes,
				OpenedAt:   now,
			},
		}
	}

	var current *plannedShard
	open, found, err := loadOpenShard(conn, bucket)
	if err != nil {
		return nil, err
	}
	if found {
		current = &plannedShard{shard: open}
	} else {
		current = openNext()
	}
	plan := []*plannedShard{current}

	for _, index := range pending {
		size := int64(len(records[index]))
		if current.shard.ByteSize+size > current.shard.MaxBytes {
			current.seal = true
			current = openNext()
			plan = append(plan, current)
		}
		results[index] = issuance.StoredArtifact{
			Artifact: artifacts[index],
			Placement: issuance.Placement{
				ShardID:  current.shard.ShardID,
				Position: current.shard.ArtifactCount,
			},
		}
		current.shard.ByteSize += size
		current.shard.ArtifactCount++
		current.indices = append(current.indices, index)
	}
	return plan, nil
}

// replicate writes the planned records to every replica in parallel
// and waits for all of them. It fails unless a quorum acknowledged.
func (m *Manager) replicate(ctx context.Context, plan []*plannedShard, artifacts []issuance.Artifact, records [][]byte) error {
	if len(m.replicas) == 0 {
		return nil
	}

	type shardRecords struct {
		shardID string
		records []replica.Record
	}
	var groups []shardRecords
	for _, planned := range plan {
		if len(planned.indices) == 0 {
			continue
		}
		group := shardRecords{shardID: planned.shard.ShardID}
		base := planned.shard.ArtifactCount - len(planned.indices)
		for offset, index := range planned.indices {
			group.records = append(group.records, replica.Record{
				ID:       artifacts[index].ID,
				Position: base + offset,
				Data:     records[index],
			})
		}
		groups = append(groups, group)
	}

	errs := make([]error, len(m.replicas))
	var waitGroup sync.WaitGroup
	for i, sink := range m.replicas {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for _, group := range groups {
				if err := sink.Write(ctx, group.shardID, group.records); err != nil {
					errs[i] = err
					return
				}
			}
		}()
	}
	waitGroup.Wait()

	acknowledged := 0
	var failures []error
	for i, err := range errs {
		if err == nil {
			acknowledged++
			continue
		}
		m.logger.Warn("replica write failed",
			"destination", m.replicas[i].Name(),
			"error", err,
		)
		failures = append(failures, err)
	}
	if acknowledged >= m.Quorum() {
		return nil
	}

	joined := errors.Join(failures...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("shard: replication: %w: %w", issuance.ErrTimeout, joined)
	}
	return fmt.Errorf("shard: %d of %d replicas acknowledged, quorum is %d: %w: %w",
		acknowledged, len(m.replicas), m.Quorum(), issuance.ErrReplicationIncomplete, joined)
}

// commit writes the plan to the primary in one transaction.
func (m *Manager) commit(conn *sqlite.Conn, day string, plan []*plannedShard, artifacts []issuance.Artifact, records [][]byte) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endTransaction(&err)

	insertArtifact := "INSERT INTO " + partitionTable(day) +
		" (id, shard_id, position, expires_at, payload_hash, record) VALUES (?, ?, ?, ?, ?, ?)"

	for _, planned := range plan {
		shard := planned.shard
		if planned.isNew {
			err = sqlitex.Execute(conn, `INSERT INTO shards
				(shard_id, bucket, generation, state, byte_size, max_bytes, artifact_count, opened_at)
				VALUES (?, ?, ?, 'OPEN', ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					shard.ShardID, shard.Bucket, shard.Generation,
					shard.ByteSize, shard.MaxBytes, shard.ArtifactCount, shard.OpenedAt.UnixNano(),
				}})
			if err != nil {
				return fmt.Errorf("opening shard %s: %w", shard.ShardID, err)
			}
		} else {
			err = sqlitex.Execute(conn,
				"UPDATE shards SET byte_size = ?, artifact_count = ? WHERE shard_id = ? AND state = 'OPEN'",
				&sqlitex.ExecOptions{Args: []any{shard.ByteSize, shard.ArtifactCount, shard.ShardID}})
			if err != nil {
				return fmt.Errorf("updating shard %s: %w", shard.ShardID, err)
			}
			if conn.Changes() == 0 {
				return fmt.Errorf("shard %s: %w", shard.ShardID, errShardNotOpen)
			}
		}

		base := shard.ArtifactCount - len(planned.indices)
		for offset, index := range planned.indices {
			artifact := artifacts[index]
			err = sqlitex.Execute(conn, insertArtifact, &sqlitex.ExecOptions{Args: []any{
				artifact.ID, shard.ShardID, base + offset, artifact.ExpiresAt.Unix(),
				artifact.PayloadHash[:], records[index],
			}})
			if err != nil {
				return fmt.Errorf("inserting %s: %w", artifact.ID, err)
			}
		}

		if planned.seal {
			if err = markSealing(conn, shard.ShardID); err != nil {
				return err
			}
		}
	}
	return nil
}

func markSealing(conn *sqlite.Conn, shardID string) error {
	err := sqlitex.Execute(conn,
		"UPDATE shards SET state = 'SEALING' WHERE shard_id = ? AND state = 'OPEN'",
		&sqlitex.ExecOptions{Args: []any{shardID}})
	if err != nil {
		return fmt.Errorf("sealing shard %s: %w", shardID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("shard %s: %w", shardID, errShardNotOpen)
	}
	return nil
}

// lookupInPartition reads one artifact by id from a day partition.
func lookupInPartition(conn *sqlite.Conn, day, id string) (issuance.StoredArtifact, bool, error) {
	var (
		stored issuance.StoredArtifact
		found  bool
		decode error
	)
	err := sqlitex.Execute(conn,
		"SELECT shard_id, position, record FROM "+partitionTable(day)+" WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				stored.Placement = issuance.Placement{
					ShardID:  stmt.ColumnText(0),
					Position: stmt.ColumnInt(1),
				}
				record := make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, record)
				decode = codec.Unmarshal(record, &stored.Artifact)
				return nil
			},
		})
	if err != nil {
		return issuance.StoredArtifact{}, false, err
	}
	if decode != nil {
		return issuance.StoredArtifact{}, false, fmt.Errorf("decoding stored %s: %w", id, decode)
	}
	return stored, found, nil
}
