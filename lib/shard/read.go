// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// Lookup returns the stored artifact with id. An id that does not
// parse, or whose day has no partition, is simply not found.
func (m *Manager) Lookup(ctx context.Context, id string) (issuance.StoredArtifact, bool, error) {
	parsed, err := ident.ParseID(id)
	if err != nil {
		return issuance.StoredArtifact{}, false, nil
	}
	if !m.partitionExists(parsed.Day) {
		return issuance.StoredArtifact{}, false, nil
	}

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return issuance.StoredArtifact{}, false, storageError(ctx, "lookup", err)
	}
	defer m.pool.Put(conn)

	stored, found, err := lookupInPartition(conn, parsed.Day, id)
	if err != nil {
		return issuance.StoredArtifact{}, false, storageError(ctx, "lookup", err)
	}
	return stored, found, nil
}

// Shard returns one shard's metadata. Unknown ids wrap
// ErrShardNotFound.
func (m *Manager) Shard(ctx context.Context, shardID string) (issuance.Shard, error) {
	conn, err := m.pool.Take(ctx)
	if err != nil {
		return issuance.Shard{}, storageError(ctx, "shard", err)
	}
	defer m.pool.Put(conn)

	shard, found, err := loadShard(conn, shardID)
	if err != nil {
		return issuance.Shard{}, storageError(ctx, "shard", err)
	}
	if !found {
		return issuance.Shard{}, fmt.Errorf("shard %s: %w", shardID, ErrShardNotFound)
	}
	return shard, nil
}

// Filter selects shards for ListShards. Zero fields match everything.
type Filter struct {
	Bucket string
	State  issuance.ShardState
	Limit  int
}

// ListShards returns matching shards, newest bucket and generation
// first.
func (m *Manager) ListShards(ctx context.Context, filter Filter) ([]issuance.Shard, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Bucket != "" {
		conditions = append(conditions, "bucket = ?")
		args = append(args, filter.Bucket)
	}
	if filter.State != "" {
		if !filter.State.Valid() {
			return nil, fmt.Errorf("%w: unknown shard state %q", issuance.ErrInvalidRequest, filter.State)
		}
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}

	query := "SELECT " + shardColumns + " FROM shards"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY bucket DESC, generation DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return nil, storageError(ctx, "list shards", err)
	}
	defer m.pool.Put(conn)

	shards, err := queryShards(conn, query, args...)
	if err != nil {
		return nil, storageError(ctx, "list shards", err)
	}
	return shards, nil
}

// Storage tier boundaries by bucket age.
const (
	hotTierAge  = 7 * 24 * time.Hour
	warmTierAge = 90 * 24 * time.Hour
)

// Tier returns the storage tier of a bucket starting at start, as of
// now.
func Tier(start, now time.Time) string {
	age := now.Sub(start)
	switch {
	case age <= hotTierAge:
		return issuance.TierHot
	case age <= warmTierAge:
		return issuance.TierWarm
	default:
		return issuance.TierCold
	}
}

// recentShardCount is how many shards Stats lists individually.
const recentShardCount = 20

// Stats summarizes the store as of now.
func (m *Manager) Stats(ctx context.Context, now time.Time) (issuance.Stats, error) {
	shards, err := m.ListShards(ctx, Filter{})
	if err != nil {
		return issuance.Stats{}, err
	}

	stats := issuance.Stats{
		ShardsByState: make(map[issuance.ShardState]int),
		ShardsByTier:  make(map[string]int),
	}
	for _, shard := range shards {
		stats.TotalArtifacts += int64(shard.ArtifactCount)
		stats.TotalBytes += shard.ByteSize
		stats.ShardsByState[shard.State]++

		tier := issuance.TierCold
		if start, err := BucketStart(shard.Bucket); err == nil {
			tier = Tier(start, now)
		}
		stats.ShardsByTier[tier]++
		if len(stats.Recent) < recentShardCount {
			stats.Recent = append(stats.Recent, issuance.ShardSummary{Shard: shard, Tier: tier})
		}
	}
	return stats, nil
}
