// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/stamp/lib/keylock"
)

// allocateScript allocates for each token in ARGV[2:] atomically.
// KEYS[1] holds the last sequence issued in the bucket, KEYS[2] maps
// tokens to sequences. ARGV[1] is the maximum sequence. Entries past
// the maximum are returned as 0.
var allocateScript = redis.NewScript(`
local last = tonumber(redis.call("GET", KEYS[1]) or "0")
local max = tonumber(ARGV[1])
local results = {}
for i = 2, #ARGV do
  local token = ARGV[i]
  local existing = false
  if token ~= "" then
    existing = redis.call("HGET", KEYS[2], token)
  end
  if existing then
    results[#results + 1] = tonumber(existing)
  elseif last >= max then
    results[#results + 1] = 0
  else
    last = redis.call("INCR", KEYS[1])
    if token ~= "" then
      redis.call("HSET", KEYS[2], token, last)
    end
    results[#results + 1] = last
  end
end
return results
`)

// RedisAllocator keeps counters in Redis. The script runs atomically
// on the server, so several stamp processes may share one counter
// space. Durability follows the server's persistence settings
// (appendfsync always for the same guarantee as SQLite FULL).
type RedisAllocator struct {
	client *redis.Client
	logger *slog.Logger
	locks  keylock.Map
}

// NewRedisAllocator connects to addr and checks the connection.
func NewRedisAllocator(ctx context.Context, addr string, logger *slog.Logger) (*RedisAllocator, error) {
	if addr == "" {
		return nil, errors.New("ident: redis addr is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storageError(ctx, "connecting to "+addr, err)
	}
	return &RedisAllocator{client: client, logger: logger}, nil
}

// Keys share the {bucket} hash tag so the script touches one slot.
func counterKey(bucket string) string { return "stamp:seq:{" + bucket + "}" }
func tokenKey(bucket string) string   { return "stamp:tok:{" + bucket + "}" }

// Allocate implements Allocator.
func (a *RedisAllocator) Allocate(ctx context.Context, bucket, token string) (int64, error) {
	return allocateOne(ctx, a, bucket, token)
}

// AllocateBatch implements Allocator.
func (a *RedisAllocator) AllocateBatch(ctx context.Context, bucket string, tokens []string) ([]int64, error) {
	if err := validateBucket(bucket); err != nil {
		return nil, fmt.Errorf("ident: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	// The script is atomic on its own; the local lock keeps this
	// process's batches contiguous with each other.
	unlock, err := a.locks.Lock(ctx, bucket)
	if err != nil {
		return nil, storageError(ctx, "waiting for bucket "+bucket, err)
	}
	defer unlock()

	args := make([]any, 0, len(tokens)+1)
	args = append(args, MaxSequence)
	for _, token := range tokens {
		args = append(args, token)
	}

	sequences, err := allocateScript.Run(ctx, a.client, []string{counterKey(bucket), tokenKey(bucket)}, args...).Int64Slice()
	if err != nil {
		return nil, storageError(ctx, "allocate", err)
	}
	if len(sequences) != len(tokens) {
		return nil, fmt.Errorf("ident: allocate: redis returned %d sequences for %d tokens", len(sequences), len(tokens))
	}

	exhausted := 0
	for _, sequence := range sequences {
		if sequence == 0 {
			exhausted++
		}
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

// Close closes the Redis client.
func (a *RedisAllocator) Close() error {
	return a.client.Close()
}
