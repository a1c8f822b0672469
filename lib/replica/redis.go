// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink stores records in one Redis hash per shard, keyed by
// artifact id.
type RedisSink struct {
	addr   string
	client *redis.Client
}

// NewRedisSink connects to addr and verifies the connection.
func NewRedisSink(ctx context.Context, addr string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("replica: connecting to redis %s: %w", addr, err)
	}
	return &RedisSink{addr: addr, client: client}, nil
}

func shardKey(shardID string) string { return "stamp:shard:" + shardID }

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis:" + s.addr }

// Write implements Sink. All HSETNX commands go out in one pipeline.
func (s *RedisSink) Write(ctx context.Context, shardID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	key := shardKey(shardID)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, record := range records {
			pipe.HSetNX(ctx, key, record.ID, record.Data)
		}
		return nil
	})
	if err != nil {
		return writeError(ctx, s.Name(), err)
	}
	return nil
}

// Read returns the record data stored for shardID, keyed by id.
func (s *RedisSink) Read(ctx context.Context, shardID string) (map[string][]byte, error) {
	values, err := s.client.HGetAll(ctx, shardKey(shardID)).Result()
	if err != nil {
		return nil, writeError(ctx, s.Name(), err)
	}
	records := make(map[string][]byte, len(values))
	for id, value := range values {
		records[id] = []byte(value)
	}
	return records, nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
