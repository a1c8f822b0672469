// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"
)

func TestEstimateCapacity(t *testing.T) {
	estimate := estimateCapacity(capacityInput{
		PerDay:      2_400_000,
		RecordBytes: 250,
		MaxBytes:    10_000_000,
		TimeBucket:  time.Hour,
		Replication: 3,
		HotDays:     7,
	})

	if estimate.BytesPerDay != 600_000_000 {
		t.Errorf("BytesPerDay = %d, want 600000000", estimate.BytesPerDay)
	}
	// 100,000 records per hour at 40,000 records per shard.
	if estimate.BytesPerBucket != 25_000_000 {
		t.Errorf("BytesPerBucket = %d, want 25000000", estimate.BytesPerBucket)
	}
	if estimate.ShardsPerBucket != 3 || estimate.ShardsPerDay != 72 {
		t.Errorf("shards = %d per bucket, %d per day; want 3, 72", estimate.ShardsPerBucket, estimate.ShardsPerDay)
	}
	if estimate.ReplicatedDay != 1_800_000_000 {
		t.Errorf("ReplicatedDay = %d", estimate.ReplicatedDay)
	}
	if estimate.HotTierBytes != 12_600_000_000 {
		t.Errorf("HotTierBytes = %d", estimate.HotTierBytes)
	}
	if estimate.PerSecond < 27.7 || estimate.PerSecond > 27.8 {
		t.Errorf("PerSecond = %f", estimate.PerSecond)
	}
}

func TestEstimateCapacityOneShardMinimum(t *testing.T) {
	estimate := estimateCapacity(capacityInput{
		PerDay:      24,
		RecordBytes: 200,
		MaxBytes:    1 << 20,
		TimeBucket:  time.Hour,
		Replication: 1,
	})
	if estimate.ShardsPerBucket != 1 || estimate.ShardsPerDay != 24 {
		t.Errorf("shards = %d per bucket, %d per day; want 1, 24", estimate.ShardsPerBucket, estimate.ShardsPerDay)
	}

	idle := estimateCapacity(capacityInput{
		PerDay:      0,
		RecordBytes: 200,
		MaxBytes:    1 << 20,
		TimeBucket:  time.Hour,
		Replication: 1,
	})
	if idle.ShardsPerDay != 0 {
		t.Errorf("idle load needs %d shards, want 0", idle.ShardsPerDay)
	}
}

func TestEstimateCapacitySequenceUse(t *testing.T) {
	estimate := estimateCapacity(capacityInput{
		PerDay:      maxSequencePerDay * 2,
		RecordBytes: 200,
		MaxBytes:    1 << 30,
		TimeBucket:  time.Hour,
		Replication: 3,
	})
	if estimate.SequenceUse != 2 {
		t.Errorf("SequenceUse = %f, want 2", estimate.SequenceUse)
	}
}

func TestSampleRecordBytes(t *testing.T) {
	size, err := sampleRecordBytes()
	if err != nil {
		t.Fatalf("sampleRecordBytes: %v", err)
	}
	// Field names, a 64-character hex hash, and two timestamps.
	if size < 200 || size > 600 {
		t.Errorf("sample record is %d bytes, outside the plausible range", size)
	}
}
