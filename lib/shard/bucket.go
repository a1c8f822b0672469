// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	hourLayout   = "2006010215"
	minuteLayout = "200601021504"
)

func validateTimeBucket(width time.Duration) error {
	if width < time.Minute || (24*time.Hour)%width != 0 {
		return fmt.Errorf("shard: time bucket %s must be at least 1m and divide 24h", width)
	}
	return nil
}

// BucketKey returns the bucket containing t: YYYYMMDDHH for buckets of
// an hour or more, YYYYMMDDHHMM for shorter ones.
func BucketKey(t time.Time, width time.Duration) string {
	start := t.UTC().Truncate(width)
	if width%time.Hour == 0 {
		return start.Format(hourLayout)
	}
	return start.Format(minuteLayout)
}

// BucketKey returns the bucket containing t under the manager's
// bucket width.
func (m *Manager) BucketKey(t time.Time) string {
	return BucketKey(t, m.timeBucket)
}

// BucketStart parses a bucket key back to its start time.
func BucketStart(bucket string) (time.Time, error) {
	switch len(bucket) {
	case len(hourLayout):
		return time.ParseInLocation(hourLayout, bucket, time.UTC)
	case len(minuteLayout):
		return time.ParseInLocation(minuteLayout, bucket, time.UTC)
	}
	return time.Time{}, fmt.Errorf("shard: malformed bucket key %q", bucket)
}

// bucketDay returns the YYYYMMDD partition suffix of a bucket.
func bucketDay(bucket string) string {
	return bucket[:8]
}

// FormatShardID returns "<bucket>-<generation>" with a four-digit
// generation.
func FormatShardID(bucket string, generation int) string {
	return fmt.Sprintf("%s-%04d", bucket, generation)
}

// ParseShardID splits a shard id into bucket and generation.
func ParseShardID(shardID string) (bucket string, generation int, err error) {
	bucket, digits, ok := strings.Cut(shardID, "-")
	if !ok || len(digits) < 4 {
		return "", 0, fmt.Errorf("shard: malformed shard id %q", shardID)
	}
	if _, err := BucketStart(bucket); err != nil {
		return "", 0, err
	}
	generation, err = strconv.Atoi(digits)
	if err != nil || generation < 1 {
		return "", 0, fmt.Errorf("shard: malformed generation in shard id %q", shardID)
	}
	return bucket, generation, nil
}
