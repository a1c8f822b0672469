// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import "time"

// ShardState is a shard lifecycle state. Transitions are
// OPEN → SEALING → SEALED; SEALED is terminal.
type ShardState string

const (
	ShardOpen    ShardState = "OPEN"
	ShardSealing ShardState = "SEALING"
	ShardSealed  ShardState = "SEALED"
)

// Valid reports whether s is a known state.
func (s ShardState) Valid() bool {
	switch s {
	case ShardOpen, ShardSealing, ShardSealed:
		return true
	}
	return false
}

// Shard describes one append-only storage segment.
type Shard struct {
	// ShardID is "<bucket>-<generation>", e.g. "2026101609-0002".
	ShardID string `json:"shard_id"`

	// Bucket is the time bucket key: YYYYMMDDHH, or YYYYMMDDHHMM for
	// sub-hour buckets.
	Bucket     string `json:"bucket"`
	Generation int    `json:"generation"`

	State         ShardState `json:"state"`
	ByteSize      int64      `json:"byte_size"`
	MaxBytes      int64      `json:"max_bytes"`
	ArtifactCount int        `json:"artifact_count"`

	OpenedAt time.Time `json:"opened_at"`
	SealedAt time.Time `json:"sealed_at,omitzero"`

	// Checksum is set when the shard is SEALED.
	Checksum Hash `json:"checksum,omitzero"`
}

// Storage tiers by bucket age.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"
)

// ShardSummary is a shard with its storage tier.
type ShardSummary struct {
	Shard Shard  `json:"shard"`
	Tier  string `json:"tier"`
}

// Stats summarizes the shard store.
type Stats struct {
	TotalArtifacts int64              `json:"total_artifacts"`
	TotalBytes     int64              `json:"total_bytes"`
	ShardsByState  map[ShardState]int `json:"shards_by_state"`
	ShardsByTier   map[string]int     `json:"shards_by_tier"`
	Recent         []ShardSummary     `json:"recent"`
}

// Bundle describes an exported shard bundle file.
type Bundle struct {
	ShardID       string    `json:"shard_id"`
	Bucket        string    `json:"bucket"`
	ArtifactCount int       `json:"artifact_count"`
	ByteSize      int64     `json:"byte_size"`
	Checksum      Hash      `json:"checksum"`
	SealedAt      time.Time `json:"sealed_at"`

	Path        string `json:"path"`
	Compression string `json:"compression"`
	Encrypted   bool   `json:"encrypted"`

	// FileHash is the BLAKE3 hash of the bundle file as written.
	FileHash Hash `json:"file_hash"`
}
