// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// CanonicalVersion is the first element of every canonical form.
// Changing the element list requires a new version.
const CanonicalVersion = 1

// canonicalArtifact fixes element order via toarray.
type canonicalArtifact struct {
	_ struct{} `cbor:",toarray"`

	Version         uint64
	ID              string
	SubjectRef      string
	Category        string
	IssuedAt        string
	ExpiresAt       string
	BatchID         string
	SequenceInBatch uint64
}

// Timestamp renders t the way the canonical form does: UTC, whole
// seconds, RFC 3339 with a "Z" suffix.
func Timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Canonicalize returns the canonical serialization of every artifact
// field except the payload hash.
func Canonicalize(artifact issuance.Artifact) ([]byte, error) {
	if artifact.SequenceInBatch < 0 {
		return nil, fmt.Errorf("seal: negative sequence_in_batch %d", artifact.SequenceInBatch)
	}
	data, err := codec.Marshal(canonicalArtifact{
		Version:         CanonicalVersion,
		ID:              artifact.ID,
		SubjectRef:      artifact.SubjectRef,
		Category:        string(artifact.Category),
		IssuedAt:        Timestamp(artifact.IssuedAt),
		ExpiresAt:       Timestamp(artifact.ExpiresAt),
		BatchID:         artifact.BatchID,
		SequenceInBatch: uint64(artifact.SequenceInBatch),
	})
	if err != nil {
		return nil, fmt.Errorf("seal: canonicalize %s: %w", artifact.ID, err)
	}
	return data, nil
}
