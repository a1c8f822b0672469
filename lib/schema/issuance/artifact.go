// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"fmt"
	"time"
)

// Request is one inbound issuance request.
type Request struct {
	// SubjectRef is an opaque reference to the certified subject
	// (person or product). Never interpreted or mutated.
	SubjectRef string `json:"subject_ref"`

	Category Category `json:"category"`

	// ExpiresAt must be after the issue time.
	ExpiresAt time.Time `json:"expires_at"`

	// Token is the client idempotency token. A retried request with
	// the same token receives the same identifier. When empty, the
	// batch generator derives one from the batch id and position.
	Token string `json:"token,omitempty"`
}

// Validate checks the request against the issue time now. Errors wrap
// ErrInvalidRequest.
func (r *Request) Validate(now time.Time) error {
	if r.SubjectRef == "" {
		return fmt.Errorf("%w: subject_ref is required", ErrInvalidRequest)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Category)
	}
	if r.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: expires_at is required", ErrInvalidRequest)
	}
	if !r.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at %s is not after issue time %s",
			ErrInvalidRequest, r.ExpiresAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	return nil
}

// Artifact is one issued, sealed artifact. Artifacts are immutable
// once built.
type Artifact struct {
	// ID is "authority-YYYYMMDD-NNNNNNNN" (see lib/ident).
	ID string `json:"id"`

	SubjectRef string   `json:"subject_ref"`
	Category   Category `json:"category"`

	// IssuedAt and ExpiresAt are UTC with second precision.
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// BatchID and SequenceInBatch record provenance: the batch that
	// produced the artifact and the request position within it.
	BatchID         string `json:"batch_id"`
	SequenceInBatch int    `json:"sequence_in_batch"`

	// PayloadHash seals every other field (see lib/seal).
	PayloadHash Hash `json:"payload_hash"`
}

// Placement is where a stored artifact lives.
type Placement struct {
	ShardID string `json:"shard_id"`

	// Position is the zero-based append position within the shard.
	Position int `json:"position"`
}

// StoredArtifact is an artifact as read back from the shard store.
type StoredArtifact struct {
	Artifact  Artifact  `json:"artifact"`
	Placement Placement `json:"placement"`
}

// Payload is the external artifact payload encoded into the QR code.
// Field order is the serialization order and must not change.
type Payload struct {
	ID         string    `json:"id"`
	SubjectRef string    `json:"subject_ref"`
	Category   Category  `json:"category"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Hash       Hash      `json:"hash"`
	BatchID    string    `json:"batch_id"`
}

// Outcome is the result of verifying a claimed payload.
type Outcome string

const (
	OutcomeMatch    Outcome = "MATCH"
	OutcomeMismatch Outcome = "MISMATCH"
	OutcomeNotFound Outcome = "NOT_FOUND"
	OutcomeExpired  Outcome = "EXPIRED"
)
