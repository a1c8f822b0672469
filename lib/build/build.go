// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package build turns a validated issuance request and an allocated
// identifier into a sealed artifact, and renders artifacts as the
// external QR payload.
//
// Building does no I/O and never blocks.
package build

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/seal"
)

// Provenance records where an artifact came from.
type Provenance struct {
	BatchID         string
	SequenceInBatch int
}

// Builder assembles and seals artifacts. Safe for concurrent use.
type Builder struct {
	sealer *seal.Sealer
	clock  clock.Clock
}

// NewBuilder returns a Builder that seals with sealer and stamps
// issue times from clk.
func NewBuilder(sealer *seal.Sealer, clk clock.Clock) *Builder {
	return &Builder{sealer: sealer, clock: clk}
}

// Build validates request and returns the sealed artifact for id,
// issued now. Errors wrap issuance.ErrInvalidRequest; no artifact is
// returned on failure.
func (b *Builder) Build(request issuance.Request, id string, provenance Provenance) (issuance.Artifact, error) {
	return b.BuildAt(request, id, provenance, b.clock.Now())
}

// BuildAt is Build with an explicit issue time. Callers that allocate
// identifiers from the issue day use it so the id's day and issued_at
// agree.
func (b *Builder) BuildAt(request issuance.Request, id string, provenance Provenance, issuedAt time.Time) (issuance.Artifact, error) {
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	if err := request.Validate(issuedAt); err != nil {
		return issuance.Artifact{}, err
	}
	if id == "" {
		return issuance.Artifact{}, fmt.Errorf("%w: empty artifact id", issuance.ErrInvalidRequest)
	}
	expiresAt := request.ExpiresAt.UTC().Truncate(time.Second)
	if !expiresAt.After(issuedAt) {
		// Sub-second expiry collapses onto the issue second.
		return issuance.Artifact{}, fmt.Errorf("%w: expires_at %s is not after issue time %s",
			issuance.ErrInvalidRequest, seal.Timestamp(expiresAt), seal.Timestamp(issuedAt))
	}

	artifact := issuance.Artifact{
		ID:              id,
		SubjectRef:      request.SubjectRef,
		Category:        request.Category,
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
		BatchID:         provenance.BatchID,
		SequenceInBatch: provenance.SequenceInBatch,
	}
	hash, err := b.sealer.SealArtifact(artifact)
	if err != nil {
		return issuance.Artifact{}, fmt.Errorf("%w: %w", issuance.ErrInvalidRequest, err)
	}
	artifact.PayloadHash = hash
	return artifact, nil
}

// Payload renders the external payload for artifact.
func Payload(artifact issuance.Artifact) issuance.Payload {
	return issuance.Payload{
		ID:         artifact.ID,
		SubjectRef: artifact.SubjectRef,
		Category:   artifact.Category,
		IssuedAt:   artifact.IssuedAt.UTC(),
		ExpiresAt:  artifact.ExpiresAt.UTC(),
		Hash:       artifact.PayloadHash,
		BatchID:    artifact.BatchID,
	}
}

// EncodePayload renders artifact as compact JSON with keys in the
// fixed payload order. This is the QR content.
func EncodePayload(artifact issuance.Artifact) ([]byte, error) {
	data, err := json.Marshal(Payload(artifact))
	if err != nil {
		return nil, fmt.Errorf("build: encoding payload for %s: %w", artifact.ID, err)
	}
	return data, nil
}

// DecodePayload parses a QR payload. Unknown keys are rejected.
func DecodePayload(data []byte) (issuance.Payload, error) {
	var payload issuance.Payload
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return issuance.Payload{}, fmt.Errorf("%w: decoding payload: %w", issuance.ErrInvalidRequest, err)
	}
	if payload.ID == "" {
		return issuance.Payload{}, fmt.Errorf("%w: payload has no id", issuance.ErrInvalidRequest)
	}
	return payload, nil
}

// Claimed reconstructs the artifact fields a payload asserts. The
// payload does not carry sequence_in_batch, so the caller supplies it
// from stored provenance.
func Claimed(payload issuance.Payload, sequenceInBatch int) issuance.Artifact {
	return issuance.Artifact{
		ID:              payload.ID,
		SubjectRef:      payload.SubjectRef,
		Category:        payload.Category,
		IssuedAt:        payload.IssuedAt,
		ExpiresAt:       payload.ExpiresAt,
		BatchID:         payload.BatchID,
		SequenceInBatch: sequenceInBatch,
		PayloadHash:     payload.Hash,
	}
}
