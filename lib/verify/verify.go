// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify checks a claimed artifact payload against the stored
// artifact it names.
//
// Verification never mutates state. The outcome is one of
//
//   - NOT_FOUND: the id is malformed, belongs to another authority, or
//     names no stored artifact;
//   - EXPIRED: the stored artifact's expires_at has passed (checked
//     first, so an expired artifact is EXPIRED even if the claim was
//     altered; the stored record is returned for audit);
//   - MATCH or MISMATCH: the claim's fields, recanonicalized and
//     resealed, do or do not reproduce the stored payload hash.
//
// The payload does not carry sequence_in_batch; it is taken from the
// stored record. A claimed hash, when present, must also equal the
// stored hash. Every verification is logged as the scan audit trail.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/ident"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/seal"
)

// Lookup is the shard store's read path. shard.Manager implements it.
type Lookup interface {
	Lookup(ctx context.Context, id string) (issuance.StoredArtifact, bool, error)
}

// Result is the outcome of one verification. Stored is set for MATCH,
// MISMATCH, and EXPIRED.
type Result struct {
	Outcome issuance.Outcome
	Stored  *issuance.StoredArtifact
}

// Service verifies claimed payloads. Safe for concurrent use.
type Service struct {
	authority string
	store     Lookup
	sealer    *seal.Sealer
	clock     clock.Clock
	logger    *slog.Logger
}

// NewService returns a Service for identifiers issued by authority.
func NewService(authority string, store Lookup, sealer *seal.Sealer, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		authority: authority,
		store:     store,
		sealer:    sealer,
		clock:     clk,
		logger:    logger,
	}
}

// Verify checks claimed against the stored artifact with id. Only
// storage failures are errors.
func (s *Service) Verify(ctx context.Context, id string, claimed issuance.Payload) (Result, error) {
	result, err := s.verify(ctx, id, claimed)
	if err != nil {
		s.logger.Error("verification failed", "artifact_id", id, "error", err)
		return Result{}, err
	}
	s.logger.Info("artifact verified",
		"artifact_id", id,
		"outcome", string(result.Outcome),
	)
	return result, nil
}

func (s *Service) verify(ctx context.Context, id string, claimed issuance.Payload) (Result, error) {
	parsed, err := ident.ParseID(id)
	if err != nil || parsed.Authority != s.authority {
		return Result{Outcome: issuance.OutcomeNotFound}, nil
	}

	stored, found, err := s.store.Lookup(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("verify: %w", err)
	}
	if !found {
		return Result{Outcome: issuance.OutcomeNotFound}, nil
	}

	if s.clock.Now().After(stored.Artifact.ExpiresAt) {
		return Result{Outcome: issuance.OutcomeExpired, Stored: &stored}, nil
	}

	outcome := issuance.OutcomeMismatch
	if claimed.ID == id && s.matches(claimed, stored.Artifact) {
		outcome = issuance.OutcomeMatch
	}
	return Result{Outcome: outcome, Stored: &stored}, nil
}

// matches recomputes the hash of the claimed fields and compares it
// to the stored hash in constant time. Issued timestamps are whole
// seconds, so a claimed timestamp with a fractional second cannot be
// one of them; canonicalization would otherwise truncate it away.
func (s *Service) matches(claimed issuance.Payload, stored issuance.Artifact) bool {
	if !wholeSecond(claimed.IssuedAt) || !wholeSecond(claimed.ExpiresAt) {
		return false
	}
	if !claimed.Hash.IsZero() && !seal.Equal(claimed.Hash, stored.PayloadHash) {
		return false
	}
	hash, err := s.sealer.SealArtifact(build.Claimed(claimed, stored.SequenceInBatch))
	if err != nil {
		return false
	}
	return seal.Equal(hash, stored.PayloadHash)
}

func wholeSecond(t time.Time) bool {
	return t.Equal(t.Truncate(time.Second))
}

// VerifyPayload verifies a raw QR payload. A payload that does not
// parse is an issuance.ErrInvalidRequest error.
func (s *Service) VerifyPayload(ctx context.Context, data []byte) (Result, error) {
	payload, err := build.DecodePayload(data)
	if err != nil {
		s.logger.Info("unreadable payload presented", "error", err)
		return Result{}, err
	}
	return s.Verify(ctx, payload.ID, payload)
}
