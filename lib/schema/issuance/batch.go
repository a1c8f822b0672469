// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import "time"

// Batch is the result of one batch generation run. Every request
// yields exactly one entry in Succeeded or Failed; both are sorted by
// request position.
type Batch struct {
	BatchID        string `json:"batch_id"`
	RequestedCount int    `json:"requested_count"`

	Succeeded []Issued  `json:"succeeded"`
	Failed    []Failure `json:"failed"`

	// SubBatches is the number of sub-batches dispatched to workers.
	// Sub-batches skipped after cancellation or a storage failure are
	// not counted.
	SubBatches int `json:"sub_batches"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Complete reports whether every request has an outcome.
func (b *Batch) Complete() bool {
	return len(b.Succeeded)+len(b.Failed) == b.RequestedCount
}

// Issued is a successful outcome.
type Issued struct {
	// Position is the zero-based index of the originating request.
	Position int `json:"position"`

	Artifact  Artifact  `json:"artifact"`
	Placement Placement `json:"placement"`
}

// Failure is a failed outcome. Kind is one of the Kind* constants.
type Failure struct {
	Position  int     `json:"position"`
	Request   Request `json:"request"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	Retryable bool    `json:"retryable"`
}

// NewFailure builds a Failure from err.
func NewFailure(position int, request Request, err error) Failure {
	kind := FailureKind(err)
	return Failure{
		Position:  position,
		Request:   request,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: RetryableKind(kind),
	}
}
