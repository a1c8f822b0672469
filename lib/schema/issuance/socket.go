// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

// Request and response bodies of the stamp service socket actions.

// IssueRequest is the body of the "issue" action. The response is a
// Batch.
type IssueRequest struct {
	Requests []Request `json:"requests"`

	// BatchID names the batch. Resubmitting an interrupted batch
	// under its original id yields the same identifiers.
	BatchID string `json:"batch_id,omitempty"`
}

// VerifyRequest is the body of the "verify" action. Exactly one of
// Claimed and RawPayload is set; RawPayload is the JSON text scanned
// from a QR code.
type VerifyRequest struct {
	Claimed    *Payload `json:"claimed,omitempty"`
	RawPayload string   `json:"raw_payload,omitempty"`
}

// VerifyResponse is the response of the "verify" action. Stored is
// present for MATCH, MISMATCH, and EXPIRED.
type VerifyResponse struct {
	Outcome Outcome         `json:"outcome"`
	Stored  *StoredArtifact `json:"stored,omitempty"`
}

// ShardsRequest is the body of the "shards" action. Zero fields are
// not applied as filters.
type ShardsRequest struct {
	Bucket string     `json:"bucket,omitempty"`
	State  ShardState `json:"state,omitempty"`

	// Limit caps the number of shards returned, newest first.
	// Default 100.
	Limit int `json:"limit,omitempty"`
}

// ShardsResponse is the response of the "shards" action.
type ShardsResponse struct {
	Shards []Shard `json:"shards"`
}

// ShardRequest is the body of the "shard" action. The response is a
// Shard.
type ShardRequest struct {
	ShardID string `json:"shard_id"`
}

// ExportRequest is the body of the "export" action. Empty fields fall
// back to the service's export configuration. The response is a
// Bundle.
type ExportRequest struct {
	ShardID     string   `json:"shard_id"`
	Compression string   `json:"compression,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
}

// StatusResponse is the response of the "status" action.
type StatusResponse struct {
	Authority     string `json:"authority"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenShards    int    `json:"open_shards"`
	Replicas      int    `json:"replicas"`
}
