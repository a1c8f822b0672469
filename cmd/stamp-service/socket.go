// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/stamp/lib/batch"
	"github.com/bureau-foundation/stamp/lib/clock"
	"github.com/bureau-foundation/stamp/lib/compress"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/service"
	"github.com/bureau-foundation/stamp/lib/shard"
	"github.com/bureau-foundation/stamp/lib/verify"
	"github.com/bureau-foundation/stamp/lib/version"
)

// defaultShardsLimit caps a "shards" listing when the request sets no
// limit.
const defaultShardsLimit = 100

// maxIssueRequests bounds one "issue" call. Larger runs are split by
// the caller.
const maxIssueRequests = 100_000

// StampService is the core service state.
type StampService struct {
	authority string
	generator *batch.Generator
	shards    *shard.Manager
	verifier  *verify.Service

	// export holds the configured bundle defaults.
	export shard.ExportOptions

	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// registerActions registers all socket API actions on the server.
func (s *StampService) registerActions(server *service.SocketServer) {
	server.Handle("status", s.handleStatus)

	server.Handle("issue", s.handleIssue)
	server.Handle("verify", s.handleVerify)

	server.Handle("shards", s.handleShards)
	server.Handle("shard", s.handleShard)
	server.Handle("stats", s.handleStats)
	server.Handle("export", s.handleExport)
}

func (s *StampService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	open, err := s.shards.ListShards(ctx, shard.Filter{State: issuance.ShardOpen})
	if err != nil {
		return nil, err
	}
	return issuance.StatusResponse{
		Authority:     s.authority,
		Version:       version.Info(),
		UptimeSeconds: int64(s.clock.Now().Sub(s.startedAt).Seconds()),
		OpenShards:    len(open),
		Replicas:      len(s.shards.Replicas()),
	}, nil
}

// handleIssue runs one batch. Per-request failures are reported inside
// the Batch; only a batch that could not run at all is an error.
func (s *StampService) handleIssue(ctx context.Context, raw []byte) (any, error) {
	var request issuance.IssueRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if len(request.Requests) > maxIssueRequests {
		return nil, fmt.Errorf("%w: %d requests exceeds the limit of %d per call",
			issuance.ErrInvalidRequest, len(request.Requests), maxIssueRequests)
	}
	return s.generator.Generate(ctx, request.Requests, batch.Options{
		BatchID: request.BatchID,
	})
}

func (s *StampService) handleVerify(ctx context.Context, raw []byte) (any, error) {
	var request issuance.VerifyRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}

	var (
		result verify.Result
		err    error
	)
	switch {
	case request.Claimed != nil && request.RawPayload != "":
		return nil, fmt.Errorf("%w: set one of claimed and raw_payload", issuance.ErrInvalidRequest)
	case request.Claimed != nil:
		result, err = s.verifier.Verify(ctx, request.Claimed.ID, *request.Claimed)
	case request.RawPayload != "":
		result, err = s.verifier.VerifyPayload(ctx, []byte(request.RawPayload))
	default:
		return nil, fmt.Errorf("%w: claimed or raw_payload is required", issuance.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	return issuance.VerifyResponse{
		Outcome: result.Outcome,
		Stored:  result.Stored,
	}, nil
}

func (s *StampService) handleShards(ctx context.Context, raw []byte) (any, error) {
	var request issuance.ShardsRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultShardsLimit
	}
	shards, err := s.shards.ListShards(ctx, shard.Filter{
		Bucket: request.Bucket,
		State:  request.State,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	if shards == nil {
		shards = []issuance.Shard{}
	}
	return issuance.ShardsResponse{Shards: shards}, nil
}

func (s *StampService) handleShard(ctx context.Context, raw []byte) (any, error) {
	var request issuance.ShardRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.ShardID == "" {
		return nil, errors.New("missing required field: shard_id")
	}
	return s.shards.Shard(ctx, request.ShardID)
}

func (s *StampService) handleStats(ctx context.Context, raw []byte) (any, error) {
	return s.shards.Stats(ctx, s.clock.Now())
}

// handleExport writes a bundle for a SEALED shard. Request fields
// override the configured compression and recipients.
func (s *StampService) handleExport(ctx context.Context, raw []byte) (any, error) {
	var request issuance.ExportRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.ShardID == "" {
		return nil, errors.New("missing required field: shard_id")
	}

	options := s.export
	if request.Compression != "" {
		tag, err := compress.ParseTag(request.Compression)
		if err != nil {
			return nil, err
		}
		options.Compression = tag
	}
	if len(request.Recipients) > 0 {
		options.Recipients = request.Recipients
	}
	return s.shards.Export(ctx, request.ShardID, options)
}
